// Package gateway はHTTP APIのエントリーゲートウェイをローカルで再現する。
//
// 構成されたルートごとにCORSの確認、オーソライザー関数の呼び出し、
// ルートハンドラー関数の呼び出しを順に行う。関数の呼び出しはペイロード形式2.0の
// イベントで行い、プロセス内のハンドラーまたはデプロイ済みのLambda関数を使う。
// 判定が拒否の場合、ルートハンドラーは呼び出されない。
package gateway
