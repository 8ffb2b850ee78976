// Package httpclient はデプロイ済みのHTTP APIを呼び出すクライアントを提供する。
//
// stack verify コマンドがルートの応答とCORSのプリフライトを確認するために使う。
// ベアラートークンはコンテキスト経由でAuthorizationヘッダーに設定する。
package httpclient
