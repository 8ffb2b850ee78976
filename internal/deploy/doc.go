// Package deploy はスタックをAWS上にプロビジョニングする。
//
// 2つのLambda関数、CORS付きのHTTP API、リクエストオーソライザー、
// AWS_PROXY統合、ルート、自動デプロイのステージを作成し、APIのエンドポイントを
// 出力 "API" として公開する。作成したリソースの識別子は状態ストアに保存し、
// 再デプロイ時は既存のリソースを更新する。
package deploy
