// Package middleware はゲートウェイのGinエンジンで使用する共通ミドルウェアを提供する。
//
// CORSプリフライトへの応答、リクエストログ、パニックリカバリを含む。
// オーソライザーによる認可はルートごとの構成に依存するため internal/gateway 側で行う。
package middleware
