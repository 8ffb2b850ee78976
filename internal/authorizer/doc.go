// Package authorizer はHTTP APIのリクエストオーソライザーを提供する。
//
// オーソライザーはリクエストの資格情報のみから {"isAuthorized": bool} 形式の
// 判定を返す。検証に失敗した場合や資格情報がない場合は拒否する。
// 資格情報を検証しない AllowAll は既知の欠陥として明示的なモード指定でのみ使える。
package authorizer
