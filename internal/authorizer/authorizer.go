package authorizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/pkg/token"
)

// bearerPrefix はAuthorizationヘッダーのBearerスキーム。
const bearerPrefix = "Bearer "

var (
	// ErrMissingToken はリクエストにベアラートークンが含まれていない場合のエラー。
	ErrMissingToken = errors.New("ベアラートークンがありません")
	// ErrUnknownMode は未対応のオーソライザーモードが指定された場合のエラー。
	ErrUnknownMode = errors.New("未対応のオーソライザーモードです")
)

// Request はオーソライザーが判定に使うリクエスト情報。
type Request struct {
	RouteArn string
	RouteKey string
	// Headers はリクエストヘッダー。キーの大文字小文字は区別しない。
	Headers map[string]string
	// IdentitySource は構成されたアイデンティティソースの実際の値。
	IdentitySource []string
}

// Header は名前の大文字小文字を区別せずにヘッダー値を返す。
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Identity は検証済みの呼び出し元。
type Identity struct {
	Subject string
	Email   string
}

// Verdict はオーソライザーの判定結果。
type Verdict struct {
	IsAuthorized bool
	// Context は許可時にルートハンドラーへ引き継ぐ値。
	Context map[string]any
}

// Deny は拒否の判定を返す。
func Deny() Verdict {
	return Verdict{IsAuthorized: false}
}

// Allow は識別情報を引き継ぐ許可の判定を返す。
func Allow(id Identity) Verdict {
	ctx := map[string]any{"sub": id.Subject}
	if id.Email != "" {
		ctx["email"] = id.Email
	}
	return Verdict{IsAuthorized: true, Context: ctx}
}

// Authorizer はリクエストの資格情報から判定を返す。
type Authorizer interface {
	Authorize(ctx context.Context, req Request) Verdict
}

// New は構成に従ってオーソライザーを生成する。
func New(cfg config.AuthConfig, log logrus.FieldLogger) (Authorizer, error) {
	switch cfg.Mode {
	case config.AuthModeToken:
		return NewTokenAuthorizer(cfg.JWTSecret, cfg.Issuer, log)
	case config.AuthModeAllowAll:
		return NewAllowAll(cfg.InventoryAPIARN, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// TokenAuthorizer は署名付きベアラートークンを検証するオーソライザー。
type TokenAuthorizer struct {
	secret string
	issuer string
	log    logrus.FieldLogger
}

// NewTokenAuthorizer は新しいTokenAuthorizerを生成する。
func NewTokenAuthorizer(secret, issuer string, log logrus.FieldLogger) (*TokenAuthorizer, error) {
	if secret == "" {
		return nil, token.ErrMissingSecret
	}
	return &TokenAuthorizer{secret: secret, issuer: issuer, log: log}, nil
}

// Authorize はトークンを検証し、成功した場合のみ許可する。
func (a *TokenAuthorizer) Authorize(_ context.Context, req Request) Verdict {
	id, err := a.verify(req)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"route_arn": req.RouteArn,
			"route_key": req.RouteKey,
		}).WithError(err).Info("リクエストを拒否")
		return Deny()
	}
	a.log.WithFields(logrus.Fields{
		"route_arn": req.RouteArn,
		"sub":       id.Subject,
	}).Debug("リクエストを許可")
	return Allow(id)
}

// verify はリクエストからトークンを取り出して検証する。
func (a *TokenAuthorizer) verify(req Request) (Identity, error) {
	raw, err := bearerToken(req)
	if err != nil {
		return Identity{}, err
	}
	claims, err := token.Verify(a.secret, a.issuer, raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.Subject, Email: claims.Email}, nil
}

// bearerToken はAuthorizationヘッダー、なければアイデンティティソースからトークンを取り出す。
func bearerToken(req Request) (string, error) {
	value := req.Header("Authorization")
	if value == "" && len(req.IdentitySource) > 0 {
		value = req.IdentitySource[0]
	}
	if len(value) <= len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingToken
	}
	raw := strings.TrimSpace(value[len(bearerPrefix):])
	if raw == "" {
		return "", ErrMissingToken
	}
	return raw, nil
}

// AllowAll は資格情報を検証せずにすべてのリクエストを許可する。
//
// 既知の欠陥を持つ暫定実装であり、auth.mode=allow-all を指定した場合のみ使われる。
type AllowAll struct {
	inventoryAPIARN string
	log             logrus.FieldLogger
}

// NewAllowAll は新しいAllowAllを生成する。
func NewAllowAll(inventoryAPIARN string, log logrus.FieldLogger) *AllowAll {
	log.Warn("allow-allモードで起動しました。資格情報は検証されません")
	return &AllowAll{inventoryAPIARN: inventoryAPIARN, log: log}
}

// Authorize は常に許可する。
func (a *AllowAll) Authorize(_ context.Context, req Request) Verdict {
	a.log.WithFields(logrus.Fields{
		"inventory_api_arn": a.inventoryAPIARN,
		"route_arn":         req.RouteArn,
		"route_key":         req.RouteKey,
		"headers":           len(req.Headers),
	}).Info("リクエストを許可（未検証）")
	return Verdict{IsAuthorized: true}
}
