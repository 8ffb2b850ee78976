package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/authorizer"
	"github.com/nao1215/lambda-authorizer/internal/config"
)

// アイデンティティソースの接頭辞。
const (
	identityHeaderPrefix = "$request.header."
	identityQueryPrefix  = "$request.querystring."
)

// authorize はルートに結び付けられたオーソライザーを呼び出すGinミドルウェアを返す。
// 判定が許可でない場合は処理を中断し、後続の統合は呼び出されない。
func (s *Server) authorize(route config.RouteConfig, key string, az config.AuthorizerConfig) gin.HandlerFunc {
	function := s.cfg.Functions[az.Function].Name
	routeKey := route.Key()

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := s.log.WithFields(logrus.Fields{
			"authorizer": key,
			"route_key":  routeKey,
			"request_id": requestID(c),
		})

		identity, ok := identityValues(c, az.IdentitySource)
		if !ok {
			s.metrics.verdictsTotal.WithLabelValues(key, outcomeMissingIdentity).Inc()
			log.Info("アイデンティティソースがないため拒否")
			abortWithMessage(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var cacheKey string
		if az.ResultsCacheTTL > 0 {
			cacheKey = verdictCacheKey(key, identity)
			v, hit, err := s.cache.Get(ctx, cacheKey)
			if err != nil {
				log.WithError(err).Warn("判定キャッシュの取得に失敗")
			}
			if hit {
				s.metrics.cacheLookups.WithLabelValues(key, "hit").Inc()
				s.applyVerdict(c, log, key, v)
				return
			}
			s.metrics.cacheLookups.WithLabelValues(key, "miss").Inc()
		}

		payload, err := json.Marshal(s.authorizerEvent(c, routeKey, identity))
		if err != nil {
			s.metrics.verdictsTotal.WithLabelValues(key, outcomeError).Inc()
			log.WithError(err).Error("オーソライザーイベントのエンコードに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		out, err := s.invoker.Invoke(ctx, function, payload)
		s.metrics.observeInvocation(function, err)
		if err != nil {
			s.metrics.verdictsTotal.WithLabelValues(key, outcomeError).Inc()
			log.WithError(err).Error("オーソライザーの呼び出しに失敗")
			abortWithMessage(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		v, err := authorizer.ParseVerdict(out)
		if err != nil {
			s.metrics.verdictsTotal.WithLabelValues(key, outcomeMalformed).Inc()
			log.WithError(err).Warn("オーソライザーの応答が不正なため拒否")
			abortWithMessage(c, http.StatusForbidden, "Forbidden")
			return
		}

		if cacheKey != "" {
			if err := s.cache.Set(ctx, cacheKey, v, az.ResultsCacheTTL); err != nil {
				log.WithError(err).Warn("判定キャッシュの保存に失敗")
			}
		}
		s.applyVerdict(c, log, key, v)
	}
}

// applyVerdict は判定に従って処理を続行または中断する。
func (s *Server) applyVerdict(c *gin.Context, log logrus.FieldLogger, key string, v authorizer.Verdict) {
	if !v.IsAuthorized {
		s.metrics.verdictsTotal.WithLabelValues(key, outcomeDeny).Inc()
		log.Info("オーソライザーが拒否")
		abortWithMessage(c, http.StatusForbidden, "Forbidden")
		return
	}
	s.metrics.verdictsTotal.WithLabelValues(key, outcomeAllow).Inc()
	c.Set(ctxKeyAuthorizerContext, v.Context)
}

// authorizerEvent はオーソライザー関数に渡すペイロード形式2.0のイベントを組み立てる。
func (s *Server) authorizerEvent(c *gin.Context, routeKey string, identity []string) events.APIGatewayV2CustomAuthorizerV2Request {
	return events.APIGatewayV2CustomAuthorizerV2Request{
		Version:               "2.0",
		Type:                  "REQUEST",
		RouteArn:              s.routeArn(c.Request.Method, c.Request.URL.Path),
		IdentitySource:        identity,
		RouteKey:              routeKey,
		RawPath:               c.Request.URL.Path,
		RawQueryString:        c.Request.URL.RawQuery,
		Cookies:               cookies(c.Request),
		Headers:               headers(c.Request),
		QueryStringParameters: queryParameters(c.Request),
		RequestContext:        s.requestContext(c, routeKey),
		PathParameters:        pathParameters(c),
	}
}

// routeArn はexecute-apiのルートARNを返す。
func (s *Server) routeArn(method, path string) string {
	return "arn:aws:execute-api:" + s.cfg.Stack.Region + ":" + s.accountID() + ":" +
		s.apiID + "/" + s.cfg.Gateway.Stage + "/" + method + path
}

// accountID はイベントに載せるアカウントIDを返す。
func (s *Server) accountID() string {
	if s.cfg.Stack.AccountID == "" {
		return localAccountID
	}
	return s.cfg.Stack.AccountID
}

// identityValues は構成されたアイデンティティソースの値を取り出す。
// いずれかの値が空の場合はokがfalseになる。
func identityValues(c *gin.Context, sources []string) ([]string, bool) {
	values := make([]string, 0, len(sources))
	for _, src := range sources {
		kind, name, _ := parseIdentitySource(src)
		var v string
		switch kind {
		case identityHeaderPrefix:
			v = c.GetHeader(name)
		case identityQueryPrefix:
			v = c.Query(name)
		}
		if v == "" {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// parseIdentitySource はアイデンティティソースを種類と名前に分解する。
func parseIdentitySource(src string) (kind, name string, ok bool) {
	for _, prefix := range []string{identityHeaderPrefix, identityQueryPrefix} {
		if n, found := strings.CutPrefix(src, prefix); found && n != "" {
			return prefix, n, true
		}
	}
	return "", "", false
}

// verdictCacheKey はオーソライザーとアイデンティティの値から判定キャッシュのキーを作る。
func verdictCacheKey(key string, identity []string) string {
	sum := sha256.Sum256([]byte(strings.Join(identity, "\x00")))
	return key + ":" + hex.EncodeToString(sum[:])
}

// authorizerContext は許可時にオーソライザーが返したコンテキストを返す。
func authorizerContext(c *gin.Context) (map[string]any, bool) {
	v, ok := c.Get(ctxKeyAuthorizerContext)
	if !ok {
		return nil, false
	}
	m, _ := v.(map[string]any)
	return m, true
}
