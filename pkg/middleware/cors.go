package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// wildcardOrigin はすべてのオリジンを許可する指定。
const wildcardOrigin = "*"

// CORSPolicy はブラウザからの呼び出しに許可するオリジン・メソッド・ヘッダー。
type CORSPolicy struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// CORS は指定されたポリシーでクロスオリジンリクエストを許可するGinミドルウェアを返す。
// OPTIONSリクエストはルートの有無に関係なく204で応答し、後続のハンドラー
// （オーソライザーを含む）は実行しない。
func CORS(policy CORSPolicy) gin.HandlerFunc {
	wildcard := false
	originsSet := make(map[string]struct{}, len(policy.AllowOrigins))
	for _, o := range policy.AllowOrigins {
		if o == wildcardOrigin {
			wildcard = true
			continue
		}
		originsSet[o] = struct{}{}
	}
	methods := strings.Join(policy.AllowMethods, ",")
	headers := strings.Join(policy.AllowHeaders, ",")
	maxAge := ""
	if policy.MaxAge > 0 {
		maxAge = strconv.Itoa(int(policy.MaxAge.Seconds()))
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := false
		if origin != "" {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", wildcardOrigin)
				allowed = true
			} else if _, ok := originsSet[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				allowed = true
			}
		}

		if c.Request.Method == http.MethodOptions {
			if allowed {
				if methods != "" {
					c.Header("Access-Control-Allow-Methods", methods)
				}
				if headers != "" {
					c.Header("Access-Control-Allow-Headers", headers)
				}
				if maxAge != "" {
					c.Header("Access-Control-Max-Age", maxAge)
				}
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
