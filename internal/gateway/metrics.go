package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 判定結果のラベル値。
const (
	outcomeAllow           = "allow"
	outcomeDeny            = "deny"
	outcomeMalformed       = "malformed"
	outcomeError           = "error"
	outcomeMissingIdentity = "missing_identity"
)

// unmatchedRoute はどのルートにも一致しなかったリクエストのラベル値。
const unmatchedRoute = "unmatched"

// metrics はゲートウェイのPrometheusメトリクス。
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verdictsTotal   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	invocations     *prometheus.CounterVec
}

// newMetrics はレジストリにメトリクスを登録する。
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_gateway_requests_total",
				Help: "Total number of requests handled by the gateway",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "books_gateway_request_duration_seconds",
				Help:    "Duration of requests handled by the gateway",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"route"},
		),
		verdictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_gateway_authorizer_verdicts_total",
				Help: "Authorizer verdicts by authorizer and outcome",
			},
			[]string{"authorizer", "outcome"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_gateway_verdict_cache_lookups_total",
				Help: "Verdict cache lookups by result",
			},
			[]string{"authorizer", "result"},
		),
		invocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "books_gateway_function_invocations_total",
				Help: "Function invocations by function and result",
			},
			[]string{"function", "result"},
		),
	}
}

// middleware はリクエスト数と処理時間を記録するGinミドルウェアを返す。
func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.requestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// observeInvocation は関数呼び出しの結果を記録する。
func (m *metrics) observeInvocation(function string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.invocations.WithLabelValues(function, result).Inc()
}
