package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/pkg/logger"
	"github.com/nao1215/lambda-authorizer/pkg/middleware"
)

const (
	// localAPIID はローカル実行時のAPI ID。
	localAPIID = "local"
	// localAccountID はアカウントIDが構成されていない場合に使うID。
	localAccountID = "000000000000"
	// requestIDHeader はリクエストIDを返すヘッダー。
	requestIDHeader = "Apigw-Requestid"
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout = 10 * time.Second
)

// ginコンテキストのキー。
const (
	ctxKeyRequestID         = "gateway.request_id"
	ctxKeyAuthorizerContext = "gateway.authorizer_context"
)

// pathParamPattern はルートパスのパスパラメータ（{name} または {name+}）。
var pathParamPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)(\+?)\}`)

// Server はHTTP APIを再現するゲートウェイのHTTPサーバー。
type Server struct {
	// router はAPIのルーター。
	router *gin.Engine
	// admin はヘルスチェックとメトリクスのルーター。
	admin *gin.Engine
	// port はAPIのリッスンポート。
	port int
	// adminPort は管理用のリッスンポート。
	adminPort int
	// cfg はサーバー生成時に渡された構成。
	cfg config.Config
	// invoker は関数の呼び出し方法。
	invoker Invoker
	// cache はオーソライザー判定のキャッシュ。
	cache VerdictCache
	// registry はメトリクスのレジストリ。
	registry *prometheus.Registry
	// metrics はゲートウェイのメトリクス。
	metrics *metrics
	// log はロガー。
	log logrus.FieldLogger
	// apiID はルートARNに使うAPI ID。
	apiID string
}

// Option はServerの任意設定。
type Option func(*Server)

// WithLogger はロガーを指定する。
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithVerdictCache は判定キャッシュを指定する。未指定の場合はメモリキャッシュを使う。
func WithVerdictCache(c VerdictCache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithAPIID はルートARNに使うAPI IDを指定する。
func WithAPIID(id string) Option {
	return func(s *Server) {
		s.apiID = id
	}
}

// NewServer は構成からゲートウェイサーバーを生成する。
func NewServer(cfg *config.Config, invoker Invoker, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("構成が指定されていません")
	}
	if invoker == nil {
		return nil, errors.New("Invokerが指定されていません")
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		router:    gin.New(),
		admin:     gin.New(),
		port:      cfg.Gateway.Port,
		adminPort: cfg.Gateway.AdminPort,
		cfg:       *cfg.Clone(),
		invoker:   invoker,
		registry:  registry,
		metrics:   newMetrics(registry),
		log:       logger.Discard(),
		apiID:     localAPIID,
	}
	// API Gatewayは末尾のスラッシュを別パスとして扱うため、リダイレクトせず404を返す。
	s.router.RedirectTrailingSlash = false
	s.router.RedirectFixedPath = false
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryVerdictCache()
	}

	if err := s.validateIdentitySources(); err != nil {
		return nil, err
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler はAPIのHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// AdminHandler は管理用のHTTPハンドラーを返す。
func (s *Server) AdminHandler() http.Handler {
	return s.admin
}

// Run はAPIと管理用のHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", s.port), Handler: s.router, ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", s.adminPort), Handler: s.admin, ReadHeaderTimeout: 10 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			s.log.WithField("addr", srv.Addr).Info("HTTPサーバーを起動")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTPサーバー %s の起動に失敗: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTPサーバー %s の停止に失敗: %w", srv.Addr, err))
			}
		}
		s.log.Info("HTTPサーバーを停止")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// setupRoutes は構成されたルートと管理用エンドポイントを登録する。
// ginはルートの衝突をパニックで通知するため、エラーに変換して返す。
func (s *Server) setupRoutes() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ルートの登録に失敗: %v", r)
		}
	}()

	s.router.Use(
		middleware.Recovery(s.log),
		middleware.Logger(s.log),
		s.metrics.middleware(),
		middleware.CORS(corsPolicy(s.cfg.API.CORS)),
		assignRequestID(),
	)

	for _, r := range s.cfg.API.Routes {
		var handlers []gin.HandlerFunc
		if key, ok := s.cfg.RouteAuthorizer(r); ok {
			handlers = append(handlers, s.authorize(r, key, s.cfg.Authorizers[key]))
		}
		handlers = append(handlers, s.integrate(r))

		path := ginPath(r.Path)
		if r.Method == config.MethodAny {
			s.router.Any(path, handlers...)
		} else {
			s.router.Handle(r.Method, path, handlers...)
		}
		s.log.WithFields(logrus.Fields{
			"route_key":   r.Key(),
			"integration": r.Integration,
		}).Debug("ルートを登録")
	}
	s.router.NoRoute(func(c *gin.Context) {
		abortWithMessage(c, http.StatusNotFound, "Not Found")
	})

	s.admin.Use(middleware.Recovery(s.log))
	s.admin.GET("/health", s.handleHealth())
	s.admin.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return nil
}

// validateIdentitySources はローカルで解決できるアイデンティティソースだけが使われているか確認する。
func (s *Server) validateIdentitySources() error {
	var errs []error
	for key, az := range s.cfg.Authorizers {
		for _, src := range az.IdentitySource {
			if _, _, ok := parseIdentitySource(src); !ok {
				errs = append(errs, fmt.Errorf("authorizers.%s のアイデンティティソース %q は未対応です", key, src))
			}
		}
	}
	return errors.Join(errs...)
}

// handleHealth はヘルスチェックのハンドラーを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"stack":  s.cfg.Stack.Name,
			"routes": len(s.cfg.API.Routes),
		})
	}
}

// corsPolicy は構成からCORSポリシーを生成する。
func corsPolicy(c config.CORSConfig) middleware.CORSPolicy {
	return middleware.CORSPolicy{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       c.MaxAge,
	}
}

// assignRequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
func assignRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxKeyRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requestID はリクエストに割り当てたIDを返す。
func requestID(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}

// abortWithMessage はAPI Gatewayと同じ形式のエラー応答で処理を中断する。
func abortWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// ginPath はルートパスのパスパラメータをginの形式に変換する。
// {id} は :id に、{proxy+} は *proxy になる。
func ginPath(path string) string {
	return pathParamPattern.ReplaceAllStringFunc(path, func(m string) string {
		sub := pathParamPattern.FindStringSubmatch(m)
		if sub[2] == "+" {
			return "*" + sub[1]
		}
		return ":" + sub[1]
	})
}

// pathParameters はginのパスパラメータをイベントの形式に変換する。
func pathParameters(c *gin.Context) map[string]string {
	if len(c.Params) == 0 {
		return nil
	}
	params := make(map[string]string, len(c.Params))
	for _, p := range c.Params {
		params[p.Key] = strings.TrimPrefix(p.Value, "/")
	}
	return params
}
