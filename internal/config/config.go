// Package config はスタック全体の静的な構成を提供する。
//
// 関数名、APIの説明、CORSポリシー、オーソライザーのキャッシュTTL、ルートと
// オーソライザーの対応付けなどを1つの構造体にまとめる。構成はプロビジョニング時
// およびサーバー起動時に一度だけ読み込まれ、各コンポーネントの生成時に渡される。
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AuthModeToken は署名付きトークンを検証するオーソライザーモード。
	AuthModeToken = "token"
	// AuthModeAllowAll は資格情報を検証せず常に許可するモード。既知の欠陥として残している。
	AuthModeAllowAll = "allow-all"

	// InvokerLocal は関数をプロセス内で呼び出す。
	InvokerLocal = "local"
	// InvokerLambda はデプロイ済みのLambda関数を呼び出す。
	InvokerLambda = "lambda"

	// ResponseTypeSimple は {"isAuthorized": bool} 形式のオーソライザー応答。
	ResponseTypeSimple = "simple"

	// AuthorizerNone はルートでオーソライザーを明示的に無効化する値。
	AuthorizerNone = "none"

	// MethodAny はすべてのHTTPメソッドに一致するルートメソッド。
	MethodAny = "ANY"

	// maxResultsCacheTTL はAPI Gatewayが許容するキャッシュTTLの上限。
	maxResultsCacheTTL = time.Hour

	// envPrefix は環境変数による上書きの接頭辞。
	envPrefix = "BOOKS"
)

// Config はスタックの構成全体を表す。
type Config struct {
	Stack       StackConfig                 `mapstructure:"stack"`
	Functions   map[string]FunctionConfig   `mapstructure:"functions"`
	Authorizers map[string]AuthorizerConfig `mapstructure:"authorizers"`
	API         APIConfig                   `mapstructure:"api"`
	Gateway     GatewayConfig               `mapstructure:"gateway"`
	Auth        AuthConfig                  `mapstructure:"auth"`
	Logging     LoggingConfig               `mapstructure:"logging"`
	State       StateConfig                 `mapstructure:"state"`
}

// StackConfig はスタック自体の識別情報。
type StackConfig struct {
	Name      string `mapstructure:"name"`
	Region    string `mapstructure:"region"`
	AccountID string `mapstructure:"account_id"`
}

// FunctionConfig はLambda関数1つ分の構成。
type FunctionConfig struct {
	Name         string            `mapstructure:"name"`
	ZipFile      string            `mapstructure:"zip_file"`
	Handler      string            `mapstructure:"handler"`
	Runtime      string            `mapstructure:"runtime"`
	Architecture string            `mapstructure:"architecture"`
	MemorySize   int32             `mapstructure:"memory_size"`
	Timeout      int32             `mapstructure:"timeout"`
	Environment  map[string]string `mapstructure:"environment"`
}

// AuthorizerConfig はリクエストオーソライザーの構成。
type AuthorizerConfig struct {
	Name string `mapstructure:"name"`
	// Function はオーソライザー関数の論理ID（Functionsのキー）。
	Function string `mapstructure:"function"`
	// IdentitySource は判定に必要なリクエスト属性。例: $request.header.Authorization
	IdentitySource []string `mapstructure:"identity_source"`
	// ResultsCacheTTL は判定結果を再利用できる期間。0はキャッシュしない。
	ResultsCacheTTL time.Duration `mapstructure:"results_cache_ttl"`
	ResponseType    string        `mapstructure:"response_type"`
}

// APIConfig はHTTP APIの構成。
type APIConfig struct {
	Name              string        `mapstructure:"name"`
	Description       string        `mapstructure:"description"`
	DefaultAuthorizer string        `mapstructure:"default_authorizer"`
	CORS              CORSConfig    `mapstructure:"cors"`
	Routes            []RouteConfig `mapstructure:"routes"`
}

// CORSConfig はプリフライトに応答するCORSポリシー。
type CORSConfig struct {
	AllowOrigins []string      `mapstructure:"allow_origins"`
	AllowMethods []string      `mapstructure:"allow_methods"`
	AllowHeaders []string      `mapstructure:"allow_headers"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

// RouteConfig はパスとメソッドの組を1つの統合先に結び付ける。
type RouteConfig struct {
	Method      string `mapstructure:"method"`
	Path        string `mapstructure:"path"`
	Integration string `mapstructure:"integration"`
	// Authorizer は空ならAPIのデフォルト、"none"なら保護なし、それ以外はAuthorizersのキー。
	Authorizer string `mapstructure:"authorizer"`
}

// Key はAPI Gatewayのルートキー（"GET /books" 形式）を返す。
func (r RouteConfig) Key() string {
	return strings.ToUpper(r.Method) + " " + r.Path
}

// GatewayConfig はローカルゲートウェイの構成。
type GatewayConfig struct {
	Port      int    `mapstructure:"port"`
	AdminPort int    `mapstructure:"admin_port"`
	Invoker   string `mapstructure:"invoker"`
	RedisAddr string `mapstructure:"redis_addr"`
	Stage     string `mapstructure:"stage"`
}

// AuthConfig はオーソライザー関数の判定方法を決める。
type AuthConfig struct {
	Mode      string        `mapstructure:"mode"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// InventoryAPIARN はログ出力のみに使われ、検証には使わない。
	InventoryAPIARN string `mapstructure:"inventory_api_arn"`
}

// LoggingConfig はロガーの構成。
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StateConfig はデプロイ状態を保存するSQLiteの構成。
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// Load は構成ファイルと環境変数から構成を読み込む。
// pathが空の場合はデフォルト値と環境変数のみを使用する。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("auth.inventory_api_arn", "INVENTORY_API_ARN"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("構成ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("構成のデコードに失敗: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default は既定のスタック構成を返す。ルートにはオーソライザーを割り当てない。
func Default() *Config {
	cfg := &Config{
		Stack: StackConfig{
			Name:   "LambdaAuthorizerStack",
			Region: "us-east-1",
		},
		Functions: map[string]FunctionConfig{
			"books": {
				Name:         "test-hello-world",
				ZipFile:      "dist/books.zip",
				Handler:      "bootstrap",
				Runtime:      "provided.al2023",
				Architecture: "arm64",
				MemorySize:   128,
				Timeout:      3,
			},
			"authorizer": {
				Name:         "test-agent-authorizer",
				ZipFile:      "dist/authorizer.zip",
				Handler:      "bootstrap",
				Runtime:      "provided.al2023",
				Architecture: "arm64",
				MemorySize:   128,
				Timeout:      3,
			},
		},
		Authorizers: map[string]AuthorizerConfig{
			"books": {
				Name:            "test-books-authorizer",
				Function:        "authorizer",
				IdentitySource:  []string{"$request.header.Authorization"},
				ResultsCacheTTL: 0,
				ResponseType:    ResponseTypeSimple,
			},
		},
		API: APIConfig{
			Name:        "HttpApi",
			Description: "Fetches vanity names for connect callers.",
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPost},
			},
			Routes: []RouteConfig{
				{Method: MethodAny, Path: "/books", Integration: "books"},
			},
		},
		Gateway: GatewayConfig{
			Port:      8080,
			AdminPort: 9090,
			Invoker:   InvokerLocal,
			Stage:     "$default",
		},
		Auth: AuthConfig{
			Mode:     AuthModeToken,
			Issuer:   "books-api",
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		State: StateConfig{
			Path: "stack.db",
		},
	}
	return cfg
}

// setDefaults はDefaultの内容をviperのデフォルト値として登録する。
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("stack.name", d.Stack.Name)
	v.SetDefault("stack.region", d.Stack.Region)
	v.SetDefault("stack.account_id", d.Stack.AccountID)

	for key, fn := range d.Functions {
		prefix := "functions." + key + "."
		v.SetDefault(prefix+"name", fn.Name)
		v.SetDefault(prefix+"zip_file", fn.ZipFile)
		v.SetDefault(prefix+"handler", fn.Handler)
		v.SetDefault(prefix+"runtime", fn.Runtime)
		v.SetDefault(prefix+"architecture", fn.Architecture)
		v.SetDefault(prefix+"memory_size", fn.MemorySize)
		v.SetDefault(prefix+"timeout", fn.Timeout)
	}

	for key, az := range d.Authorizers {
		prefix := "authorizers." + key + "."
		v.SetDefault(prefix+"name", az.Name)
		v.SetDefault(prefix+"function", az.Function)
		v.SetDefault(prefix+"identity_source", az.IdentitySource)
		v.SetDefault(prefix+"results_cache_ttl", az.ResultsCacheTTL)
		v.SetDefault(prefix+"response_type", az.ResponseType)
	}

	v.SetDefault("api.name", d.API.Name)
	v.SetDefault("api.description", d.API.Description)
	v.SetDefault("api.default_authorizer", d.API.DefaultAuthorizer)
	v.SetDefault("api.cors.allow_origins", d.API.CORS.AllowOrigins)
	v.SetDefault("api.cors.allow_methods", d.API.CORS.AllowMethods)
	v.SetDefault("api.cors.allow_headers", d.API.CORS.AllowHeaders)
	v.SetDefault("api.cors.max_age", d.API.CORS.MaxAge)
	routes := make([]map[string]any, 0, len(d.API.Routes))
	for _, r := range d.API.Routes {
		routes = append(routes, map[string]any{
			"method":      r.Method,
			"path":        r.Path,
			"integration": r.Integration,
			"authorizer":  r.Authorizer,
		})
	}
	v.SetDefault("api.routes", routes)

	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.admin_port", d.Gateway.AdminPort)
	v.SetDefault("gateway.invoker", d.Gateway.Invoker)
	v.SetDefault("gateway.redis_addr", d.Gateway.RedisAddr)
	v.SetDefault("gateway.stage", d.Gateway.Stage)

	v.SetDefault("auth.mode", d.Auth.Mode)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.inventory_api_arn", d.Auth.InventoryAPIARN)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("state.path", d.State.Path)
}

// normalize は比較しやすい形に値を揃える。
func (c *Config) normalize() {
	for i := range c.API.Routes {
		c.API.Routes[i].Method = strings.ToUpper(c.API.Routes[i].Method)
	}
	for i, m := range c.API.CORS.AllowMethods {
		c.API.CORS.AllowMethods[i] = strings.ToUpper(m)
	}
	for key, az := range c.Authorizers {
		if az.ResponseType == "" {
			az.ResponseType = ResponseTypeSimple
		}
		c.Authorizers[key] = az
	}
}

// Validate は構成の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.Stack.Name == "" {
		errs = append(errs, errors.New("stack.name は必須です"))
	}

	for key, fn := range c.Functions {
		if fn.Name == "" {
			errs = append(errs, fmt.Errorf("functions.%s.name は必須です", key))
		}
	}

	for key, az := range c.Authorizers {
		if _, ok := c.Functions[az.Function]; !ok {
			errs = append(errs, fmt.Errorf("authorizers.%s.function %q が functions に存在しません", key, az.Function))
		}
		if az.ResultsCacheTTL < 0 || az.ResultsCacheTTL > maxResultsCacheTTL {
			errs = append(errs, fmt.Errorf("authorizers.%s.results_cache_ttl は0から%vの範囲で指定してください: %v", key, maxResultsCacheTTL, az.ResultsCacheTTL))
		}
		if az.ResponseType != ResponseTypeSimple {
			errs = append(errs, fmt.Errorf("authorizers.%s.response_type %q は未対応です", key, az.ResponseType))
		}
	}

	if c.API.DefaultAuthorizer != "" && c.API.DefaultAuthorizer != AuthorizerNone {
		if _, ok := c.Authorizers[c.API.DefaultAuthorizer]; !ok {
			errs = append(errs, fmt.Errorf("api.default_authorizer %q が authorizers に存在しません", c.API.DefaultAuthorizer))
		}
	}

	seen := make(map[string]struct{}, len(c.API.Routes))
	for i, r := range c.API.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Errorf("api.routes[%d].path は / で始まる必要があります: %q", i, r.Path))
		}
		if !validMethod(r.Method) {
			errs = append(errs, fmt.Errorf("api.routes[%d].method %q は未対応です", i, r.Method))
		}
		if _, ok := c.Functions[r.Integration]; !ok {
			errs = append(errs, fmt.Errorf("api.routes[%d].integration %q が functions に存在しません", i, r.Integration))
		}
		if r.Authorizer != "" && r.Authorizer != AuthorizerNone {
			if _, ok := c.Authorizers[r.Authorizer]; !ok {
				errs = append(errs, fmt.Errorf("api.routes[%d].authorizer %q が authorizers に存在しません", i, r.Authorizer))
			}
		}
		if _, dup := seen[r.Key()]; dup {
			errs = append(errs, fmt.Errorf("api.routes[%d] のルートキー %q が重複しています", i, r.Key()))
		}
		seen[r.Key()] = struct{}{}
	}

	switch c.Auth.Mode {
	case AuthModeToken:
		if c.Auth.JWTSecret == "" && c.Guarded() {
			errs = append(errs, errors.New("auth.mode=token でオーソライザー付きのルートがある場合は auth.jwt_secret が必須です"))
		}
	case AuthModeAllowAll:
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q は未対応です", c.Auth.Mode))
	}

	switch c.Gateway.Invoker {
	case InvokerLocal, InvokerLambda:
	default:
		errs = append(errs, fmt.Errorf("gateway.invoker %q は未対応です", c.Gateway.Invoker))
	}
	if !validPort(c.Gateway.Port) || !validPort(c.Gateway.AdminPort) {
		errs = append(errs, fmt.Errorf("gateway のポート番号が不正です: port=%d, admin_port=%d", c.Gateway.Port, c.Gateway.AdminPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("構成が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// Guarded はオーソライザーが適用されるルートが1つ以上あるかを返す。
func (c *Config) Guarded() bool {
	for _, r := range c.API.Routes {
		if _, ok := c.RouteAuthorizer(r); ok {
			return true
		}
	}
	return false
}

// Clone はマップとスライスを含めて構成を複製する。
func (c *Config) Clone() *Config {
	out := *c
	out.Functions = make(map[string]FunctionConfig, len(c.Functions))
	for k, fn := range c.Functions {
		fn.Environment = maps.Clone(fn.Environment)
		out.Functions[k] = fn
	}
	out.Authorizers = make(map[string]AuthorizerConfig, len(c.Authorizers))
	for k, az := range c.Authorizers {
		az.IdentitySource = slices.Clone(az.IdentitySource)
		out.Authorizers[k] = az
	}
	out.API.Routes = slices.Clone(c.API.Routes)
	out.API.CORS.AllowOrigins = slices.Clone(c.API.CORS.AllowOrigins)
	out.API.CORS.AllowMethods = slices.Clone(c.API.CORS.AllowMethods)
	out.API.CORS.AllowHeaders = slices.Clone(c.API.CORS.AllowHeaders)
	return &out
}

// RouteAuthorizer はルートに実際に適用されるオーソライザーのキーを返す。
// オーソライザーが適用されない場合はokがfalseになる。
func (c *Config) RouteAuthorizer(r RouteConfig) (string, bool) {
	key := r.Authorizer
	if key == "" {
		key = c.API.DefaultAuthorizer
	}
	if key == "" || key == AuthorizerNone {
		return "", false
	}
	return key, true
}

// validMethod はルートに指定できるメソッドかどうかを判定する。
func validMethod(m string) bool {
	switch m {
	case MethodAny, http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// validPort はポート番号が範囲内かどうかを判定する。
func validPort(p int) bool {
	return p > 0 && p <= 65535
}
