// ローカルゲートウェイのエントリポイント。
// デプロイ済みのHTTP APIと同じCORS・オーソライザー・統合の処理をローカルで再現する。
// 関数はプロセス内（invoker=local）またはデプロイ済みのLambda（invoker=lambda）で呼び出す。
// auth.mode=token でオーソライザー付きのルートがある場合は BOOKS_AUTH_JWT_SECRET が必要。
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/authorizer"
	"github.com/nao1215/lambda-authorizer/internal/books"
	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/internal/gateway"
	"github.com/nao1215/lambda-authorizer/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("STACK_CONFIG"))
	if err != nil {
		logrus.WithError(err).Fatal("構成の読み込みに失敗")
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			logrus.WithError(err).Fatalf("PORT %q が不正です", port)
		}
		cfg.Gateway.Port = p
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	invoker, err := newInvoker(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("関数の呼び出し方法の初期化に失敗")
	}

	opts := []gateway.Option{gateway.WithLogger(log)}
	if cfg.Gateway.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Gateway.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Redisへの接続に失敗")
		}
		opts = append(opts, gateway.WithVerdictCache(gateway.NewRedisVerdictCache(client)))
	}

	server, err := gateway.NewServer(cfg, invoker, opts...)
	if err != nil {
		log.WithError(err).Fatal("Gatewayサーバーの初期化に失敗")
	}

	log.WithFields(logrus.Fields{
		"port":       cfg.Gateway.Port,
		"admin_port": cfg.Gateway.AdminPort,
		"invoker":    cfg.Gateway.Invoker,
	}).Info("Gatewayを起動します")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("Gatewayの実行に失敗")
	}
}

// newInvoker は構成に従って関数の呼び出し方法を選ぶ。
func newInvoker(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (gateway.Invoker, error) {
	if cfg.Gateway.Invoker == config.InvokerLambda {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Stack.Region))
		if err != nil {
			return nil, err
		}
		return gateway.NewLambdaInvoker(awslambda.NewFromConfig(awsCfg)), nil
	}

	authorizerFunctions := make(map[string]struct{}, len(cfg.Authorizers))
	for _, az := range cfg.Authorizers {
		authorizerFunctions[az.Function] = struct{}{}
	}

	invoker := gateway.NewLocalInvoker()
	hello := books.NewHandler(log)
	for key, fn := range cfg.Functions {
		if _, ok := authorizerFunctions[key]; !ok {
			invoker.Register(fn.Name, hello.HandleLambda)
		}
	}
	// オーソライザー付きのルートがない場合、オーソライザー関数は呼ばれないので登録しない。
	if !cfg.Guarded() {
		return invoker, nil
	}

	authz, err := authorizer.New(cfg.Auth, log)
	if err != nil {
		return nil, err
	}
	handler := authorizer.NewHandler(authz, log)
	for key := range authorizerFunctions {
		if fn, ok := cfg.Functions[key]; ok {
			invoker.Register(fn.Name, handler.HandleLambda)
		}
	}
	return invoker, nil
}
