// リクエストオーソライザーのLambda関数のエントリポイント。
// 判定方法はBOOKS_AUTH_MODEで選択する。既定は署名付きトークンの検証。
package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/lambda-authorizer/internal/authorizer"
	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logrus.WithError(err).Fatal("構成の読み込みに失敗")
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	authz, err := authorizer.New(cfg.Auth, log)
	if err != nil {
		log.WithError(err).Fatal("オーソライザーの初期化に失敗")
	}
	lambda.Start(authorizer.NewHandler(authz, log).HandleLambda)
}
