// Command stack はbooks APIのスタックをデプロイ・削除・検証する。
//
// Usage:
//
//	stack package --binary bin/books --out dist/books.zip   デプロイパッケージを作成
//	stack deploy                                            スタックをデプロイ
//	stack outputs                                           出力（API）を表示
//	stack verify                                            デプロイ済みAPIを検証
//	stack events                                            デプロイ履歴を表示
//	stack token --subject user-1                            検証用トークンを発行
//	stack destroy                                           スタックを削除
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nao1215/lambda-authorizer/internal/config"
	"github.com/nao1215/lambda-authorizer/internal/state"
	"github.com/nao1215/lambda-authorizer/pkg/logger"
)

// options は全サブコマンド共通のフラグ。
type options struct {
	configPath string
	statePath  string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "stack",
		Short:         "Deploy the books API with its request authorizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("STACK_CONFIG"), "Path to the stack configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.statePath, "state", "", "Path to the deployment state database (overrides state.path)")

	rootCmd.AddCommand(
		newPackageCmd(),
		newDeployCmd(opts),
		newDestroyCmd(opts),
		newOutputsCmd(opts),
		newEventsCmd(opts),
		newVerifyCmd(opts),
		newTokenCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load は構成を読み込み、ロガーを生成する。
func (o *options) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.statePath != "" {
		cfg.State.Path = o.statePath
	}
	return cfg, logger.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

// openStore は構成された状態ストアを開く。
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*state.Store, error) {
	store, err := state.Open(ctx, cfg.State.Path, log)
	if err != nil {
		return nil, fmt.Errorf("状態ストア %s を開けません: %w", cfg.State.Path, err)
	}
	return store, nil
}
