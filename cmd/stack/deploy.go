package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/lambda-authorizer/internal/deploy"
)

func newPackageCmd() *cobra.Command {
	var binary, out string

	cmd := &cobra.Command{
		Use:   "package",
		Short: "Zip a built handler binary as a Lambda deployment package",
		Long: `package stores the binary under the name "bootstrap" so that the
provided.al2023 runtime can start it.

Examples:
    GOOS=linux GOARCH=arm64 go build -o bin/books ./cmd/books
    stack package --binary bin/books --out dist/books.zip`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := deploy.Package(binary, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s を作成しました\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&binary, "binary", "", "Path to the built handler binary")
	cmd.Flags().StringVar(&out, "out", "", "Path of the zip file to write")
	_ = cmd.MarkFlagRequired("binary")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newDeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Create or update the stack and print its outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := deploy.NewAWSClient(ctx, cfg.Stack.Region)
			if err != nil {
				return err
			}
			out, err := deploy.NewDeployer(client, store, log).Deploy(ctx, cfg)
			if err != nil {
				return fmt.Errorf("デプロイに失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", cfg.Stack.Name, deploy.OutputAPI, out.API)
			return nil
		},
	}
}

func newDestroyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource recorded for the stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := deploy.NewAWSClient(ctx, cfg.Stack.Region)
			if err != nil {
				return err
			}
			if err := deploy.NewDeployer(client, store, log).Destroy(ctx, cfg.Stack.Name); err != nil {
				return fmt.Errorf("削除に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s を削除しました\n", cfg.Stack.Name)
			return nil
		},
	}
}
