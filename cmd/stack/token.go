package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/lambda-authorizer/pkg/token"
)

func newTokenCmd(opts *options) *cobra.Command {
	var subject, email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token accepted by the token authorizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			signed, err := token.Issue(cfg.Auth.JWTSecret, cfg.Auth.Issuer, subject, email, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Caller identity placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "Caller email placed in the email claim")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
