package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/lambda-authorizer/internal/books"
	"github.com/nao1215/lambda-authorizer/internal/deploy"
	"github.com/nao1215/lambda-authorizer/pkg/httpclient"
	"github.com/nao1215/lambda-authorizer/pkg/token"
)

// verifyOrigin はプリフライトに使うOrigin。
const verifyOrigin = "https://example.com"

func newVerifyCmd(opts *options) *cobra.Command {
	var (
		url         string
		bearer      string
		path        string
		issueBearer bool
		withPost    bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Call the deployed API and check the CORS preflight and the route response",
		Long: `verify sends a CORS preflight and a GET request to the route and checks
that the route answers {"message":"Hello World"}. With --post it also sends a
POST request with a JSON body.

Examples:
    stack verify
    stack verify --url http://localhost:8080 --issue-token --post`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			if url == "" {
				store, err := openStore(ctx, cfg, log)
				if err != nil {
					return err
				}
				outputs, err := store.Outputs(ctx, cfg.Stack.Name)
				_ = store.Close()
				if err != nil {
					return err
				}
				url = outputs[deploy.OutputAPI]
				if url == "" {
					return errors.New("出力 API がありません。先に deploy を実行するか --url を指定してください")
				}
			}

			if bearer == "" && issueBearer {
				bearer, err = token.Issue(cfg.Auth.JWTSecret, cfg.Auth.Issuer, "stack-verify", "", 5*time.Minute)
				if err != nil {
					return err
				}
			}

			client := httpclient.New(url)
			w := cmd.OutOrStdout()

			pre, err := client.Preflight(ctx, path, verifyOrigin, http.MethodGet)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "OPTIONS %s -> %d allow-origin=%q allow-methods=%v\n", path, pre.StatusCode, pre.AllowOrigin, pre.AllowMethods)
			if pre.AllowOrigin == "" {
				return errors.New("プリフライトにAccess-Control-Allow-Originがありません")
			}

			if bearer != "" {
				ctx = httpclient.WithBearerToken(ctx, bearer)
			}
			if err := checkMessage(w, http.MethodGet, path, func(got any) error {
				return client.GetJSON(ctx, path, got)
			}); err != nil {
				return err
			}
			if !withPost {
				return nil
			}
			return checkMessage(w, http.MethodPost, path, func(got any) error {
				return client.PostJSON(ctx, path, map[string]string{"source": "stack-verify"}, got)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "API endpoint (defaults to the API output of the last deployment)")
	cmd.Flags().StringVar(&path, "path", "/books", "Route path to call")
	cmd.Flags().StringVar(&bearer, "token", "", "Bearer token sent in the Authorization header")
	cmd.Flags().BoolVar(&issueBearer, "issue-token", false, "Issue a short-lived token with the configured secret")
	cmd.Flags().BoolVar(&withPost, "post", false, "Also send a POST request with a JSON body")
	return cmd
}

// checkMessage はリクエストを送信し、応答のmessageが期待どおりか確認する。
func checkMessage(w io.Writer, method, path string, call func(got any) error) error {
	var got struct {
		Message string `json:"message"`
	}
	if err := call(&got); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			fmt.Fprintf(w, "%s %s -> %d %s\n", method, path, statusErr.StatusCode, statusErr.Body)
		}
		return err
	}
	fmt.Fprintf(w, "%s %s -> 200 %q\n", method, path, got.Message)
	if got.Message != books.Message {
		return fmt.Errorf("想定外の応答です: %q", got.Message)
	}
	return nil
}
