package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newOutputsCmd(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Print the outputs of the last successful deployment",
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

			outputs, err := store.Outputs(ctx, cfg.Stack.Name)
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(outputs)
			}

			keys := make([]string, 0, len(outputs))
			for k := range outputs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", cfg.Stack.Name, k, outputs[k])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or json")
	return cmd
}

func newEventsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print the deployment history of the stack",
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

			events, err := store.Events(ctx, cfg.Stack.Name)
			if err != nil {
				return err
			}
			for _, e := range events {
				detail, err := e.Describe()
				if err != nil {
					detail = string(e.Data)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s  %-18s %s\n",
					e.Version, e.CreatedAt.Format(time.RFC3339), e.EventType, detail)
			}
			return nil
		},
	}
}
