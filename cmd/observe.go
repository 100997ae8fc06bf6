package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/engine"
	"github.com/auxprotocol/auxcli/internal/observability"
	"github.com/auxprotocol/auxcli/internal/output"
)

// newObserveCmd creates and configures the `observe` command.
func newObserveCmd() *cobra.Command {
	observeCmd := &cobra.Command{
		Use:   "observe <url>",
		Short: "List the interactive elements on a page",
		Long: `Observe summarizes the page for an agent deciding what to do next: its
URL, title and the interactive elements (links, buttons, inputs, ARIA
widgets) with their semantic kind and accessible text. Read-only.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.backend", cmd.Flags().Lookup("backend")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			target := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			req := schemas.ObserveRequest{Limit: viper.GetInt("limit")}

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			started := time.Now()
			var result *schemas.ObserveResult
			opErr := runAgainst(ctx, cfg, logger, target, func(ctx context.Context, eng *engine.Engine) error {
				var err error
				result, err = eng.Observe(ctx, req)
				return err
			})

			archive.Record(newRunRecord("observe", target, started, opErr == nil, req, result))

			if opErr != nil {
				return opErr
			}
			return presentResult(output.FormatJSON, viper.GetString("output"), result)
		},
	}

	observeCmd.Flags().Int("limit", 0, "Maximum elements returned (default 10, max 50).")
	observeCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	observeCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return observeCmd
}
