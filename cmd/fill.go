package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/engine"
	"github.com/auxprotocol/auxcli/internal/observability"
	"github.com/auxprotocol/auxcli/internal/output"
)

// newFillCmd creates and configures the `fill` command.
func newFillCmd() *cobra.Command {
	fillCmd := &cobra.Command{
		Use:   "fill <url>",
		Short: "Fill a form by logical field names and optionally submit it",
		Long: `Fill resolves each form_data entry against the page using semantic
matching (name, id, label, placeholder, aria-label, nearby text), types or
selects the value and reports a per-field outcome. Example request:

  {"form_data": {"username": "ada", "remember_me": "true"}, "submit": true}`,
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

			raw, err := readRequestInput(cmd, viper.GetString("request"))
			if err != nil {
				return err
			}
			var req schemas.FillFormRequest
			if err := jsonAPI.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("failed to decode fill request: %w", err)
			}

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			started := time.Now()
			var result *schemas.FillFormResult
			opErr := runAgainst(ctx, cfg, logger, target, func(ctx context.Context, eng *engine.Engine) error {
				var err error
				result, err = eng.FillForm(ctx, req)
				return err
			})

			succeeded := opErr == nil && result != nil &&
				result.FilledCount() == len(result.Fields) &&
				(!req.Submit || result.Submitted)
			archive.Record(newRunRecord("fill", target, started, succeeded, req, result))

			if opErr != nil {
				return opErr
			}
			return presentResult(output.FormatJSON, viper.GetString("output"), result)
		},
	}

	fillCmd.Flags().StringP("request", "r", "", "Fill request as inline JSON, @file or - for stdin.")
	fillCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	fillCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return fillCmd
}
