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

// newExtractCmd creates and configures the `extract` command.
func newExtractCmd() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract structured data from a page by named rules",
		Long: `Extract runs every rule against one consistent snapshot of the page and
reports a value (or null plus an error entry) per field. Example request:

  {"rules": {
    "title":  {"selector": "h1"},
    "prices": {"selector": ".price", "multiple": true, "transform": "number"}
  }}

A bare rules object without the "rules" wrapper is accepted too. The csv,
text and xml formats render the same field table; json is the default.`,
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
			var req schemas.ExtractRequest
			if err := jsonAPI.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("failed to decode extract request: %w", err)
			}
			if len(req.Rules) == 0 {
				// Accept a bare rules object; a top-level "rules" key wins.
				var rules map[string]schemas.ExtractionRule
				if err := jsonAPI.Unmarshal(raw, &rules); err == nil && len(rules) > 0 {
					req.Rules = rules
				}
			}

			// Built before the session so a bad format or output path fails
			// without touching the network.
			presenter, err := output.New(viper.GetString("format"), viper.GetString("output"))
			if err != nil {
				return err
			}
			defer presenter.Close()

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			started := time.Now()
			var result *schemas.ExtractResult
			opErr := runAgainst(ctx, cfg, logger, target, func(ctx context.Context, eng *engine.Engine) error {
				var err error
				result, err = eng.ExtractData(ctx, req)
				return err
			})

			succeeded := opErr == nil && result != nil && len(result.Errors) == 0
			archive.Record(newRunRecord("extract", target, started, succeeded, req, result))

			if opErr != nil {
				return opErr
			}
			return presenter.Write(result)
		},
	}

	extractCmd.Flags().StringP("request", "r", "", "Extraction rules as inline JSON, @file or - for stdin.")
	extractCmd.Flags().StringP("format", "f", "json", "Output format: json, csv, text or xml.")
	extractCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	extractCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return extractCmd
}
