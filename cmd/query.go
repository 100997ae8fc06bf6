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

// newQueryCmd creates and configures the `query` command.
func newQueryCmd() *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query <url>",
		Short: "Search a page's elements by selector, text or kind",
		Long: `Query finds elements matching any combination of a CSS selector, an
accessible-text substring and a semantic kind, in document order:

  auxcli query https://example.com --kind button --text "sign in"

At least one criterion is required. Read-only.`,
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

			req := schemas.QueryRequest{
				Selector: viper.GetString("selector"),
				Text:     viper.GetString("text"),
				Kind:     schemas.ElementKind(viper.GetString("kind")),
				Limit:    viper.GetInt("limit"),
			}
			if err := req.Validate(); err != nil {
				return err
			}

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			started := time.Now()
			var result *schemas.QueryResult
			opErr := runAgainst(ctx, cfg, logger, target, func(ctx context.Context, eng *engine.Engine) error {
				var err error
				result, err = eng.Query(ctx, req)
				return err
			})

			archive.Record(newRunRecord("query", target, started, opErr == nil, req, result))

			if opErr != nil {
				return opErr
			}
			return presentResult(output.FormatJSON, viper.GetString("output"), result)
		},
	}

	queryCmd.Flags().String("selector", "", "CSS selector to match.")
	queryCmd.Flags().String("text", "", "Case-insensitive substring over accessible text.")
	queryCmd.Flags().String("kind", "", "Semantic kind: button, link, text_input, select, checkbox, radio, textarea, form.")
	queryCmd.Flags().Int("limit", 0, "Maximum elements returned (default 10, max 50).")
	queryCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	queryCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return queryCmd
}
