package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auxprotocol/auxcli/internal/observability"
	"github.com/auxprotocol/auxcli/internal/output"
	"github.com/auxprotocol/auxcli/internal/store"
)

// newRunsCmd creates and configures the `runs` command.
func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the archive",
		Long: `Runs lists the most recently archived operations, newest first. The
archive must be enabled (archive.enabled plus archive.dsn or
AUXCLI_ARCHIVE_DSN).`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled {
				return fmt.Errorf("the run archive is not enabled; set archive.enabled and archive.dsn")
			}

			pool, err := pgxpool.New(ctx, cfg.Archive.DSN)
			if err != nil {
				return fmt.Errorf("failed to open archive pool: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, cfg.Archive.WriteTimeout, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to archive: %w", err)
			}

			summaries, err := st.RecentRuns(ctx, viper.GetInt("limit"))
			if err != nil {
				return err
			}
			return presentResult(output.FormatJSON, viper.GetString("output"), summaries)
		},
	}

	runsCmd.Flags().IntP("limit", "n", 20, "Maximum runs listed.")
	runsCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return runsCmd
}
