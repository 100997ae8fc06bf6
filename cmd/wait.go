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

// newWaitCmd creates and configures the `wait` command.
func newWaitCmd() *cobra.Command {
	waitCmd := &cobra.Command{
		Use:   "wait <url>",
		Short: "Wait until a DOM condition holds",
		Long: `Wait polls the page until the condition is met or the timeout elapses.
A timeout is a normal outcome reported as {"status": "timed_out"}, not a
command failure. The condition comes either from the convenience flags:

  auxcli wait https://example.com --for visible --selector "#results"

or from a full request document via --request.`,
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

			var req schemas.WaitRequest
			if rawFlag := viper.GetString("request"); rawFlag != "" {
				raw, err := readRequestInput(cmd, rawFlag)
				if err != nil {
					return err
				}
				if err := jsonAPI.Unmarshal(raw, &req); err != nil {
					return fmt.Errorf("failed to decode wait request: %w", err)
				}
			} else {
				req.Condition = schemas.Condition{
					Kind:     schemas.ConditionKind(viper.GetString("for")),
					Selector: viper.GetString("selector"),
					Text:     viper.GetString("text"),
				}
				if cmd.Flags().Changed("timeout") {
					t := schemas.Seconds(viper.GetFloat64("timeout"))
					req.Timeout = &t
				}
				if cmd.Flags().Changed("poll-interval") {
					p := schemas.Seconds(viper.GetFloat64("poll-interval"))
					req.PollInterval = &p
				}
			}
			if err := req.Condition.Validate(); err != nil {
				return err
			}

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			started := time.Now()
			var result *schemas.WaitResult
			opErr := runAgainst(ctx, cfg, logger, target, func(ctx context.Context, eng *engine.Engine) error {
				var err error
				result, err = eng.WaitForElement(ctx, req)
				return err
			})

			succeeded := opErr == nil && result != nil && result.Status == schemas.WaitSatisfied
			archive.Record(newRunRecord("wait", target, started, succeeded, req, result))

			if opErr != nil {
				return opErr
			}
			return presentResult(output.FormatJSON, viper.GetString("output"), result)
		},
	}

	waitCmd.Flags().StringP("request", "r", "", "Wait request as inline JSON, @file or - for stdin.")
	waitCmd.Flags().String("for", "appear", "Condition kind: appear, disappear, visible, hidden, enabled, disabled, text_contains.")
	waitCmd.Flags().String("selector", "", "CSS selector the condition watches.")
	waitCmd.Flags().String("text", "", "Needle for the text_contains condition.")
	waitCmd.Flags().Float64("timeout", float64(schemas.DefaultTimeout), "Wait budget in seconds; 0 evaluates exactly once.")
	waitCmd.Flags().Float64("poll-interval", float64(schemas.DefaultPollInterval), "Poll interval in seconds.")
	waitCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	waitCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return waitCmd
}
