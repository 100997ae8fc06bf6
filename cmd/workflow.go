package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/config"
	"github.com/auxprotocol/auxcli/internal/engine"
	"github.com/auxprotocol/auxcli/internal/observability"
	"github.com/auxprotocol/auxcli/internal/output"
)

// workflowFileOutcome pairs one input file with its run result for the
// multi-file report.
type workflowFileOutcome struct {
	File   string                  `json:"file"`
	Error  string                  `json:"error,omitempty"`
	Result *schemas.WorkflowResult `json:"result,omitempty"`
}

// newWorkflowCmd creates and configures the `workflow` command.
func newWorkflowCmd() *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow <file>...",
		Short: "Run scripted multi-step workflows, optionally in parallel",
		Long: `Workflow executes the steps of each request file over its own browser
session. Steps navigate, act on selectors, fill forms, wait and extract;
a failing step either aborts the remaining steps or is skipped over,
depending on continue_on_error. Pass "-" to read a single workflow from
stdin. Multiple files run concurrently up to --parallel sessions.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.backend", cmd.Flags().Lookup("backend")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.max_parallel", cmd.Flags().Lookup("parallel")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			requests, err := readWorkflowFiles(cmd, args)
			if err != nil {
				return err
			}

			archive := openRunArchive(ctx, cfg, logger)
			defer archive.Close()

			// Workflows are independent, so one file failing hard must not
			// cancel its siblings; errors are collected per file instead of
			// through the group.
			outcomes := make([]workflowFileOutcome, len(args))
			var g errgroup.Group
			g.SetLimit(cfg.Engine.MaxParallel)
			for i := range args {
				g.Go(func() error {
					res, runErr := runWorkflowFile(ctx, cfg, logger, args[i], requests[i], archive)
					outcomes[i] = workflowFileOutcome{File: args[i], Result: res}
					if runErr != nil {
						outcomes[i].Error = runErr.Error()
					}
					return nil
				})
			}
			g.Wait()

			if len(args) == 1 {
				if outcomes[0].Error != "" {
					return fmt.Errorf("workflow %s: %s", args[0], outcomes[0].Error)
				}
				return presentResult(output.FormatJSON, viper.GetString("output"), outcomes[0].Result)
			}

			if err := presentResult(output.FormatJSON, viper.GetString("output"), outcomes); err != nil {
				return err
			}
			failed := 0
			for _, oc := range outcomes {
				if oc.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflow files failed", failed, len(args))
			}
			return nil
		},
	}

	workflowCmd.Flags().IntP("parallel", "p", 0, "Maximum concurrent workflow sessions. (Overrides config/env)")
	workflowCmd.Flags().String("backend", "", "Capability backend: chrome or static. (Overrides config/env)")
	workflowCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout.")

	return workflowCmd
}

// readWorkflowFiles decodes every workflow document up front so malformed
// input fails before any session is opened. Stdin may back at most one file.
func readWorkflowFiles(cmd *cobra.Command, files []string) ([]schemas.WorkflowRequest, error) {
	requests := make([]schemas.WorkflowRequest, len(files))
	stdinUsed := false
	for i, file := range files {
		var raw []byte
		var err error
		if file == "-" {
			if stdinUsed {
				return nil, fmt.Errorf("stdin may back at most one workflow file")
			}
			stdinUsed = true
			raw, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return nil, fmt.Errorf("failed to read workflow from stdin: %w", err)
			}
		} else {
			raw, err = os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read workflow file: %w", err)
			}
		}
		if err := jsonAPI.Unmarshal(raw, &requests[i]); err != nil {
			return nil, fmt.Errorf("failed to decode workflow %s: %w", file, err)
		}
	}
	return requests, nil
}

// runWorkflowFile executes one workflow over its own session and archives
// the outcome.
func runWorkflowFile(ctx context.Context, cfg *config.Config, logger *zap.Logger, file string, req schemas.WorkflowRequest, archive *runArchiver) (*schemas.WorkflowResult, error) {
	log := logger.With(zap.String("workflow", file))

	session, err := openSession(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer closeSession(session, log)

	eng, err := engine.New(session, log)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := eng.RunWorkflow(ctx, req)

	succeeded := err == nil && res != nil && !res.Aborted
	run := newRunRecord("workflow", workflowTarget(req), started, succeeded, req, res)
	if res != nil {
		run.Steps = res.Steps
	}
	archive.Record(run)

	return res, err
}

// workflowTarget is the first navigate URL, recorded as the run's target.
func workflowTarget(req schemas.WorkflowRequest) string {
	for _, step := range req.Steps {
		if step.Action == schemas.ActionNavigate {
			return step.URL
		}
	}
	return ""
}
