// Package cmd wires the auxcli command tree: one operational subcommand per
// engine call plus version and archive listing. Configuration flows
// defaults -> config file -> AUXCLI_* environment -> flags, resolved through
// a shared viper instance.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/internal/config"
	"github.com/auxprotocol/auxcli/internal/observability"
)

// NewRootCommand builds a fresh command tree. Callers that execute more than
// once must build a new tree per execution so flag state never leaks between
// runs.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "auxcli",
		Short: "Semantic browser automation for agents and scripts",
		Long: `auxcli drives a browser session through semantic operations: filling
forms by logical field names, waiting on DOM conditions, extracting
structured data and running multi-step workflows. Pages are reached
through either a live Chrome instance or a pure HTTP/DOM backend.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before every subcommand, setting up config and logging.
			// Per-command flag overrides are bound later in PreRunE, so the
			// logger is configured from file and environment values only.
			if err := initializeConfig(cfgFile); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "auxcli"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting auxcli", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default auxcli.yaml in . or $HOME).")
	rootCmd.SetVersionTemplate("auxcli version {{.Version}}\n")

	rootCmd.AddCommand(
		newFillCmd(),
		newWaitCmd(),
		newExtractCmd(),
		newWorkflowCmd(),
		newObserveCmd(),
		newQueryCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs a fresh command tree under the signal-aware context from main.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted", zap.Error(err))
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// initializeConfig layers defaults, the config file and AUXCLI_* environment
// variables onto the shared viper instance. A missing config file is fine;
// an unreadable one is not.
func initializeConfig(cfgFile string) error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName("auxcli")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUXCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// loadConfig resolves the effective configuration after PreRunE bound the
// command's flags onto viper, so flag overrides are visible.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
