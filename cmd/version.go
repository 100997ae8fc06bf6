package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/auxprotocol/auxcli/cmd.Version=v1.2.3"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the auxcli version",
		Args:  cobra.NoArgs,
		// Overrides the root hook: printing the version must not depend on
		// a readable config file.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "auxcli version %s\n", Version)
		},
	}
}
