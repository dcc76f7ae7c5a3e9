package cmd

import (
	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := daemon.New(core.Config)
			return d.Run(cmd.Context())
		},
	}

	return daemonCmd
}
