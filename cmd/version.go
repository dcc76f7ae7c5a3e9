package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show version of both client and daemon (if running)`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client version: %s\n", core.Version)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Second)
			defer cancel()
			response, err := daemon.Status(ctx, core.GetSocketPath())
			if err != nil || response.Data == nil {
				fmt.Fprintln(out, "Daemon: not running")
				return
			}

			fmt.Fprintf(out, "Daemon version: %s\n", response.Data.Version)
			if response.Data.Version != core.Version {
				slog.Warn(fmt.Sprintf("Version mismatch! Client %s and daemon %s versions differ. Consider restarting the daemon.", core.Version, response.Data.Version))
			}
		},
	}

	return versionCmd
}
