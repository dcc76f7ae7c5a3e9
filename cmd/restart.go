package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the logwarden daemon",
		Long: `Restart the logwarden daemon.

This command stops the current daemon and starts a new one. The attached
subscriber is disconnected and the persistent log is rotated to .bak by the
new daemon. If no daemon is running, one is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonRunning(cmd.Context()) {
				slog.Info("Restarting daemon...")
				if err := daemon.StopDaemon(cmd.Context(), core.GetPIDFilePath(), core.GetSocketPath(), stopTimeout); err != nil {
					return fmt.Errorf("failed to stop daemon: %w", err)
				}
			}
			return startDaemon(cmd.Context())
		},
	}
}
