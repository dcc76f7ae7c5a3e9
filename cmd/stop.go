package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

const stopTimeout = 5 * time.Second

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the logwarden daemon",
		Long:    `Stop the logwarden daemon and wait until it no longer answers.`,
		Aliases: []string{"shutdown", "quit"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !daemonRunning(cmd.Context()) {
				slog.Warn("Daemon is not running")
				return nil
			}
			if err := daemon.StopDaemon(cmd.Context(), core.GetPIDFilePath(), core.GetSocketPath(), stopTimeout); err != nil {
				return err
			}
			slog.Info("Daemon stopped")
			return nil
		},
	}
}

// daemonRunning reports whether a daemon answers a handshake within a second
func daemonRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return daemon.Handshake(ctx, core.GetSocketPath()) == nil
}
