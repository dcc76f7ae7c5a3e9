package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
	"go.olrik.dev/logwarden/internal/logsource"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the logwarden daemon",
		Long: `Start the logwarden daemon in the background.

The log source is dry-run first; if it cannot be read the daemon is not
started. Otherwise the daemon is launched in its own session and this command
returns once it answers a handshake.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startDaemon(cmd.Context())
		},
	}
}

// startDaemon launches a detached daemon for core.Config and reports what
// the new daemon has to say about itself.
func startDaemon(ctx context.Context) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate logwarden binary: %w", err)
	}
	argv := []string{executable, "daemon", "--config-path", core.Config.ConfigPath}
	for i := 0; i < core.Config.Verbose; i++ {
		argv = append(argv, "-v")
	}

	slog.Info("Starting logwarden daemon...")
	pid, err := daemon.StartDaemon(ctx, core.Config, logsource.Runner{}, argv)
	switch {
	case errors.Is(err, daemon.ErrAlreadyRunning):
		slog.Info("Daemon is already running")
		return nil
	case err != nil:
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	slog.Info("Daemon started successfully", "pid", pid)

	statusCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if response, err := daemon.Status(statusCtx, core.GetSocketPath()); err == nil {
		for _, message := range response.Messages {
			if message.Status != "INFO" {
				response.LogMessages()
				break
			}
		}
	}
	return nil
}
