package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewPingCommand() *cobra.Command {
	var timeout time.Duration

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers a handshake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			if err := daemon.Handshake(ctx, core.GetSocketPath()); err != nil {
				return fmt.Errorf("daemon did not answer: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "HANDSHAKE from %s in %s\n", core.GetSocketPath(), time.Since(start).Round(time.Microsecond))
			return nil
		},
	}
	pingCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for the reply")

	return pingCmd
}
