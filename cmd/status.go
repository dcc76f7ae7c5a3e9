package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
	"golang.org/x/term"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	statusCmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s", "st"},
		Short:   "Show daemon status",
		Long:    `Show the daemon's log source, channels and watchdog state.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()

			response, err := daemon.Status(ctx, core.GetSocketPath())
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(response)
			}

			printStatus(cmd.OutOrStdout(), response, time.Now(), palette{enabled: term.IsTerminal(int(os.Stdout.Fd()))})
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")

	return statusCmd
}
