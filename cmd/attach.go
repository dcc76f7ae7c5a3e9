package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/daemon"
)

func NewAttachCommand() *cobra.Command {
	var wait time.Duration

	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "Stream transient events from the daemon",
		Long: `Attach to the daemon's event channel and print every matching log line
as it arrives.

Only one subscriber is attached at a time: attaching from another terminal
replaces this one, which then exits. Press Ctrl+C to detach.

With --wait, attach keeps retrying until a daemon that is still starting
accepts the connection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, wait)
			conn, err := daemon.Attach(dialCtx, core.GetSocketPath())
			cancel()
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}

			err = streamSubscriber(ctx, conn, cmd.OutOrStdout())
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nDetached from daemon.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Subscription ended: replaced by another subscriber or the daemon stopped.")
			return nil
		},
	}

	attachCmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "how long to wait for the daemon to accept")

	return attachCmd
}

// streamSubscriber copies conn to w until the daemon closes it or ctx ends
func streamSubscriber(ctx context.Context, conn net.Conn, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	_, err := io.Copy(w, conn)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
