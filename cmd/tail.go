package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
)

func NewTailCommand() *cobra.Command {
	var lines int
	var follow bool

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the persistent filtered log",
		Long: `Print the last lines of the persistent log the daemon writes.

With --follow, new lines are printed as the daemon appends them, and the log
is reopened when a restarted daemon rotates it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return followLog(ctx, core.Config.LogFile, cmd.OutOrStdout(), lines, follow)
		},
	}
	tailCmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of lines to print, 0 for all")
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing appended lines")

	return tailCmd
}

// followLog prints the last n lines of path, then, when follow is set, copies
// appended data until ctx ends. A file recreated at path is read from the start.
func followLog(ctx context.Context, path string, w io.Writer, n int, follow bool) error {
	path = filepath.Clean(path)

	var watcher *fsnotify.Watcher
	if follow {
		// Watch before reading so nothing written in between is missed
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create log watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { f.Close() }()

	last, err := lastLines(f, n)
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}
	for _, line := range last {
		io.WriteString(w, line)
	}
	if !follow {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			slog.Debug("Filesystem event on log file", "event", event.Op.String())

			if event.Has(fsnotify.Create) {
				reopened, err := os.Open(path)
				if err != nil {
					slog.Debug("Log file vanished before it could be reopened", "error", err)
					continue
				}
				// Drain whatever reached the rotated file first
				io.Copy(w, f)
				f.Close()
				f = reopened
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Log watcher error", "error", err)
		}
	}
}

// lastLines reads r to the end and returns its final n lines, or every line
// when n <= 0. Lines keep their trailing newline.
func lastLines(r io.Reader, n int) ([]string, error) {
	reader := bufio.NewReader(r)
	var ring []string
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			ring = append(ring, line)
			if n > 0 && len(ring) > n {
				ring = ring[1:]
			}
		}
		if err == io.EOF {
			return ring, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
