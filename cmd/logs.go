package cmd

import (
	"bytes"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.olrik.dev/logwarden/internal/core"
)

func NewLogsCommand() *cobra.Command {
	var lines int
	var follow bool

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's own diagnostic log",
		Long: `Show the daemon's own diagnostic log.

This is the daemon's stderr as captured by 'logwarden start', not the filtered
device log (see 'logwarden tail'). By default, only INFO level and above is shown.

Filter categories:
  source     - Log source sessions (spawn, restart, clear)
  subscriber - Attach, replace and dropped subscribers
  watchdog   - Supervised process probes and terminations
  daemon     - Daemon start and stop

Examples:
  logwarden logs               # Last 20 lines, INFO and above
  logwarden logs -f --debug    # Follow, including DEBUG logs
  logwarden logs -F watchdog   # Filter to watchdog events
  logwarden logs -F pid=1234   # Filter by keyword`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			filter, _ := cmd.Flags().GetString("filter")
			noColor, _ := cmd.Flags().GetBool("no-color")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := &lineFilter{out: cmd.OutOrStdout(), keep: func(line string) bool {
				if !debug && isDebugLog(line) {
					return false
				}
				return filter == "" || matchesFilter(line, filter)
			}}
			if noColor {
				w.rewrite = stripANSI
			}
			return followLog(ctx, core.GetDaemonLogPath(), w, lines, follow)
		},
	}

	logsCmd.Flags().Bool("debug", false, "Show DEBUG level logs")
	logsCmd.Flags().StringP("filter", "F", "", "Filter logs by category or keyword (source, subscriber, watchdog, daemon)")
	logsCmd.Flags().Bool("no-color", false, "Disable colored output")
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of lines to print, 0 for all")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing appended lines")

	return logsCmd
}

// lineFilter passes whole lines that keep accepts through to out. A trailing
// partial line is held until its newline arrives.
type lineFilter struct {
	out     io.Writer
	keep    func(string) bool
	rewrite func(string) string
	pending []byte
}

func (f *lineFilter) Write(p []byte) (int, error) {
	f.pending = append(f.pending, p...)
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		line := string(f.pending[:i+1])
		f.pending = f.pending[i+1:]
		if !f.keep(line) {
			continue
		}
		if f.rewrite != nil {
			line = f.rewrite(line)
		}
		if _, err := io.WriteString(f.out, line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// isDebugLog checks if a log line is a DEBUG level log
func isDebugLog(line string) bool {
	stripped := stripANSI(line)
	return strings.Contains(stripped, " DBG ")
}

// matchesFilter checks if a log line matches the filter criteria
func matchesFilter(line, filter string) bool {
	filter = strings.ToLower(filter)
	lineLower := strings.ToLower(stripANSI(line))

	switch filter {
	case "source":
		return strings.Contains(lineLower, "log source") ||
			strings.Contains(lineLower, "log tailer") ||
			strings.Contains(lineLower, "log buffers")
	case "subscriber":
		return strings.Contains(lineLower, "subscriber") ||
			strings.Contains(lineLower, "sink")
	case "watchdog":
		return strings.Contains(lineLower, "watchdog") ||
			strings.Contains(lineLower, "supervised")
	case "daemon":
		return strings.Contains(lineLower, "daemon") ||
			strings.Contains(lineLower, "control server")
	default:
		return strings.Contains(lineLower, filter)
	}
}

// stripANSI removes ANSI escape codes from a string
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if s[i] == 'm' {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
