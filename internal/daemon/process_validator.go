package daemon

import (
	"log/slog"
	"os"
	"strings"
	"syscall"
)

// ValidateDaemonProcess checks that pid is alive and still looks like a
// logwarden daemon, so a stale PID file never gets an unrelated process
// signalled after PID reuse.
func ValidateDaemonProcess(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		slog.Debug("Process not found", "pid", pid)
		return false
	}

	// Signal 0 only checks that the process exists and we may signal it
	if err := process.Signal(syscall.Signal(0)); err != nil {
		slog.Debug("Process not accessible", "pid", pid, "error", err)
		return false
	}

	cmdline, err := getProcessCommandLine(pid)
	if err != nil {
		slog.Debug("Failed to get process command line", "pid", pid, "error", err)
		return false
	}
	if !matchesCommandLine(cmdline, daemonArgs) {
		slog.Debug("Process command line mismatch", "pid", pid, "actual", cmdline)
		return false
	}
	return true
}

// daemonArgs are the arguments every daemon command line carries
var daemonArgs = []string{"daemon"}

// matchesCommandLine reports whether every expected argument appears as a
// whole word in actual.
func matchesCommandLine(actual string, expected []string) bool {
	if actual == "" {
		return false
	}
	fields := strings.Fields(actual)
	for _, arg := range expected {
		found := false
		for _, f := range fields {
			if f == arg {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// getProcessCommandLine returns the space-joined command line of pid.
// Implemented in process_validator_linux.go and process_validator_darwin.go.
func getProcessCommandLine(pid int) (string, error) {
	return getProcessCommandLinePlatform(pid)
}
