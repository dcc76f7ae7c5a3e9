package daemon

import (
	"fmt"
	"log/slog"
	"time"
)

// sourceStopTimeout is how long a log source gets to exit after SIGTERM
const sourceStopTimeout = 2 * time.Second

// gracefulTerminate sends SIGTERM first, waits for the process to be reaped,
// then falls back to SIGKILL. The process is always reaped on return unless
// it survives SIGKILL.
func gracefulTerminate(proc SourceProcess, timeout time.Duration) error {
	pid := proc.Pid()
	if err := proc.Terminate(); err != nil {
		slog.Warn("Failed to send SIGTERM to log source, forcing kill", "pid", pid, "error", err)
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to kill log source (pid %d): %w", pid, err)
		}
	}

	reaped := make(chan error, 1)
	go func() {
		reaped <- proc.Wait()
	}()

	select {
	case err := <-reaped:
		return err
	case <-time.After(timeout):
	}

	slog.Warn("Log source did not exit in time, forcing kill", "pid", pid, "timeout", timeout)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill log source (pid %d): %w", pid, err)
	}

	select {
	case err := <-reaped:
		return err
	case <-time.After(timeout):
		slog.Error("Log source survived SIGKILL", "pid", pid)
		return fmt.Errorf("log source (pid %d) survived SIGKILL", pid)
	}
}
