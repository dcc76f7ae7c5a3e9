package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/logsource"
)

const (
	connectRetryInterval = 10 * time.Millisecond
	startTimeout         = 10 * time.Second
)

// Dial opens one connection to the daemon
func Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}

// Connect dials the daemon, retrying every 10ms until it accepts or ctx ends.
func Connect(ctx context.Context, address string) (net.Conn, error) {
	for {
		conn, err := Dial(ctx, address)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("daemon did not accept connections: %w", errors.Join(ctx.Err(), err))
		case <-time.After(connectRetryInterval):
		}
	}
}

// sendOpcode dials once and writes opcode
func sendOpcode(ctx context.Context, address, opcode string) (net.Conn, error) {
	conn, err := Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(opcode + "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	return conn, nil
}

// Handshake performs one liveness round trip
func Handshake(ctx context.Context, address string) error {
	conn, err := sendOpcode(ctx, address, OpHandshake)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if strings.TrimSpace(reply) != OpHandshake {
		return fmt.Errorf("unexpected handshake reply %q", reply)
	}
	return nil
}

// Status fetches the daemon's STATUS document
func Status(ctx context.Context, address string) (Response, error) {
	conn, err := sendOpcode(ctx, address, OpStatus)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response from daemon: %w", err)
	}
	return ParseResponse(data)
}

// Attach subscribes to the transient event channel, waiting for the daemon
// to accept until ctx ends. The returned connection yields raw log lines until
// the daemon replaces or drops the subscriber.
func Attach(ctx context.Context, address string) (net.Conn, error) {
	conn, err := Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(OpAttach + "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	return conn, nil
}

// WaitForDaemon retries the handshake every 10ms until it succeeds or timeout
// elapses.
func WaitForDaemon(ctx context.Context, address string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, time.Second)
		lastErr = Handshake(attemptCtx, address)
		attemptCancel()
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon did not answer handshake within %s: %w", timeout, lastErr)
		case <-time.After(connectRetryInterval):
		}
	}
}

// StartDaemon checks that the log source works, launches argv detached and
// waits for the new daemon to answer a handshake. It returns the daemon's pid.
func StartDaemon(ctx context.Context, cfg *core.Configuration, runner logsource.SyncRunner, argv []string) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := Handshake(probeCtx, cfg.Socket)
	cancel()
	if err == nil {
		return 0, ErrAlreadyRunning
	}

	if !logsource.Available(ctx, runner, cfg.Source.Binary) {
		return 0, fmt.Errorf("%w: %s", ErrSourceUnavailable, cfg.Source.Binary)
	}

	if err := os.MkdirAll(cfg.ConfigPath, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create state directory: %w", err)
	}
	logPath := filepath.Join(cfg.ConfigPath, core.DaemonLogName)
	output, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer output.Close()

	pid, err := logsource.SpawnDetachedTo(argv, os.Environ(), output)
	if err != nil {
		return 0, fmt.Errorf("could not fork daemon process: %w", err)
	}
	slog.Debug("Daemon process launched", "pid", pid, "log", logPath)

	if err := WaitForDaemon(ctx, cfg.Socket, startTimeout); err != nil {
		return pid, err
	}
	return pid, nil
}

// StopDaemon sends SIGTERM to the pid recorded in pidFile and waits until the
// daemon stops answering handshakes.
func StopDaemon(ctx context.Context, pidFile, address string, timeout time.Duration) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("invalid PID file %s: %w", pidFile, err)
	}
	if !ValidateDaemonProcess(pid) {
		return fmt.Errorf("PID %d from %s is not a running logwarden daemon", pid, pidFile)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err := Handshake(attemptCtx, address)
		attemptCancel()
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon (pid %d) did not shut down within %s", pid, timeout)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
