package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/logsource"
)

const defaultPollInterval = 10 * time.Millisecond

// Connector opens a connection to the supervised process
type Connector interface {
	Connect(ctx context.Context) (net.Conn, error)
}

// SocketConnector dials the supervised process's control socket.
//
// Connect has a side effect: when nothing answers and Command is set, it
// launches Command in its own session and polls the socket until the new
// instance accepts or SpawnTimeout elapses. Callers that only want to observe
// the process must leave Command empty.
type SocketConnector struct {
	Address      string
	Command      []string
	SpawnTimeout time.Duration
	PollInterval time.Duration

	spawn func(argv []string, env []string) (int, error)
}

// NewSocketConnector builds a connector from the supervised process config
func NewSocketConnector(cfg core.SupervisedConfig) *SocketConnector {
	return &SocketConnector{
		Address:      cfg.Socket,
		Command:      cfg.Command,
		SpawnTimeout: cfg.SpawnTimeout,
		PollInterval: defaultPollInterval,
		spawn:        logsource.SpawnDetached,
	}
}

func (c *SocketConnector) Connect(ctx context.Context) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err == nil || len(c.Command) == 0 {
		return conn, err
	}

	spawn := c.spawn
	if spawn == nil {
		spawn = logsource.SpawnDetached
	}
	pid, spawnErr := spawn(c.Command, os.Environ())
	if spawnErr != nil {
		return nil, errors.Join(err, fmt.Errorf("failed to launch supervised process: %w", spawnErr))
	}
	slog.Info("Launched supervised process", "pid", pid, "command", c.Command[0])

	timeout := c.SpawnTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("supervised process did not accept connections: %w", waitCtx.Err())
		case <-ticker.C:
		}
		if conn, err := c.dial(waitCtx); err == nil {
			return conn, nil
		}
	}
}

func (c *SocketConnector) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", c.Address)
}
