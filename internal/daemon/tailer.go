package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.olrik.dev/logwarden/internal/db"
	"go.olrik.dev/logwarden/internal/logsource"
)

// SourceProcess is a running log-source child
type SourceProcess interface {
	Pid() int
	Stdout() io.ReadCloser
	Terminate() error
	Kill() error
	Wait() error
}

// Launcher starts log-source processes
type Launcher interface {
	Spawn(argv []string) (SourceProcess, error)
	RunSync(ctx context.Context, argv []string) (int, error)
}

// ExecLauncher launches real processes through the logsource package
type ExecLauncher struct {
	logsource.Runner
}

func (ExecLauncher) Spawn(argv []string) (SourceProcess, error) {
	p, err := logsource.Spawn(argv)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// TailerStats is a snapshot of the tailer's counters
type TailerStats struct {
	Sessions  uint64 `json:"sessions"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	SourcePid int    `json:"source_pid,omitempty"`
}

// Tailer keeps the log source running and publishes its output. Each session
// spawns the source, streams it to end of file, reaps it and clears the
// source's buffers so the next session starts without replaying history.
type Tailer struct {
	registry  *Registry
	launcher  Launcher
	tailArgs  []string
	clearArgs []string
	marker    byte
	backoff   time.Duration
	events    EventRecorder

	sessions  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	pid       atomic.Int64
}

// NewTailer creates a tailer for inv publishing into registry.
func NewTailer(registry *Registry, launcher Launcher, inv logsource.Invocation, marker byte, backoff time.Duration) *Tailer {
	return &Tailer{
		registry:  registry,
		launcher:  launcher,
		tailArgs:  inv.TailArgs(),
		clearArgs: inv.ClearArgs(),
		marker:    marker,
		backoff:   backoff,
	}
}

// SetEventRecorder sets where session events are journaled
func (t *Tailer) SetEventRecorder(rec EventRecorder) {
	t.events = rec
}

// Run loops until ctx is cancelled. Source failures are never fatal.
func (t *Tailer) Run(ctx context.Context) error {
	slog.Info("Log tailer started", "argv", t.tailArgs)
	for {
		if ctx.Err() != nil {
			return nil
		}

		started := time.Now()
		if err := t.runSession(ctx); err != nil {
			slog.Error("Log source session failed", "error", err)
			recordEvent(t.events, db.CategorySource, "spawn_failed", err.Error())
		}
		if ctx.Err() != nil {
			return nil
		}

		if elapsed := time.Since(started); elapsed < t.backoff {
			if !sleepContext(ctx, t.backoff-elapsed) {
				return nil
			}
		}
	}
}

func (t *Tailer) runSession(ctx context.Context) error {
	proc, err := t.launcher.Spawn(t.tailArgs)
	if err != nil {
		return fmt.Errorf("failed to start log source: %w", err)
	}

	pid := proc.Pid()
	t.pid.Store(int64(pid))
	session := t.sessions.Add(1)
	slog.Debug("Log source started", "pid", pid, "session", session)

	// Cancellation stops the source, which ends the stream below
	stop := context.AfterFunc(ctx, func() {
		proc.Terminate()
	})

	t.stream(proc.Stdout())
	stop()

	if err := gracefulTerminate(proc, sourceStopTimeout); err != nil {
		slog.Warn("Failed to reap log source", "pid", pid, "error", err)
	}
	proc.Stdout().Close()
	t.pid.Store(0)

	slog.Info("Log source stream ended, restarting", "pid", pid, "session", session)
	recordEvent(t.events, db.CategorySource, "restart", fmt.Sprintf("session %d, pid %d", session, pid))

	if ctx.Err() != nil {
		return nil
	}

	code, err := t.launcher.RunSync(ctx, t.clearArgs)
	if err != nil {
		slog.Warn("Failed to clear log source buffers", "error", err)
	} else if code != 0 {
		slog.Warn("Clearing log source buffers failed", "exit_code", code)
	}
	return nil
}

func (t *Tailer) stream(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("Log source read error", "error", err)
			}
			return
		}
	}
}

func (t *Tailer) handleLine(line []byte) {
	if line[0] == t.marker {
		t.dropped.Add(1)
		return
	}
	t.registry.Publish(line)
	t.published.Add(1)
}

// Stats returns the tailer's counters
func (t *Tailer) Stats() TailerStats {
	return TailerStats{
		Sessions:  t.sessions.Load(),
		Published: t.published.Load(),
		Dropped:   t.dropped.Load(),
		SourcePid: int(t.pid.Load()),
	}
}
