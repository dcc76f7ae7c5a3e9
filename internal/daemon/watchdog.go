package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/db"
)

// WatchdogStats is a snapshot of the watchdog's counters
type WatchdogStats struct {
	Target       string `json:"target"`
	Connected    bool   `json:"connected"`
	Probes       uint64 `json:"probes"`
	Terminations uint64 `json:"terminations"`
}

// Watchdog holds a connection to the supervised process open and notices
// when it goes away. It never restarts anything itself; respawning is the
// connector's business.
type Watchdog struct {
	connector Connector
	target    string
	handshake string
	grace     time.Duration
	backoff   time.Duration
	events    EventRecorder

	connected    atomic.Bool
	probes       atomic.Uint64
	terminations atomic.Uint64
}

// NewWatchdog creates a watchdog probing through connector
func NewWatchdog(connector Connector, cfg core.SupervisedConfig) *Watchdog {
	return &Watchdog{
		connector: connector,
		target:    cfg.Socket,
		handshake: cfg.Handshake,
		grace:     cfg.GracePeriod,
		backoff:   cfg.RetryBackoff,
	}
}

// SetEventRecorder sets where terminations are journaled
func (w *Watchdog) SetEventRecorder(rec EventRecorder) {
	w.events = rec
}

// Run waits out the grace period, then probes forever until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	slog.Info("Watchdog started", "target", w.target, "grace_period", w.grace)
	if !sleepContext(ctx, w.grace) {
		return nil
	}

	for {
		started := time.Now()
		held, err := w.probe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err != nil:
			slog.Debug("Supervised process not available", "target", w.target, "error", err)
		case held:
			w.terminations.Add(1)
			slog.Warn("Supervised process terminated", "target", w.target, "held", time.Since(started).Round(time.Millisecond))
			recordEvent(w.events, db.CategoryWatchdog, "supervised_terminated", w.target)
		}

		if elapsed := time.Since(started); elapsed < w.backoff {
			if !sleepContext(ctx, w.backoff-elapsed) {
				return nil
			}
		}
	}
}

// probe connects, sends the handshake and blocks until the peer sends
// anything or goes away.
func (w *Watchdog) probe(ctx context.Context) (bool, error) {
	conn, err := w.connector.Connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	w.probes.Add(1)
	w.connected.Store(true)
	defer w.connected.Store(false)
	slog.Debug("Holding connection to supervised process", "target", w.target)

	if _, err := conn.Write([]byte(w.handshake + "\n")); err != nil {
		slog.Debug("Failed to send handshake to supervised process", "error", err)
	}

	buf := make([]byte, 1)
	conn.Read(buf)
	return true, nil
}

// Stats returns the watchdog's counters
func (w *Watchdog) Stats() WatchdogStats {
	return WatchdogStats{
		Target:       w.target,
		Connected:    w.connected.Load(),
		Probes:       w.probes.Load(),
		Terminations: w.terminations.Load(),
	}
}

// sleepContext sleeps for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
