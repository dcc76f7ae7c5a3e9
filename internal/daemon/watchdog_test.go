package daemon

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.olrik.dev/logwarden/internal/core"
)

// pipeConnector hands out in-memory connections. The supervised side reads
// the handshake and then runs hold, which decides when the process "dies".
type pipeConnector struct {
	mu         sync.Mutex
	handshakes []string
	calls      atomic.Int32
	fail       bool
	hold       func(conn net.Conn)
}

func (p *pipeConnector) Connect(ctx context.Context) (net.Conn, error) {
	p.calls.Add(1)
	if p.fail {
		return nil, errors.New("connection refused")
	}

	watchdogSide, supervisedSide := net.Pipe()
	go func() {
		line, err := bufio.NewReader(supervisedSide).ReadString('\n')
		if err == nil {
			p.mu.Lock()
			p.handshakes = append(p.handshakes, line)
			p.mu.Unlock()
		}
		if p.hold != nil {
			p.hold(supervisedSide)
		}
		supervisedSide.Close()
	}()
	return watchdogSide, nil
}

func (p *pipeConnector) Handshakes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.handshakes...)
}

func watchdogConfig(grace, backoff time.Duration) core.SupervisedConfig {
	return core.SupervisedConfig{
		Socket:       "@supervised",
		Handshake:    "HANDSHAKE",
		GracePeriod:  grace,
		RetryBackoff: backoff,
	}
}

func runWatchdog(t *testing.T, w *Watchdog) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("watchdog did not stop after cancellation")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func TestWatchdogDetectsTermination(t *testing.T) {
	quietLogger(t)

	connector := &pipeConnector{}
	journal := &recordingJournal{}
	w := NewWatchdog(connector, watchdogConfig(0, 10*time.Millisecond))
	w.SetEventRecorder(journal)
	stop := runWatchdog(t, w)

	waitFor(t, 5*time.Second, "two terminations", func() bool { return w.Stats().Terminations >= 2 })
	stop()

	for _, h := range connector.Handshakes() {
		if h != "HANDSHAKE\n" {
			t.Errorf("supervised process received %q", h)
		}
	}
	if journal.Count("watchdog/supervised_terminated") < 2 {
		t.Errorf("expected terminations to be journaled")
	}
}

func TestWatchdogHoldsConnectionWhileAlive(t *testing.T) {
	quietLogger(t)

	release := make(chan struct{})
	connector := &pipeConnector{hold: func(net.Conn) { <-release }}
	w := NewWatchdog(connector, watchdogConfig(0, 10*time.Millisecond))
	stop := runWatchdog(t, w)

	waitFor(t, 5*time.Second, "connection", func() bool { return w.Stats().Connected })
	time.Sleep(50 * time.Millisecond)
	if st := w.Stats(); st.Terminations != 0 || st.Probes != 1 {
		t.Errorf("stats while held = %+v", st)
	}

	close(release)
	waitFor(t, 5*time.Second, "termination", func() bool { return w.Stats().Terminations >= 1 })
	stop()
}

func TestWatchdogRetriesWhenUnavailable(t *testing.T) {
	quietLogger(t)

	connector := &pipeConnector{fail: true}
	w := NewWatchdog(connector, watchdogConfig(0, 10*time.Millisecond))
	stop := runWatchdog(t, w)

	waitFor(t, 5*time.Second, "repeated connect attempts", func() bool { return connector.calls.Load() >= 3 })
	stop()

	if st := w.Stats(); st.Terminations != 0 || st.Probes != 0 {
		t.Errorf("refused connections must not count as probes or terminations: %+v", st)
	}
}

func TestWatchdogWaitsGracePeriod(t *testing.T) {
	quietLogger(t)

	connector := &pipeConnector{fail: true}
	w := NewWatchdog(connector, watchdogConfig(300*time.Millisecond, 10*time.Millisecond))
	stop := runWatchdog(t, w)

	time.Sleep(100 * time.Millisecond)
	if n := connector.calls.Load(); n != 0 {
		t.Errorf("connected %d times during the grace period", n)
	}
	waitFor(t, 5*time.Second, "first probe after grace", func() bool { return connector.calls.Load() >= 1 })
	stop()
}

func TestWatchdogStopsWhileHolding(t *testing.T) {
	quietLogger(t)

	block := make(chan struct{})
	defer close(block)
	connector := &pipeConnector{hold: func(net.Conn) { <-block }}
	w := NewWatchdog(connector, watchdogConfig(0, 10*time.Millisecond))
	stop := runWatchdog(t, w)

	waitFor(t, 5*time.Second, "connection", func() bool { return w.Stats().Connected })
	stop()

	if w.Stats().Terminations != 0 {
		t.Error("shutdown must not be reported as a termination")
	}
}
