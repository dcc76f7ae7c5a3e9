package daemon

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// quietLogger suppresses default slog output during tests and restores it after.
func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// shortTempDir creates a short temp directory to stay under the unix socket path length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "lw-")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// waitFor polls cond until it returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recordingSink is an in-memory sink that records writes and closes.
type recordingSink struct {
	mu      sync.Mutex
	lines   []string
	closes  int
	failErr error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	s.lines = append(s.lines, string(p))
	return len(p), nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *recordingSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// recordingJournal collects recorded events in memory.
type recordingJournal struct {
	mu     sync.Mutex
	events []string
}

func (j *recordingJournal) LogEvent(category, eventType, details string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, category+"/"+eventType)
	return nil
}

func (j *recordingJournal) Count(key string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.events {
		if e == key {
			n++
		}
	}
	return n
}
