package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go.olrik.dev/logwarden/internal/daemon"
	"go.olrik.dev/logwarden/internal/db"
	"go.olrik.dev/logwarden/internal/logsource"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{5*time.Minute + 3*time.Second, "5m3s"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{48 * time.Hour, "2d"},
		{50 * time.Hour, "2d2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	started := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	response := daemon.Response{
		Data: &daemon.StatusData{
			Version:   "1.0.0",
			Pid:       321,
			StartedAt: started,
			Socket:    "@logwarden",
			LogFile:   "/cache/logwarden.log",
			Buffers:   []string{"main", "crash"},
			Tailer:    daemon.TailerStats{Sessions: 2, Published: 100, Dropped: 3, SourcePid: 654},
			Source:    &logsource.Stats{Pid: 654, RSSBytes: 2 << 20, CPU: 1.5},
			Channels: []daemon.ChannelStatus{
				{Name: "event", Attached: true, Delivered: 10, Attaches: 1},
				{Name: "log", Attached: false, Delivered: 90, Failures: 1, Attaches: 1},
			},
			Watchdog: &daemon.WatchdogStats{Target: "@magiskd", Connected: true, Probes: 1},
		},
	}
	response.AddMessage("Daemon running", "INFO")
	response.AddMessage("Something odd", "WARN")

	var buf bytes.Buffer
	printStatus(&buf, response, started.Add(90*time.Second), palette{})
	out := buf.String()

	for _, want := range []string{
		"running (pid 321, version 1.0.0, up 1m30s)",
		"main, crash",
		"pid 654, rss 2.0 MiB",
		"2 sessions, 100 lines published, 3 dropped",
		"event  attached  10 delivered",
		"log    detached  90 delivered, 1 attaches, 1 failures",
		"@magiskd holding, 1 probes, 0 terminations",
		"WARN: Something odd",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("expected no colour codes with a disabled palette")
	}
	if strings.Contains(out, "Daemon running\n") {
		t.Error("INFO messages should not be repeated in the status output")
	}
}

func TestPrintStatusWithoutData(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, daemon.Response{}, time.Now(), palette{})
	if !strings.Contains(buf.String(), "without status data") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestPrintEventsOldestFirst(t *testing.T) {
	now := time.Now()
	events := []db.Event{
		{Category: "daemon", EventType: "stop", Timestamp: now},
		{Category: "daemon", EventType: "start", Timestamp: now.Add(-time.Hour)},
	}

	var buf bytes.Buffer
	printEvents(&buf, events)
	out := buf.String()
	if strings.Index(out, "start") > strings.Index(out, "stop") {
		t.Errorf("expected oldest event first:\n%s", out)
	}

	buf.Reset()
	printEvents(&buf, nil)
	if !strings.Contains(buf.String(), "No events") {
		t.Errorf("unexpected output for no events: %q", buf.String())
	}
}
