package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.olrik.dev/logwarden/internal/daemon"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// palette switches colour output on or off
type palette struct {
	enabled bool
}

func (p palette) paint(color, s string) string {
	if !p.enabled {
		return s
	}
	return color + s + colorReset
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs > 0 {
			return fmt.Sprintf("%dm%ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// printStatus renders a STATUS response for humans
func printStatus(w io.Writer, response daemon.Response, now time.Time, p palette) {
	data := response.Data
	if data == nil {
		fmt.Fprintln(w, p.paint(colorYellow, "Daemon answered without status data"))
		return
	}

	fmt.Fprintf(w, "%s %s (pid %d, version %s, up %s)\n",
		p.paint(colorBold, "Daemon:  "), p.paint(colorGreen, "running"),
		data.Pid, data.Version, formatDuration(now.Sub(data.StartedAt)))
	fmt.Fprintf(w, "%s %s\n", p.paint(colorBold, "Socket:  "), data.Socket)
	fmt.Fprintf(w, "%s %s\n", p.paint(colorBold, "Log file:"), data.LogFile)

	buffers := strings.Join(data.Buffers, ", ")
	if buffers == "" {
		buffers = p.paint(colorGray, "source defaults")
	}
	fmt.Fprintf(w, "%s %s\n", p.paint(colorBold, "Buffers: "), buffers)

	source := fmt.Sprintf("%d sessions, %d lines published, %d dropped",
		data.Tailer.Sessions, data.Tailer.Published, data.Tailer.Dropped)
	if data.Source != nil {
		source = fmt.Sprintf("pid %d, rss %s, cpu %.1f%%, %s",
			data.Source.Pid, humanize.IBytes(data.Source.RSSBytes), data.Source.CPU, source)
	} else if data.Tailer.SourcePid == 0 {
		source = p.paint(colorYellow, "restarting") + ", " + source
	}
	fmt.Fprintf(w, "%s %s\n", p.paint(colorBold, "Source:  "), source)

	fmt.Fprintln(w, p.paint(colorBold, "Channels:"))
	for _, ch := range data.Channels {
		state := p.paint(colorGray, "detached")
		if ch.Attached {
			state = p.paint(colorGreen, "attached")
		}
		failures := fmt.Sprintf("%d failures", ch.Failures)
		if ch.Failures > 0 {
			failures = p.paint(colorRed, failures)
		}
		fmt.Fprintf(w, "  %-6s %s  %d delivered, %d attaches, %s\n",
			ch.Name, state, ch.Delivered, ch.Attaches, failures)
	}

	if wd := data.Watchdog; wd != nil {
		state := p.paint(colorYellow, "waiting")
		if wd.Connected {
			state = p.paint(colorGreen, "holding")
		}
		fmt.Fprintf(w, "%s %s %s, %d probes, %d terminations\n",
			p.paint(colorBold, "Watchdog:"), wd.Target, state, wd.Probes, wd.Terminations)
	}

	for _, msg := range response.Messages {
		if msg.Status == "WARN" || msg.Status == "ERROR" {
			fmt.Fprintf(w, "%s %s\n", p.paint(colorYellow, msg.Status+":"), msg.Message)
		}
	}
}
