// Package logsource builds and runs the external log-source process
// (logcat or a compatible binary) that the daemon tails.
package logsource

import (
	"context"
	"log/slog"
	"slices"
)

// Invocation is the probed description of a log-source command line.
type Invocation struct {
	Binary       string
	Buffers      []string // Only buffers that passed the dry-run probe
	Format       string
	Tags         []string
	ExtraFilters []string
}

func (inv Invocation) bufferArgs() []string {
	args := []string{inv.Binary}
	for _, b := range inv.Buffers {
		args = append(args, "-b", b)
	}
	return args
}

// TailArgs returns the argv used to stream the log.
func (inv Invocation) TailArgs() []string {
	args := inv.bufferArgs()
	if inv.Format != "" {
		args = append(args, "-v", inv.Format)
	}
	if len(inv.Tags) > 0 {
		args = append(args, "-s")
		args = append(args, inv.Tags...)
	}
	return append(args, inv.ExtraFilters...)
}

// ClearArgs returns the argv that flushes the source's ring buffers.
func (inv Invocation) ClearArgs() []string {
	return append(inv.bufferArgs(), "-c")
}

// DumpProbeArgs returns the argv of a dry run against the default buffers.
func DumpProbeArgs(binary string) []string {
	return []string{binary, "-d", "-f", "/dev/null"}
}

// BufferProbeArgs returns the argv of a dry run against a single buffer.
func BufferProbeArgs(binary, buffer string) []string {
	return []string{binary, "-b", buffer, "-d", "-f", "/dev/null"}
}

// SyncRunner runs a command to completion and reports its exit status.
type SyncRunner interface {
	RunSync(ctx context.Context, argv []string) (int, error)
}

// Probe returns the subset of candidates the source accepts, in candidate
// order. A failed or non-zero probe means the buffer is unsupported.
func Probe(ctx context.Context, runner SyncRunner, binary string, candidates []string) []string {
	var supported []string
	for _, buf := range candidates {
		if slices.Contains(supported, buf) {
			continue
		}
		code, err := runner.RunSync(ctx, BufferProbeArgs(binary, buf))
		if err != nil || code != 0 {
			slog.Debug("Log buffer unsupported, skipping", "buffer", buf, "exit_code", code, "error", err)
			continue
		}
		supported = append(supported, buf)
	}
	return supported
}

// Available reports whether the source binary can dump its log at all.
func Available(ctx context.Context, runner SyncRunner, binary string) bool {
	code, err := runner.RunSync(ctx, DumpProbeArgs(binary))
	return err == nil && code == 0
}
