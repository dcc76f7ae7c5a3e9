package daemon

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// ChannelID identifies one of the daemon's fixed fan-out channels
type ChannelID int

const (
	// ChannelEvent carries transient events to an attached subscriber
	ChannelEvent ChannelID = iota
	// ChannelLog carries lines to the persistent log file
	ChannelLog

	channelCount
)

func (c ChannelID) String() string {
	switch c {
	case ChannelEvent:
		return "event"
	case ChannelLog:
		return "log"
	default:
		return "unknown"
	}
}

type channel struct {
	predicate Predicate
	sink      io.WriteCloser
	delivered uint64
	failures  uint64
	attaches  uint64
}

// ChannelStatus is a read-only view of one channel
type ChannelStatus struct {
	Name      string `json:"name"`
	Attached  bool   `json:"attached"`
	Delivered uint64 `json:"delivered"`
	Failures  uint64 `json:"failures"`
	Attaches  uint64 `json:"attaches"`
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Registry pairs each channel's predicate with its current sink. All access
// goes through one mutex; a channel holds at most one live sink.
type Registry struct {
	mu           sync.Mutex
	channels     [channelCount]channel
	writeTimeout time.Duration
	onCleared    func(ChannelID, error)
}

// NewRegistry creates a registry with the given predicates and no sinks.
// A nil predicate matches every line.
func NewRegistry(event, log Predicate) *Registry {
	if event == nil {
		event = MatchAll
	}
	if log == nil {
		log = MatchAll
	}
	r := &Registry{}
	r.channels[ChannelEvent].predicate = event
	r.channels[ChannelLog].predicate = log
	return r
}

// SetWriteTimeout bounds each write to sinks that support deadlines.
// Zero disables the deadline.
func (r *Registry) SetWriteTimeout(d time.Duration) {
	r.mu.Lock()
	r.writeTimeout = d
	r.mu.Unlock()
}

// SetSinkClearedHandler registers a callback invoked, outside the lock,
// whenever a failed write clears a channel's sink.
func (r *Registry) SetSinkClearedHandler(fn func(ChannelID, error)) {
	r.mu.Lock()
	r.onCleared = fn
	r.mu.Unlock()
}

// SetSink replaces a channel's sink, closing the previous one. A nil sink
// unsets the channel.
func (r *Registry) SetSink(id ChannelID, sink io.WriteCloser) {
	if id < 0 || id >= channelCount {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := &r.channels[id]
	if ch.sink != nil && ch.sink != sink {
		if err := ch.sink.Close(); err != nil {
			slog.Debug("Error closing replaced sink", "channel", id, "error", err)
		}
	}
	ch.sink = sink
	if sink != nil {
		ch.attaches++
	}
}

// Publish writes line to every channel with a live sink whose predicate
// matches, in channel order. A failed write closes and clears that sink
// without affecting the others. Returns the number of successful writes.
func (r *Registry) Publish(line []byte) int {
	type cleared struct {
		id  ChannelID
		err error
	}
	var failed []cleared

	r.mu.Lock()
	delivered := 0
	for i := range r.channels {
		ch := &r.channels[i]
		if ch.sink == nil || !ch.predicate(line) {
			continue
		}
		if err := r.write(ch.sink, line); err != nil {
			ch.sink.Close()
			ch.sink = nil
			ch.failures++
			failed = append(failed, cleared{ChannelID(i), err})
			continue
		}
		ch.delivered++
		delivered++
	}
	onCleared := r.onCleared
	r.mu.Unlock()

	for _, f := range failed {
		slog.Info("Subscriber sink cleared after write failure", "channel", f.id, "error", f.err)
		if onCleared != nil {
			onCleared(f.id, f.err)
		}
	}
	return delivered
}

func (r *Registry) write(sink io.WriteCloser, line []byte) error {
	if r.writeTimeout > 0 {
		if d, ok := sink.(writeDeadliner); ok {
			d.SetWriteDeadline(time.Now().Add(r.writeTimeout))
		}
	}
	_, err := sink.Write(line)
	return err
}

// Attached reports whether a channel currently has a sink
func (r *Registry) Attached(id ChannelID) bool {
	if id < 0 || id >= channelCount {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[id].sink != nil
}

// Snapshot returns the state of every channel
func (r *Registry) Snapshot() []ChannelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ChannelStatus, 0, channelCount)
	for i := range r.channels {
		ch := &r.channels[i]
		out = append(out, ChannelStatus{
			Name:      ChannelID(i).String(),
			Attached:  ch.sink != nil,
			Delivered: ch.delivered,
			Failures:  ch.failures,
			Attaches:  ch.attaches,
		})
	}
	return out
}

// CloseAll closes and clears every sink
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.channels {
		if r.channels[i].sink != nil {
			r.channels[i].sink.Close()
			r.channels[i].sink = nil
		}
	}
}
