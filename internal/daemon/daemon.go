package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"go.olrik.dev/logwarden/internal/core"
	"go.olrik.dev/logwarden/internal/db"
	"go.olrik.dev/logwarden/internal/logsource"
)

var (
	// ErrAlreadyRunning is returned when another daemon holds the lock or socket
	ErrAlreadyRunning = errors.New("daemon is already running")
	// ErrSourceUnavailable is returned when the log source cannot be read
	ErrSourceUnavailable = errors.New("log source is not available")
)

// Daemon tails the log source, serves control connections and watches the
// supervised process.
type Daemon struct {
	cfg       *core.Configuration
	launcher  Launcher
	runner    logsource.SyncRunner
	registry  *Registry
	tailer    *Tailer
	watchdog  *Watchdog
	server    *ControlServer
	database  *db.DB
	buffers   []string
	startedAt time.Time
}

// New creates a daemon for cfg. Nothing is started until Run.
func New(cfg *core.Configuration) *Daemon {
	return &Daemon{
		cfg:      cfg,
		launcher: ExecLauncher{},
		runner:   logsource.Runner{},
	}
}

// Run starts the daemon and blocks until ctx is cancelled or a termination
// signal arrives. Failing to take the instance lock or bind the control socket
// is fatal; everything after that keeps running on its own.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()

	d.startedAt = time.Now()

	if err := os.MkdirAll(d.cfg.ConfigPath, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	fileLock := flock.New(filepath.Join(d.cfg.ConfigPath, core.LockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer fileLock.Unlock()

	slog.Info("logwarden daemon starting", "version", core.Version, "pid", os.Getpid())

	dbPath := filepath.Join(d.cfg.ConfigPath, core.DatabaseName)
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
	} else {
		slog.Debug("Event journal opened", "path", database.Path())
		d.database = database
		defer d.closeDatabase()
	}

	pidFilePath := filepath.Join(d.cfg.ConfigPath, core.PidFileName)
	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("Failed to write PID file", "path", pidFilePath, "error", err)
	}
	defer os.Remove(pidFilePath)

	listener, err := d.setup(ctx)
	if err != nil {
		return err
	}
	defer d.registry.CloseAll()

	d.recordEvent(db.CategoryDaemon, "start", fmt.Sprintf("version %s, pid %d, buffers %v", core.Version, os.Getpid(), d.buffers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.tailer.Run(gctx)
	})
	if d.watchdog != nil {
		g.Go(func() error {
			return d.watchdog.Run(gctx)
		})
	}
	g.Go(func() error {
		return d.server.Serve(gctx, listener)
	})

	err = g.Wait()
	slog.Info("logwarden daemon stopping", "uptime", time.Since(d.startedAt).Round(time.Second))
	d.recordEvent(db.CategoryDaemon, "stop", fmt.Sprintf("pid %d, lines published %d", os.Getpid(), d.tailer.Stats().Published))
	return err
}

// setup builds the registry, tailer, watchdog and control server and binds
// the control socket.
func (d *Daemon) setup(ctx context.Context) (net.Listener, error) {
	src := d.cfg.Source

	d.buffers = logsource.Probe(ctx, d.runner, src.Binary, src.Buffers)
	slog.Info("Probed log buffers", "available", d.buffers, "candidates", src.Buffers)

	inv := logsource.Invocation{
		Binary:       src.Binary,
		Buffers:      d.buffers,
		Format:       src.Format,
		Tags:         src.Tags,
		ExtraFilters: src.ExtraFilters,
	}
	if n := logsource.KillOrphans(inv.TailArgs()); n > 0 {
		slog.Info("Cleaned up orphan log sources from previous daemon", "count", n)
	}

	d.registry = NewRegistry(
		PredicateFromConfig(d.cfg.Channels[ChannelEvent.String()]),
		PredicateFromConfig(d.cfg.Channels[ChannelLog.String()]),
	)
	d.registry.SetWriteTimeout(d.cfg.Subscriber.WriteTimeout)
	d.registry.SetSinkClearedHandler(func(id ChannelID, err error) {
		if id == ChannelLog {
			slog.Error("Persistent log write failed, log channel disabled", "path", d.cfg.LogFile, "error", err)
		}
		d.recordEvent(db.CategorySubscriber, "sink_cleared", fmt.Sprintf("%s: %v", id, err))
	})

	if d.cfg.LogFile != "" {
		logFile, err := openPersistentLog(d.cfg.LogFile)
		if err != nil {
			slog.Error("Failed to open persistent log", "path", d.cfg.LogFile, "error", err)
		} else {
			d.registry.SetSink(ChannelLog, logFile)
		}
	}

	d.tailer = NewTailer(d.registry, d.launcher, inv, src.DroppedMarker, src.RestartBackoff)
	d.tailer.SetEventRecorder(d.journal())

	if d.cfg.Supervised.Socket != "" {
		d.watchdog = NewWatchdog(NewSocketConnector(d.cfg.Supervised), d.cfg.Supervised)
		d.watchdog.SetEventRecorder(d.journal())
	}

	d.server = NewControlServer(d.registry, d.status)
	d.server.SetEventRecorder(d.journal())

	listener, err := Listen(d.cfg.Socket)
	if err != nil {
		d.registry.CloseAll()
		if errors.Is(err, ErrAlreadyRunning) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", d.cfg.Socket, err)
	}
	return listener, nil
}

// status builds the STATUS document
func (d *Daemon) status() Response {
	response := Response{}

	tailer := d.tailer.Stats()
	data := &StatusData{
		Version:   core.Version,
		Pid:       os.Getpid(),
		StartedAt: d.startedAt,
		Socket:    d.cfg.Socket,
		LogFile:   d.cfg.LogFile,
		Buffers:   d.buffers,
		Tailer:    tailer,
		Channels:  d.registry.Snapshot(),
	}
	if tailer.SourcePid != 0 {
		if st, err := logsource.ReadStats(tailer.SourcePid); err == nil {
			data.Source = &st
		}
	}
	if d.watchdog != nil {
		ws := d.watchdog.Stats()
		data.Watchdog = &ws
	}
	response.Data = data

	if len(d.buffers) == 0 {
		response.AddMessage("No log buffers passed probing; the source reads its defaults", "WARN")
	}
	response.AddMessage(fmt.Sprintf("Daemon running, uptime %s", time.Since(d.startedAt).Round(time.Second)), "INFO")
	return response
}

// journal returns the event recorder, or nil when the database is unavailable
func (d *Daemon) journal() EventRecorder {
	if d.database == nil {
		return nil
	}
	return d.database
}

func (d *Daemon) recordEvent(category, eventType, details string) {
	recordEvent(d.journal(), category, eventType, details)
}

func (d *Daemon) closeDatabase() {
	if err := d.database.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}
