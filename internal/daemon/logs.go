package daemon

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// SetupLogging installs a tint handler writing to w as the default logger.
// Verbosity 1 and above enables debug output. Colour is only used when w is
// a terminal.
func SetupLogging(w io.Writer, verbose int) {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	slog.SetDefault(slog.New(handler))
}

// openPersistentLog moves an existing log aside to <path>.bak and opens a
// fresh, truncated file for appending.
func openPersistentLog(path string) (*os.File, error) {
	if err := os.Rename(path, path+".bak"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to rotate persistent log", "path", path, "error", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
}
