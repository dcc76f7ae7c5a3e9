package daemon

import (
	"log/slog"

	"go.olrik.dev/logwarden/internal/db"
)

// EventRecorder persists daemon events. *db.DB satisfies it.
type EventRecorder interface {
	LogEvent(category, eventType, details string) error
}

var _ EventRecorder = (*db.DB)(nil)

// recordEvent writes to rec if one is configured. Journal failures are
// logged and otherwise ignored.
func recordEvent(rec EventRecorder, category, eventType, details string) {
	if rec == nil {
		return
	}
	if err := rec.LogEvent(category, eventType, details); err != nil {
		slog.Error("Failed to record event", "category", category, "event", eventType, "error", err)
	}
}
