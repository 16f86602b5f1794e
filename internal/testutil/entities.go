package testutil

import (
	"log/slog"
	"time"

	"github.com/roach88/optisync/internal/model"
)

// T0 is the start time used by fake clocks in tests.
var T0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// Task returns an entity with a single status field.
func Task(id, status string) model.Entity {
	return model.Entity{ID: id, Fields: model.Fields{"status": model.String(status)}}
}

// Versioned returns e with version v.
func Versioned(e model.Entity, v int64) model.Entity {
	e.Version = model.VersionPtr(v)
	return e
}

// Stamped returns e with updatedAt ts.
func Stamped(e model.Entity, ts time.Time) model.Entity {
	e.UpdatedAt = ts
	return e
}

// Status is a one-field diff.
func Status(s string) model.Fields {
	return model.Fields{"status": model.String(s)}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
