// Package notify carries degraded-result reports out of the engine.
//
// Operations that swallow a failure (a transform step that could not apply,
// an import that fell back to flattening) report it through a Notifier
// passed in by the caller instead of a process-wide toaster.
package notify

import (
	"log/slog"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// Notifier
// ─────────────────────────────────────────────────────────────

// Notifier receives human-readable reports with slog-style key/value args.
// *slog.Logger satisfies it.
type Notifier interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Discard returns a Notifier that drops everything.
func Discard() Notifier { return slog.New(slog.DiscardHandler) }

// OrDiscard returns n, or Discard when n is nil.
func OrDiscard(n Notifier) Notifier {
	if n == nil {
		return Discard()
	}
	return n
}

// ─────────────────────────────────────────────────────────────
// Recorder: test-friendly Notifier
// ─────────────────────────────────────────────────────────────

// Level of a recorded notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notification is a single recorded call.
type Notification struct {
	Level   Level
	Message string
	Args    []any
}

// Recorder records every notification. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	Notes []Notification
}

func (r *Recorder) Info(msg string, args ...any)  { r.add(LevelInfo, msg, args) }
func (r *Recorder) Warn(msg string, args ...any)  { r.add(LevelWarn, msg, args) }
func (r *Recorder) Error(msg string, args ...any) { r.add(LevelError, msg, args) }

func (r *Recorder) add(l Level, msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notes = append(r.Notes, Notification{Level: l, Message: msg, Args: args})
}

// Count returns how many notifications of level l were recorded.
func (r *Recorder) Count(l Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.Notes {
		if note.Level == l {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the recorded notifications.
func (r *Recorder) Snapshot() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.Notes))
	copy(out, r.Notes)
	return out
}
