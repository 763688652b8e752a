// Package vmlog provides the compiler's only logging surface: a thin
// leveled wrapper over log/slog used only by internal/compiler,
// internal/patch and internal/unwind (cache hit/miss, patch resolution,
// exception dispatch). It is deliberately not used inside internal/codegen's
// per-instruction emission loop, matching the teacher's own silence in its
// hot path.
package vmlog

import (
	"log/slog"
	"os"
)

// Logger is the leveled logger every package that logs at all takes as a
// constructor argument, rather than reaching for a package-level global.
type Logger struct {
	l *slog.Logger
}

// New wraps h, or a text handler to stderr if h is nil.
func New(h slog.Handler) *Logger {
	if h == nil {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
	}
	return &Logger{l: slog.New(h)}
}

// Discard returns a Logger that drops every record, for callers (mainly
// tests) with no interest in diagnostics.
func Discard() *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (g *Logger) Debug(msg string, args ...any) { g.l.Debug(msg, args...) }
func (g *Logger) Warn(msg string, args ...any)  { g.l.Warn(msg, args...) }
func (g *Logger) Error(msg string, args ...any) { g.l.Error(msg, args...) }

// With returns a Logger that always includes the given key/value pairs,
// for per-method or per-thread context (method name, thread id).
func (g *Logger) With(args ...any) *Logger {
	return &Logger{l: g.l.With(args...)}
}
