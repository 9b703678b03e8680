// Package logging builds the structured logger shared by all apihunter
// components. Operator-facing progress lines stay on plain stderr; the
// logger carries diagnostics.
package logging

import (
	"io"
	"log/slog"
)

// New returns a text logger writing to w. Quiet only lets errors through,
// verbose enables info, debug enables everything. The default is warn.
func New(w io.Writer, verbose, debug, quiet bool) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case debug:
		level = slog.LevelDebug
	case verbose:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OrDefault returns l if non-nil, otherwise slog.Default().
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
