package app

import (
	"io"
	"log/slog"
)

// newLogger builds the diagnostic logger. Diagnostics go to w, which is kept
// apart from the transcript writer, and unknown or empty levels mean warn so a
// plain run shows only the transcript.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
