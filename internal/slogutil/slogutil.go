package slogutil

import (
	"io"
	"log/slog"
	"strings"
)

// quietLevel is above ERROR, so nothing passes it
const quietLevel = slog.Level(100)

// NewLogger returns a logger writing the line format at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewLineHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewFormatLogger picks the JSON handler for format "json" and the line
// handler for anything else, so --format json keeps stderr machine readable.
func NewFormatLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return NewLogger(w, level)
}

// NewDiscardLogger returns a logger that writes nothing.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewLineHandler(io.Discard, &slog.HandlerOptions{Level: quietLevel}))
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// LevelFromString maps a config log level to slog, ignoring case.
// Unknown names give info.
func LevelFromString(s string) slog.Level {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level
	}
	return slog.LevelInfo
}

// LevelFromVerbosity maps -v/-q to a level. The CLI default is warn, -v is
// info and -vv is debug. Quiet wins over any -v.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	switch {
	case quiet:
		return quietLevel
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
