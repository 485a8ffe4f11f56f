package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LoggerOptions controls where log records go.
type LoggerOptions struct {
	// Writer receives JSON records. Nil disables it.
	Writer io.Writer
	Debug  bool
	// File, when set, receives a copy of every record.
	File string
}

// InitLogger installs the process-wide logger. Records go to stderr, so
// stdout stays free for reports.
func InitLogger(debug bool, logFile string) {
	slog.SetDefault(NewLogger(LoggerOptions{Writer: os.Stderr, Debug: debug, File: logFile}))
}

// NewLogger builds a JSON logger from opts. A log file that cannot be opened
// is reported on the current default logger and skipped.
func NewLogger(opts LoggerOptions) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if opts.Debug {
		hopts.Level = slog.LevelDebug
	}

	var sinks teeHandler
	if opts.Writer != nil {
		sinks = append(sinks, slog.NewJSONHandler(opts.Writer, hopts))
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			slog.Error("Failed to open log file", "path", opts.File, "error", err)
		} else {
			sinks = append(sinks, slog.NewJSONHandler(f, hopts))
		}
	}

	switch len(sinks) {
	case 0:
		return slog.New(slog.NewJSONHandler(io.Discard, hopts))
	case 1:
		return slog.New(sinks[0])
	}
	return slog.New(sinks)
}

// teeHandler fans every record out to all of its handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes the record to every handler that accepts its level and
// joins their errors.
func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = fn(h)
	}
	return out
}

// LogDebug logs a debug message.
func LogDebug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// LogInfo logs an info message.
func LogInfo(msg string, args ...any) {
	slog.Info(msg, args...)
}

// LogWarn logs a warning.
func LogWarn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// LogError logs msg at error level with err attached.
func LogError(msg string, err error, args ...any) {
	slog.Error(msg, append(args, "error", err)...)
}

// LogInfof formats only when info records are enabled.
func LogInfof(format string, args ...any) {
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		slog.Info(fmt.Sprintf(format, args...))
	}
}
