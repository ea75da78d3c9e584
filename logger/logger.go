package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const loggerKey contextKey = "logger"

// Console returns the human readable writer used by the CLI.
func Console() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
}

// New creates a console logger for interactive runs.
func New() zerolog.Logger {
	return NewWithWriter(Console())
}

// NewWithWriter creates a structured logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// NewWithWriters fans every event out to all writers, e.g. the console and
// a batch event sink.
func NewWithWriters(ws ...io.Writer) zerolog.Logger {
	return NewWithWriter(zerolog.MultiLevelWriter(ws...))
}

// WithContext adds the logger to the context
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext retrieves the logger from the context. A context without a
// logger yields a disabled logger so library code stays silent.
func FromContext(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}
