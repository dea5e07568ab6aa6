// Package logger builds the process-wide slog logger and carries it through
// context. Field helpers keep attribute keys consistent across packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	// FormatJSON is used in production.
	FormatJSON Format = "json"
	// FormatText is used for local development.
	FormatText Format = "text"
)

// ParseLevel parses a string into a slog.Level. Unknown values map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatText,
	}
}

// New creates a slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ──────────────────────────────────────────────────────────────────────────────
// Context propagation
// ──────────────────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ──────────────────────────────────────────────────────────────────────────────
// Field helpers
// ──────────────────────────────────────────────────────────────────────────────

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

func SubscriberID(id string) slog.Attr  { return slog.String("subscriber_id", id) }
func Unit(n int) slog.Attr              { return slog.Int("unit", n) }
func Outcome(kind string) slog.Attr     { return slog.String("outcome", kind) }
func Day(d string) slog.Attr            { return slog.String("day", d) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }
func RequestID(id string) slog.Attr     { return slog.String(RequestIDKey, id) }
func TelegramChatID(id int64) slog.Attr { return slog.Int64("chat_id", id) }

// Err creates an error attribute; a nil error yields an empty value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}
