// Package logging provides structured logging for the telegate gateway.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. Output is JSON for collectors or
// colourised text (tint) for operators watching a terminal.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, logging.FormatText)
//
//	// Get a component logger
//	log := logging.Component("flush")
//	log.Info("tick complete", "devices", 12)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats accepted by Init.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// global is the process logger. Log calls read it concurrently with Init.
var global atomic.Pointer[slog.Logger]

// Init initializes the global logger on stderr with the specified level and format.
func Init(level slog.Level, format string) {
	InitWithWriter(os.Stderr, level, format)
}

// InitWithWriter initializes the global logger on w.
// Text output is coloured only when w is a terminal.
func InitWithWriter(w io.Writer, level slog.Level, format string) {
	InitWithHandler(newHandler(w, level, format))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	var handler slog.Handler

	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(w),
		})
	}
	return handler
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	global.Store(l)
	slog.SetDefault(l)
}

// ParseLevel converts a config level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Package-level component loggers are created before Init runs, so the
// returned logger resolves the global handler on every call.
func Component(name string) *slog.Logger {
	return slog.New(&lazyHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Logger returns the process logger, installing an info-level text logger
// on stderr if Init has not run.
func Logger() *slog.Logger {
	return current()
}

func current() *slog.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	// slog's default is left to Init, so a late default cannot replace it.
	global.CompareAndSwap(nil, slog.New(newHandler(os.Stderr, slog.LevelInfo, FormatText)))
	return global.Load()
}

// lazyHandler forwards to the global logger's handler at log time.
type lazyHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *lazyHandler) resolve() slog.Handler {
	handler := current().Handler()
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler
}

func (h *lazyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Handler().Enabled(ctx, level)
}

func (h *lazyHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.groups) > 0 {
		return h.resolve().WithAttrs(attrs)
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lazyHandler{attrs: merged}
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &lazyHandler{attrs: h.attrs, groups: groups}
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyDeviceID contextKey = iota
	contextKeySource
)

// ContextWithDeviceID adds a device ID to the context for logging.
func ContextWithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, contextKeyDeviceID, deviceID)
}

// ContextWithSource adds the ingest source name to the context for logging.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, contextKeySource, source)
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context) *slog.Logger {
	return FromContext(ctx, current())
}

// FromContext adds the context's device ID and source to logger.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if deviceID, ok := ctx.Value(contextKeyDeviceID).(string); ok {
		logger = logger.With("device_id", deviceID)
	}
	if source, ok := ctx.Value(contextKeySource).(string); ok {
		logger = logger.With("source", source)
	}
	return logger
}
