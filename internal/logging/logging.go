// Package logging provides structured logging for powerscope.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("session")
//	log.Info("peer connected", "peer", addr)
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// level backs every handler created by Init so that SetLevel takes effect
// on loggers handed out before the configuration was loaded.
var level = new(slog.LevelVar)

var initialized atomic.Bool

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(lvl slog.Level, jsonFormat bool) {
	level.Set(lvl)

	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	initialized.Store(true)
}

// SetLevel changes the level of loggers created through Init.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// ParseLevel converts a config string (debug, info, warn, error) to a level.
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

func ensure() {
	if !initialized.Load() {
		Init(slog.LevelInfo, false)
	}
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// The returned logger resolves the global handler lazily, so package-level
// component loggers pick up the handler installed by a later Init call.
//
// Example:
//
//	log := logging.Component("server")
//	log.Info("started") // Output: time=... level=INFO component=server msg=started
func Component(name string) *slog.Logger {
	return slog.New(&lazyHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	ensure()
	return Logger.With(args...)
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		ensure()
		base = Logger
	}

	if sessionID, ok := ctx.Value(contextKeySessionID).(string); ok {
		base = base.With("session_id", sessionID)
	}
	if peer, ok := ctx.Value(contextKeyPeer).(string); ok {
		base = base.With("peer", peer)
	}

	return base
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeySessionID contextKey = iota
	contextKeyPeer
)

// ContextWithSessionID adds a session ID to the context for logging.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}

// ContextWithPeer adds the remote peer address to the context for logging.
func ContextWithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, contextKeyPeer, peer)
}

// lazyHandler forwards to the current global handler at log time.
type lazyHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *lazyHandler) target() slog.Handler {
	ensure()
	var out slog.Handler = Logger.Handler()
	if len(h.attrs) > 0 {
		out = out.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		out = out.WithGroup(g)
	}
	return out
}

func (h *lazyHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.target().Enabled(ctx, l)
}

func (h *lazyHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &lazyHandler{groups: h.groups}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	next := &lazyHandler{attrs: h.attrs}
	next.groups = append(append([]string{}, h.groups...), name)
	return next
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	ensure()
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	ensure()
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	ensure()
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	ensure()
	Logger.Error(msg, args...)
}
