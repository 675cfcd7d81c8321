package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTarget annotates the logger with the execution target name.
func WithTarget(log pslog.Logger, target string) pslog.Logger {
	if target != "" {
		log = log.With("target", target)
	}
	return log
}

// WithMethod annotates the logger with an rpc method name.
func WithMethod(log pslog.Logger, method string) pslog.Logger {
	if method != "" {
		log = log.With("method", method)
	}
	return log
}

// ParseLevel maps a config level name onto a pslog level.
func ParseLevel(name string) (pslog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return pslog.TraceLevel, nil
	case "debug":
		return pslog.DebugLevel, nil
	case "", "info":
		return pslog.InfoLevel, nil
	case "warn", "warning":
		return pslog.WarnLevel, nil
	case "error":
		return pslog.ErrorLevel, nil
	}
	return pslog.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// New builds a structured logger writing to w.
func New(w io.Writer, level pslog.Level) pslog.Logger {
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      level,
		VerboseFields: true,
	})
}

// Console builds a human-readable logger for foreground processes.
func Console(w io.Writer, level pslog.Level) pslog.Logger {
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:     pslog.ModeConsole,
		MinLevel: level,
	})
}

// OpenFile opens path for appending and returns a logger on it. The TUI
// uses this because it cannot write logs to the terminal it draws on.
func OpenFile(path string, level pslog.Level) (pslog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return New(f, level), f, nil
}

// Discard returns a logger that drops everything.
func Discard() pslog.Logger {
	return New(io.Discard, pslog.ErrorLevel)
}
