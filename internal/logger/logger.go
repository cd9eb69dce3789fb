// Copyright (C) 2022 K2 Cyber Security Inc.

// Package logger is the diagnostic sink for hook lifecycle events. Lines are
// observability only and carry no stable format.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// L is the global logger instance. It's initialized to discard all output by default.
// Call Init() to enable logging to a file.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	logPrefix     = "dxgihook-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	LogDir  string     // Directory for log files. Default: ~/.dxgihook/logs
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	// Debugger mirrors every line to the attached debugger (OutputDebugString
	// on Windows). Injected processes have no console to write to.
	Debugger bool
	// Writer receives every line in addition to the file, if set.
	Writer io.Writer
}

// Init configures logging. Call before any log calls.
// If opts.Enabled is false, all log output is discarded.
func Init(opts Options) error {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return nil
	}

	var writers []io.Writer
	if opts.LogDir != "" || (opts.Writer == nil && !opts.Debugger) {
		f, err := openLogFile(opts.LogDir)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}
	if opts.Writer != nil {
		writers = append(writers, opts.Writer)
	}
	if opts.Debugger {
		if w := debugOutput(); w != nil {
			writers = append(writers, w)
		}
	}

	L = slog.New(slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: opts.Level,
	}))
	return nil
}

// For returns a logger tagged with a component name. It writes through
// whatever L is at the time of each call, so loggers taken before Init still
// reach the configured sink.
func For(component string) *slog.Logger {
	return slog.New(current{}).With("component", component)
}

// Debugger returns a logger that writes only to the attached debugger, for
// processes that never call Init. Off Windows it discards everything.
func Debugger(component string, level slog.Level) *slog.Logger {
	w := debugOutput()
	if w == nil {
		w = io.Discard
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).
		With("component", component)
}

// overridden in tests
var debugOutput = debuggerWriter

// current forwards to L's handler, applying the attrs and groups added since.
type current struct {
	wrap func(slog.Handler) slog.Handler
}

func (c current) handler() slog.Handler {
	h := L.Handler()
	if c.wrap != nil {
		h = c.wrap(h)
	}
	return h
}

func (c current) Enabled(ctx context.Context, level slog.Level) bool {
	return L.Handler().Enabled(ctx, level)
}

func (c current) Handle(ctx context.Context, r slog.Record) error {
	return c.handler().Handle(ctx, r)
}

func (c current) WithAttrs(attrs []slog.Attr) slog.Handler {
	return current{wrap: func(h slog.Handler) slog.Handler {
		if c.wrap != nil {
			h = c.wrap(h)
		}
		return h.WithAttrs(attrs)
	}}
}

func (c current) WithGroup(name string) slog.Handler {
	return current{wrap: func(h slog.Handler) slog.Handler {
		if c.wrap != nil {
			h = c.wrap(h)
		}
		return h.WithGroup(name)
	}}
}

func openLogFile(logDir string) (*os.File, error) {
	if logDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = filepath.Join(home, ".dxgihook", "logs")
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	// Clean up old logs (best-effort, ignore errors)
	cleanOldLogs(logDir)

	filename := filepath.Join(logDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	return os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func cleanOldLogs(logDir string) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, logPrefix), logSuffix))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}
