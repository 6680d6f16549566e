// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log is the module-tagged structured logger of the translator.
// Records are dropped until SetDefault installs a logger.
package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"
)

// Module names.
const (
	Tier     = "tier"
	Codegen  = "codegen"
	Runtime  = "wasmrt"
	Server   = "dashboard"
	Frontend = "xlate"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// LevelString returns a lower-case level name.
func LevelString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelCrit:
		return "crit"
	default:
		return "unknown"
	}
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, xerrors.Errorf("invalid level: %s", lvl)
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelString(l))
		}
	}
	return a
}

// NewHandler writes text records at or above level.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	})
}

var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(discardHandler{}))
}

// SetDefault installs the root logger.
func SetDefault(l *slog.Logger) {
	root.Store(l)
}

// Init installs a text logger writing to w.
func Init(w io.Writer, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	SetDefault(slog.New(NewHandler(w, lvl)))
	return nil
}

func Root() *slog.Logger {
	return root.Load()
}

var (
	disabledMu sync.RWMutex
	disabled   = make(map[string]bool)
)

// DisableModule suppresses trace and debug records of a module.
func DisableModule(module string) {
	disabledMu.Lock()
	defer disabledMu.Unlock()
	disabled[module] = true
}

func EnableModule(module string) {
	disabledMu.Lock()
	defer disabledMu.Unlock()
	delete(disabled, module)
}

func verbose(module string) bool {
	disabledMu.RLock()
	defer disabledMu.RUnlock()
	return !disabled[module]
}

// Enabled reports whether records of the level would be written.
func Enabled(level slog.Level) bool {
	return Root().Enabled(context.Background(), level)
}

func write(level slog.Level, module, msg string, ctx []any) {
	l := Root()
	if !l.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add("module", module)
	r.Add(ctx...)
	l.Handler().Handle(context.Background(), r)
}

func Trace(module, msg string, ctx ...any) {
	if verbose(module) {
		write(LevelTrace, module, msg, ctx)
	}
}

func Debug(module, msg string, ctx ...any) {
	if verbose(module) {
		write(LevelDebug, module, msg, ctx)
	}
}

func Info(module, msg string, ctx ...any)  { write(LevelInfo, module, msg, ctx) }
func Warn(module, msg string, ctx ...any)  { write(LevelWarn, module, msg, ctx) }
func Error(module, msg string, ctx ...any) { write(LevelError, module, msg, ctx) }

// Crit writes the record regardless of the returned error.  The caller
// decides whether to exit.
func Crit(module, msg string, ctx ...any) { write(LevelCrit, module, msg, ctx) }

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
