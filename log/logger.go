// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// Legacy verbosity levels, as accepted by the --verbosity flag.
const (
	LegacyLevelCrit = iota
	LegacyLevelError
	LegacyLevelWarn
	LegacyLevelInfo
	LegacyLevelDebug
	LegacyLevelTrace
)

// FromLegacyLevel converts a 0-9 verbosity into a slog level.
func FromLegacyLevel(lvl int) slog.Level {
	switch lvl {
	case LegacyLevelCrit:
		return LevelCrit
	case LegacyLevelError:
		return slog.LevelError
	case LegacyLevelWarn:
		return slog.LevelWarn
	case LegacyLevelInfo:
		return slog.LevelInfo
	case LegacyLevelDebug:
		return slog.LevelDebug
	case LegacyLevelTrace:
		return LevelTrace
	default:
	}
	if lvl > LegacyLevelTrace {
		return LevelTrace
	}
	return LevelCrit
}

// LevelAlignedString returns a 5-character string containing the name of a level.
func LevelAlignedString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO "
	case slog.LevelWarn:
		return "WARN "
	case slog.LevelError:
		return "ERROR"
	case LevelCrit:
		return "CRIT "
	default:
		return "unknown level"
	}
}

// LevelString returns a string containing the name of a level.
func LevelString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "trace"
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	case LevelCrit:
		return "crit"
	default:
		return "unknown"
	}
}

// Logger writes key/value pairs to a Handler.
type Logger interface {
	// With returns a new Logger that has this logger's attributes plus the given attributes.
	With(ctx ...any) Logger

	// Log logs a message at the specified level with context key/value pairs.
	Log(level slog.Level, msg string, ctx ...any)

	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	// Crit logs a message at the crit level and exits the process.
	Crit(msg string, ctx ...any)

	// Enabled reports whether l emits log records at the given context and level.
	Enabled(ctx context.Context, level slog.Level) bool

	// Handler returns the underlying handler of the inner logger.
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger returns a logger with the specified handler set.
func NewLogger(h slog.Handler) Logger {
	return &logger{slog.New(h)}
}

func (l *logger) Handler() slog.Handler {
	return l.inner.Handler()
}

// write logs a message at the specified level, keeping the caller frame of the public method.
func (l *logger) write(level slog.Level, msg string, attrs ...any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	if len(attrs)%2 != 0 {
		attrs = append(attrs, nil, errorKey, "Normalized odd number of arguments by adding nil")
	}
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(attrs...)
	l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) Log(level slog.Level, msg string, attrs ...any) {
	l.write(level, msg, attrs...)
}

func (l *logger) With(ctx ...any) Logger {
	return &logger{l.inner.With(ctx...)}
}

func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

func (l *logger) Trace(msg string, ctx ...any) {
	l.write(LevelTrace, msg, ctx...)
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.write(slog.LevelDebug, msg, ctx...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.write(slog.LevelInfo, msg, ctx...)
}

func (l *logger) Warn(msg string, ctx ...any) {
	l.write(slog.LevelWarn, msg, ctx...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.write(slog.LevelError, msg, ctx...)
}

func (l *logger) Crit(msg string, ctx ...any) {
	l.write(LevelCrit, msg, ctx...)
	os.Exit(1)
}

const errorKey = "LOG_ERROR"

var root atomic.Value

func init() {
	root.Store(&holder{NewLogger(DiscardHandler())})
}

type holder struct{ Logger }

// SetDefault sets the default global logger.
func SetDefault(l Logger) {
	root.Store(&holder{l})
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger.
func Root() Logger {
	return root.Load().(*holder).Logger
}

// WithContext returns a logger bound to ctx that always writes through the
// current root logger, so package level loggers created before SetDefault
// still reach the configured handler.
func WithContext(ctx ...any) Logger {
	return &lazyLogger{ctx: ctx}
}

type lazyLogger struct {
	ctx    []any
	cached atomic.Pointer[lazyEntry]
}

type lazyEntry struct {
	root Logger
	l    Logger
}

func (l *lazyLogger) get() Logger {
	r := Root()
	if e := l.cached.Load(); e != nil && e.root == r {
		return e.l
	}
	e := &lazyEntry{root: r, l: r.With(l.ctx...)}
	l.cached.Store(e)
	return e.l
}

func (l *lazyLogger) With(ctx ...any) Logger {
	return &lazyLogger{ctx: append(append([]any{}, l.ctx...), ctx...)}
}

func (l *lazyLogger) Log(level slog.Level, msg string, ctx ...any) {
	l.get().Log(level, msg, ctx...)
}

func (l *lazyLogger) Trace(msg string, ctx ...any) {
	l.get().Log(LevelTrace, msg, ctx...)
}

func (l *lazyLogger) Debug(msg string, ctx ...any) {
	l.get().Log(slog.LevelDebug, msg, ctx...)
}

func (l *lazyLogger) Info(msg string, ctx ...any) {
	l.get().Log(slog.LevelInfo, msg, ctx...)
}

func (l *lazyLogger) Warn(msg string, ctx ...any) {
	l.get().Log(slog.LevelWarn, msg, ctx...)
}

func (l *lazyLogger) Error(msg string, ctx ...any) {
	l.get().Log(slog.LevelError, msg, ctx...)
}

func (l *lazyLogger) Crit(msg string, ctx ...any) {
	l.get().Log(LevelCrit, msg, ctx...)
	os.Exit(1)
}

func (l *lazyLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.get().Enabled(ctx, level)
}

func (l *lazyLogger) Handler() slog.Handler {
	return l.get().Handler()
}

// Trace is a convenient alias for Root().Trace
func Trace(msg string, ctx ...any) { Root().Log(LevelTrace, msg, ctx...) }

// Debug is a convenient alias for Root().Debug
func Debug(msg string, ctx ...any) { Root().Log(slog.LevelDebug, msg, ctx...) }

// Info is a convenient alias for Root().Info
func Info(msg string, ctx ...any) { Root().Log(slog.LevelInfo, msg, ctx...) }

// Warn is a convenient alias for Root().Warn
func Warn(msg string, ctx ...any) { Root().Log(slog.LevelWarn, msg, ctx...) }

// Error is a convenient alias for Root().Error
func Error(msg string, ctx ...any) { Root().Log(slog.LevelError, msg, ctx...) }

// Crit is a convenient alias for Root().Crit
func Crit(msg string, ctx ...any) {
	Root().Log(LevelCrit, msg, ctx...)
	os.Exit(1)
}
