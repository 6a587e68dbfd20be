package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type ctxKey struct{}

// Logger wraps slog.Logger with the attribute helpers used across readpool.
type Logger struct {
	*slog.Logger
}

var (
	mu     sync.RWMutex
	global *Logger
)

// Init installs the process logger writing to stdout.
func Init(level Level, format string) {
	InitWriter(os.Stdout, level, format)
}

// InitWriter installs the process logger writing to w.
func InitWriter(w io.Writer, level Level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := &Logger{Logger: slog.New(h)}
	mu.Lock()
	global = l
	mu.Unlock()
	slog.SetDefault(l.Logger)
}

// Get returns the process logger, falling back to an info level text logger
// when Init has not been called.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))}
	}
	return global
}

func parseLevel(level Level) slog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by NewContext, or the process logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Get()
}

// ErrorWithErr logs msg at error level with err attached under "error".
func (l *Logger) ErrorWithErr(msg string, err error, args ...any) {
	l.Logger.Error(msg, append(args, slog.Any("error", err))...)
}

// WarnWithErr logs msg at warn level with err attached under "error".
func (l *Logger) WarnWithErr(msg string, err error, args ...any) {
	l.Logger.Warn(msg, append(args, slog.Any("error", err))...)
}
