package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a Level. Unknown
// values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a leveled printf-style logger writing through a slog handler.
// Loggers derived with With share the level of their parent.
type Logger struct {
	level *slog.LevelVar
	sl    *slog.Logger
}

// Options configures New.
type Options struct {
	Level     Level
	Format    string // "text" or "json"
	AddSource bool
}

func New(out io.Writer, opts Options) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(opts.Level.slogLevel())

	hopts := &slog.HandlerOptions{
		Level:     lv,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(out, hopts)
	} else {
		handler = slog.NewTextHandler(out, hopts)
	}

	return &Logger{level: lv, sl: slog.New(handler)}
}

func Default() *Logger {
	return New(os.Stderr, Options{Level: LevelInfo, Format: "text"}).With("component", "edged")
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(io.Discard, Options{Level: LevelError})
}

func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{level: l.level, sl: l.sl.With(args...)}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

func (l *Logger) log(level Level, format string, args ...any) {
	ctx := context.Background()
	sl := level.slogLevel()
	if !l.sl.Enabled(ctx, sl) {
		return
	}
	l.sl.Log(ctx, sl, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Printf logs at info level. It lets the logger stand in for libraries
// that expect a Printf-style logger (ants).
func (l *Logger) Printf(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}
