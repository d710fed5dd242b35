// Package telemetry wires the process-level observability used by the
// standalone binaries: a rotating structured log sink and Prometheus
// collectors for the data plane's counters. Library packages stay on
// log/slog; this package provides the slog.Handler the binaries hand
// them, backed by a zap core writing through lumberjack rotation.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures the process log sink.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// Path is the rotating log file. Empty means stderr only.
	Path string
	// MaxSizeMB / MaxBackups / MaxAgeDays bound rotation. Zero values get
	// lumberjack-friendly defaults (1024 MB, 5 backups, 30 days).
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console additionally mirrors log lines to stderr when a Path is set.
	Console bool
}

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// NewLogger builds the process *slog.Logger: a zap JSON core writing to a
// lumberjack-rotated file (and optionally stderr), wrapped in a
// slog.Handler so every library package keeps its log/slog surface.
func NewLogger(cfg LogConfig) *slog.Logger {
	level, ok := levelMap[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 1024
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level
	})

	var cores []zapcore.Core
	if cfg.Path != "" {
		hook := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(hook), enabler))
	}
	if cfg.Path == "" || cfg.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), enabler))
	}

	zl := zap.New(zapcore.NewTee(cores...))
	return slog.New(&zapSlogHandler{logger: zl, level: level})
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// zapSlogHandler adapts a *zap.Logger into a slog.Handler so library
// packages written against log/slog share the binaries' zap sink.
type zapSlogHandler struct {
	logger *zap.Logger
	level  zapcore.Level
	group  string
	attrs  []zap.Field
}

func slogLevelToZap(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (h *zapSlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevelToZap(level) >= h.level
}

func (h *zapSlogHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *zapSlogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, record.NumAttrs()+len(h.attrs))
	fields = append(fields, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, zap.Any(h.qualify(attr.Key), attr.Value.Any()))
		return true
	})
	if ce := h.logger.Check(slogLevelToZap(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *zapSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]zap.Field(nil), h.attrs...)
	for _, attr := range attrs {
		next.attrs = append(next.attrs, zap.Any(h.qualify(attr.Key), attr.Value.Any()))
	}
	return &next
}

func (h *zapSlogHandler) WithGroup(name string) slog.Handler {
	next := *h
	if name != "" {
		next.group = h.qualify(name)
	}
	return &next
}
