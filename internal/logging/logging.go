// Package logging initialises a [log/slog] logger from the application
// configuration and provides context-based logger propagation.
//
// Log output goes to a size- and age-rotated file managed by lumberjack and,
// optionally, to stderr as well.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/keynotes-rtc/keynotes/internal/config"
)

// DefaultFileName is the base name of the log file.
const DefaultFileName = "keynotes.log"

// maxSizeMB caps a single log file before it is rotated.
const maxSizeMB = 10

type ctxKey struct{}

// DefaultFile returns the log file used when none is configured: a file in
// the user cache directory, or in the working directory when there is no
// cache directory.
func DefaultFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(dir, "keynotes", DefaultFileName)
}

// Setup creates a *slog.Logger configured according to cfg, writing to the
// rotating log file (and stderr when cfg.LogStderr is set), and installs it
// as the process-wide default via slog.SetDefault. The returned closer
// releases the log file.
func Setup(cfg *config.Config) (*slog.Logger, io.Closer) {
	file := NewRotator(cfg)

	var w io.Writer = file
	if cfg.LogStderr {
		w = io.MultiWriter(file, os.Stderr)
	}

	return SetupWithWriter(cfg, w), file
}

// NewRotator returns the rotating file writer described by cfg.
func NewRotator(cfg *config.Config) *lumberjack.Logger {
	path := cfg.LogFile
	if path == "" {
		path = DefaultFile()
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxAge:     cfg.LogMaxAge,
		MaxBackups: cfg.LogMaxAge,
		LocalTime:  true,
	}
}

// SetupWithWriter creates a *slog.Logger configured according to cfg, writing
// to w, and installs it as the process-wide default via slog.SetDefault.
// Use this variant in tests to capture or suppress log output.
func SetupWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.EffectiveLogLevel())
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch cfg.LogFormat {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewContext returns a child context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from ctx, falling back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}

	return slog.Default()
}
