// Package logging configures the process-wide structured logger. Logs
// are JSON via slog; when a file path is configured, output goes
// through lumberjack for size/age based rotation.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	levelVar = new(slog.LevelVar)
	closer   io.Closer
)

// Options controls rotation for file output.
type Options struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs the default logger. An empty FilePath logs to stdout.
func Init(level string, opts Options) error {
	levelVar.Set(parseLevel(level))

	var w io.Writer = os.Stdout
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
		w = lj
		closer = lj
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})))
	return nil
}

// SetLevel changes the log level at runtime.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

// Level reports the current level as its canonical lowercase name.
func Level() string {
	switch levelVar.Level() {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// Close flushes and closes the log file, if any.
func Close() error {
	if closer != nil {
		return closer.Close()
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG", "trace", "TRACE":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Wrappers used across the codebase; fields are flattened into attrs.
func Debug(msg string, fields map[string]any) { slog.Debug(msg, mapToAttrs(fields)...) }
func Info(msg string, fields map[string]any)  { slog.Info(msg, mapToAttrs(fields)...) }
func Warn(msg string, fields map[string]any)  { slog.Warn(msg, mapToAttrs(fields)...) }
func Error(msg string, fields map[string]any) { slog.Error(msg, mapToAttrs(fields)...) }

func mapToAttrs(m map[string]any) []any {
	if m == nil {
		return nil
	}
	attrs := make([]any, 0, len(m)*2)
	for k, v := range m {
		attrs = append(attrs, k, v)
	}
	return attrs
}
