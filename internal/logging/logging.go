// Package logging builds the assetflow slog logger, carries it through
// contexts and derives the build- and task-scoped loggers that runner output
// is correlated by.
package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/hupe1980/assetflow/internal/config"
)

// TimeLayout is the timestamp format of compact text logs. Watch status
// lines use the same layout.
const TimeLayout = "15:04:05"

type ctxKey struct{}

// Options selects the handler of a logger.
type Options struct {
	Level  slog.Level
	Format string
	// Compact shortens text timestamps to TimeLayout.
	Compact bool
}

// OptionsFrom derives logger options from cfg. Text logs are compact.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Level:   ParseLevel(cfg.EffectiveLogLevel()),
		Format:  cfg.LogFormat,
		Compact: cfg.LogFormat != config.LogFormatJSON,
	}
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	if opts.Format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}

	if opts.Compact {
		handlerOpts.ReplaceAttr = compactTime
	}

	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// SetupWithWriter builds the logger for cfg, writing to w, and installs it
// as the process-wide default.
func SetupWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := New(w, OptionsFrom(cfg))
	slog.SetDefault(logger)

	return logger
}

// ParseLevel converts a level name such as "debug" or "warn" to a
// slog.Level. Unknown names yield info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}

	return l
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

// ForBuild returns a child of logger tagged with the build id.
func ForBuild(logger *slog.Logger, buildID string) *slog.Logger {
	return logger.With(slog.String("build", buildID))
}

// ForTask returns a child of logger tagged with the task name.
func ForTask(logger *slog.Logger, task string) *slog.Logger {
	return logger.With(slog.String("task", task))
}

func compactTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(TimeLayout))
	}

	return a
}
