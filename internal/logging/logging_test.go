package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/hupe1980/assetflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		log     func(*slog.Logger)
		want    []string
		notWant []string
	}{
		{
			name: "text",
			cfg:  config.Config{LogLevel: "info", LogFormat: "text"},
			log:  func(l *slog.Logger) { l.Info("compiled", slog.String("task", "styles")) },
			want: []string{"msg=compiled", "task=styles"},
		},
		{
			name: "json",
			cfg:  config.Config{LogLevel: "info", LogFormat: "json"},
			log:  func(l *slog.Logger) { l.Info("compiled") },
			want: []string{`"msg":"compiled"`, `"level":"INFO"`},
		},
		{
			name: "debug shown",
			cfg:  config.Config{LogLevel: "debug", LogFormat: "text"},
			log:  func(l *slog.Logger) { l.Debug("cache hit") },
			want: []string{"cache hit"},
		},
		{
			name:    "debug hidden at info",
			cfg:     config.Config{LogLevel: "info", LogFormat: "text"},
			log:     func(l *slog.Logger) { l.Debug("cache hit") },
			notWant: []string{"cache hit"},
		},
		{
			name: "quiet keeps errors only",
			cfg:  config.Config{LogLevel: "debug", LogFormat: "text", Quiet: true},
			log: func(l *slog.Logger) {
				l.Warn("slow transform")
				l.Error("transform failed")
			},
			want:    []string{"transform failed"},
			notWant: []string{"slow transform"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := SetupWithWriter(&tt.cfg, &buf)
			require.NotNil(t, logger)
			assert.Equal(t, logger.Handler(), slog.Default().Handler())

			tt.log(logger)

			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}

			for _, w := range tt.notWant {
				assert.NotContains(t, buf.String(), w)
			}
		})
	}
}

func TestNew_CompactTime(t *testing.T) {
	var buf bytes.Buffer

	New(&buf, Options{Level: slog.LevelInfo, Format: "text", Compact: true}).Info("watching")
	assert.Regexp(t, `^time=\d{2}:\d{2}:\d{2} level=INFO msg=watching`, buf.String())

	buf.Reset()
	New(&buf, Options{Level: slog.LevelInfo, Format: "text"}).Info("watching")
	assert.Regexp(t, `^time=\d{4}-\d{2}-\d{2}T`, buf.String())
}

func TestOptionsFrom(t *testing.T) {
	opts := OptionsFrom(&config.Config{LogLevel: "warn", LogFormat: "json"})
	assert.Equal(t, Options{Level: slog.LevelWarn, Format: "json"}, opts)

	opts = OptionsFrom(&config.Config{LogLevel: "debug", LogFormat: "text", Quiet: true})
	assert.Equal(t, Options{Level: slog.LevelError, Format: "text", Compact: true}, opts)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer

	logger := New(&buf, Options{Format: "text"})
	assert.Equal(t, logger, FromContext(NewContext(context.Background(), logger)))
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer

	base := slog.New(slog.NewTextHandler(&buf, nil))
	ForTask(ForBuild(base, "b-1"), "styles").Info("done")

	out := buf.String()
	assert.Contains(t, out, "build=b-1")
	assert.Contains(t, out, "task=styles")
	assert.Contains(t, out, "msg=done")
}
