package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(NewCLIHandler(buf, level)), buf
}

func TestNewCLILogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			require.NotNil(t, NewCLILogger(level))
		})
	}
}

func TestCLIHandler_Colors(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*slog.Logger)
		color string
	}{
		{"info", func(l *slog.Logger) { l.Info("workbook written") }, colorGreen},
		{"warn", func(l *slog.Logger) { l.Warn("pair failed") }, colorYellow},
		{"error", func(l *slog.Logger) { l.Error("fatal error") }, colorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger(slog.LevelDebug)
			tt.log(logger)

			out := buf.String()
			assert.True(t, strings.HasPrefix(out, tt.color), out)
			assert.Contains(t, out, colorReset)
		})
	}
}

func TestCLIHandler_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     slog.Level
		log       func(*slog.Logger)
		shouldLog bool
	}{
		{"info keeps info", slog.LevelInfo, func(l *slog.Logger) { l.Info("scoring") }, true},
		{"info drops debug", slog.LevelInfo, func(l *slog.Logger) { l.Debug("pair skipped") }, false},
		{"debug keeps debug", slog.LevelDebug, func(l *slog.Logger) { l.Debug("pair skipped") }, true},
		{"warn drops info", slog.LevelWarn, func(l *slog.Logger) { l.Info("scoring") }, false},
		{"error keeps error", slog.LevelError, func(l *slog.Logger) { l.Error("fatal error") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger(tt.level)
			tt.log(logger)
			assert.Equal(t, tt.shouldLog, buf.Len() > 0)
		})
	}
}

func TestCLIHandler_Attributes(t *testing.T) {
	logger, buf := newTestLogger(slog.LevelInfo)

	logger.Warn("pair failed", "doc", 6893, "type", "F->NB")
	assert.Contains(t, buf.String(), "pair failed: doc=6893 type=F->NB")
}

func TestCLIHandler_WithAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := NewCLIHandler(buf, slog.LevelInfo)
	assert.Equal(t, handler, handler.WithAttrs(nil))

	logger := slog.New(handler).With("run", "r1")
	logger.Info("scored", "pairs", 3)
	logger.With("type", "F->M").Info("summary")

	out := buf.String()
	assert.Contains(t, out, "scored: run=r1 pairs=3")
	assert.Contains(t, out, "summary: run=r1 type=F->M")
}

func TestCLIHandler_WithGroup(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{"single", []string{"extract"}, "[extract] done"},
		{"nested", []string{"score", "batch"}, "[score.batch] done"},
		{"empty", []string{""}, colorGreen + "done"},
		{"empty nested", []string{"generate", ""}, "[generate] done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger(slog.LevelInfo)
			for _, g := range tt.groups {
				logger = logger.WithGroup(g)
			}
			logger.Info("done")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestSetDefaultCLILogger(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	SetDefaultCLILogger("warn")
	assert.False(t, slog.Default().Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelWarn))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"  debug  ", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.input))
		})
	}
}
