package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestSetupWriter_FiltersByLevel(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer

	SetupWriter(&buf, "warn")

	WithModule("worker").Info("hidden")
	WithModule("worker").Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "module=worker")
}

func TestContextLogger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	fallback := slog.New(slog.DiscardHandler)

	assert.Same(t, logger, FromContext(NewContext(context.Background(), logger), fallback))
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
}
