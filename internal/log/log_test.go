package log_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylane/querylane/internal/log"
)

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("text format by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := log.NewWithWriter(&buf, log.Config{})
		logger.Info("hello", "key", "value")

		out := buf.String()
		assert.Contains(t, out, "msg=hello")
		assert.Contains(t, out, "key=value")
	})

	t.Run("json format when enabled", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := log.NewWithWriter(&buf, log.Config{JSON: true})
		logger.Info("hello")

		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
		assert.Contains(t, out, `"msg":"hello"`)
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelWarn})
		logger.Info("dropped")
		logger.Warn("kept")

		out := buf.String()
		assert.NotContains(t, out, "dropped")
		assert.Contains(t, out, "kept")
	})
}

func TestNewNop(t *testing.T) {
	t.Parallel()

	logger := log.NewNop()
	require.NotNil(t, logger)
	logger.Error("discarded")
}
