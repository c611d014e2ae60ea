package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	t.Run("with field", func(t *testing.T) {
		buf.Reset()
		logger.WithField("operation", "add_member").Info("member added")
		entry := lastLogLine(t, &buf)
		assert.Equal(t, "member added", entry["msg"])
		assert.Equal(t, "add_member", entry["operation"])
	})

	t.Run("with org and user", func(t *testing.T) {
		buf.Reset()
		logger.WithOrg(42).WithUser(7).Info("role changed")
		entry := lastLogLine(t, &buf)
		assert.Equal(t, float64(42), entry["organization_id"])
		assert.Equal(t, float64(7), entry["user_id"])
	})

	t.Run("with error", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errors.New("kaput")).Error("operation failed")
		entry := lastLogLine(t, &buf)
		assert.Equal(t, "kaput", entry["error"])
	})

	t.Run("nil error is a no-op", func(t *testing.T) {
		assert.Same(t, logger, logger.WithError(nil))
	})

	t.Run("level filtering", func(t *testing.T) {
		var quiet bytes.Buffer
		errLogger := NewLogger(ErrorLevel, &quiet)
		errLogger.Info("ignored")
		assert.Empty(t, quiet.String())
		errLogger.Error("kept")
		assert.Contains(t, quiet.String(), "kept")
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARN"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("anything-else"))
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()), "missing logger falls back to default")
}
