package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tjbishop07/autoteller/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer so tests can capture
// the console core without touching stdout.
type syncBuffer struct {
	bytes.Buffer
}

func (s *syncBuffer) Sync() error { return nil }

func TestInitialize(t *testing.T) {
	t.Run("console format", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, &buf)
		GetLogger().Info("console test message")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "console test message")
		assert.Contains(t, output, "autoteller.")
	})

	t.Run("json format", func(t *testing.T) {
		ResetForTest()
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &buf)
		GetLogger().Warn("json test message", zap.String("key", "value"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "log output should be valid JSON")
		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "autoteller", logEntry["logger"])
		assert.Equal(t, "json test message", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("writes to log file when configured", func(t *testing.T) {
		ResetForTest()
		logPath := filepath.Join(t.TempDir(), "autoteller-test.log")

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logPath,
			MaxSize: 1,
		}, zapcore.AddSync(&syncBuffer{}))
		GetLogger().Error("this should go to the file")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "this should go to the file")
	})

	t.Run("initializes only once", func(t *testing.T) {
		ResetForTest()
		var first, second syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &first)
		logger1 := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, &second)
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("routed to first writer")
		Sync()

		assert.Contains(t, first.String(), "routed to first writer")
		assert.Empty(t, second.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("global instance after initialization", func(t *testing.T) {
		ResetForTest()
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, &syncBuffer{})

		logger := GetLogger()
		assert.Equal(t, globalLogger.Load(), logger)
	})
}
