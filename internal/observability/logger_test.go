// internal/observability/logger_test.go
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

	"github.com/AnandaIndraTan/CERBERUS/internal/config"
)

// initForTest resets the singleton and initializes it against an in-memory
// buffer so assertions can inspect the console output.
func initForTest(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {

	t.Run("console format colorizes the level", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "debug", Format: "console"})

		GetLogger().Info("threat map ready")

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "threat map ready")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
	})

	t.Run("json format emits structured entries", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "json"})

		GetLogger().Warn("policy coerced", zap.String("tool", "nmap"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "cerberus", entry["logger"])
		assert.Equal(t, "policy coerced", entry["msg"])
		assert.Equal(t, "nmap", entry["tool"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "shouting", Format: "json"})

		GetLogger().Debug("should be suppressed")
		GetLogger().Info("should appear")

		output := buf.String()
		assert.NotContains(t, output, "should be suppressed")
		assert.Contains(t, output, "should appear")
	})

	t.Run("writes to the configured file sink", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "cerberus.log")
		initForTest(t, config.LoggerConfig{
			Level:     "debug",
			Format:    "json",
			File:      logPath,
			MaxSizeMB: 1,
		})

		GetLogger().Error("this should reach the file")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "this should reach the file")
	})

	t.Run("initializes exactly once", func(t *testing.T) {
		buf := initForTest(t, config.LoggerConfig{Level: "info", Format: "json"})

		// A second call must be a no-op: debug stays disabled.
		Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, zapcore.AddSync(buf))
		first := GetLogger()
		second := GetLogger()

		assert.Same(t, first, second)
		second.Debug("still filtered")
		assert.NotContains(t, buf.String(), "still filtered")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback before initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		logger := GetLogger()
		require.NotNil(t, logger)
	})

	t.Run("returns the stored logger after initialization", func(t *testing.T) {
		initForTest(t, config.LoggerConfig{Level: "info", Format: "json"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
