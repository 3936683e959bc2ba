package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := (&Config{Level: "debug"}).SetDefaults()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, 28, cfg.MaxAge)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug("connected", zap.String("driver", "redis"))
	_ = log.Sync()

	out := buf.String()
	assert.Contains(t, out, `"level":"DEBUG"`)
	assert.Contains(t, out, `"driver":"redis"`)
	assert.Contains(t, out, `"app":"dbgate"`)
}

func TestNewWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "dbgate.log")

	log, err := New(&Config{File: file, Level: "info"})
	require.NoError(t, err)

	log.Info("hello", zap.String("k", "v"))
	log.Debug("filtered")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
	assert.NotContains(t, string(data), "filtered")
}

func TestGetZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getZapLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, getZapLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, getZapLevel("bogus"))
}
