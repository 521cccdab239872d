package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownWait)
	assert.Empty(t, cfg.Pools)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{"creates logger with debug level", logrus.DebugLevel},
		{"creates logger with info level", logrus.InfoLevel},
		{"creates logger with warn level", logrus.WarnLevel},
		{"creates logger with error level", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesPoolSeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptproxy.yaml")
	yaml := `
log_level: debug
output_format: json
pools:
  - name: default
    exec: /usr/local/bin/scriptproxy-worker
    max: 8
    t_idle_ms: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)
	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, "default", cfg.Pools[0].Name)
	assert.Equal(t, 8, cfg.Pools[0].Max)
	assert.Equal(t, 2000, cfg.Pools[0].TIdleMs)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scriptproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pools: [this is not valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPoolSeedOptionsLeavesUnsetFieldsAtDefault(t *testing.T) {
	seed := PoolSeed{Name: "p", Max: 10}
	opts := seed.Options()
	assert.Equal(t, 10, opts.Max)
	assert.Equal(t, 500, opts.TGetMs)
	assert.Equal(t, 0, opts.TIdleMs)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkConfig_NewLogger(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.NewLogger()
	}
}
