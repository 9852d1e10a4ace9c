package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://api.coursemart.test")
	t.Setenv(EnvDataDir, "/tmp/cm")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvLogLevel, "info")
	t.Setenv(EnvRequestTimeout, "5s")
	t.Setenv(EnvSealRecords, "false")

	cfg := FromEnv()
	assert.Equal(t, "https://api.coursemart.test", cfg.BaseURL)
	assert.Equal(t, "/tmp/cm", cfg.DataDir)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.SealRecords)
	assert.Equal(t, filepath.Join("/tmp/cm", "session.db"), cfg.SessionDBPath())
	assert.Equal(t, filepath.Join("/tmp/cm", "device.key"), cfg.DeviceKeyPath())
	require.NoError(t, cfg.Validate())
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("CM_TEST_BOOL", "maybe")
	t.Setenv("CM_TEST_DUR", "-1s")
	t.Setenv("CM_TEST_STR", "   ")
	assert.True(t, EnvBool("CM_TEST_BOOL", true))
	assert.Equal(t, time.Minute, EnvDuration("CM_TEST_DUR", time.Minute))
	assert.Equal(t, "def", EnvString("CM_TEST_STR", "def"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.BaseURL = "/api" }},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://host" }},
		{"empty data dir", func(c *Config) { c.DataDir = " " }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", false)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	logger, err = NewLogger(&buf, "error", true)
	require.NoError(t, err)
	logger.Debug("debug wins")
	assert.Contains(t, buf.String(), "debug wins")

	_, err = NewLogger(&buf, "nope", false)
	assert.ErrorIs(t, err, ErrConfig)
}
