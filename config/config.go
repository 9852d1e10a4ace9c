// Package config loads client settings from the environment and builds the
// process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrConfig is returned when configuration is invalid.
var ErrConfig = errors.New("invalid configuration")

const (
	EnvAPIURL         = "COURSEMART_API_URL"
	EnvDataDir        = "COURSEMART_DATA_DIR"
	EnvDebug          = "COURSEMART_DEBUG"
	EnvLogLevel       = "COURSEMART_LOG_LEVEL"
	EnvRequestTimeout = "COURSEMART_REQUEST_TIMEOUT"
	EnvSealRecords    = "COURSEMART_SEAL_RECORDS"
)

// Config is the client runtime configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.coursemart.example.
	BaseURL string
	// DataDir holds session.db and device.key.
	DataDir string
	// Debug logs expected failures and server error detail.
	Debug bool
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// RequestTimeout bounds every HTTP round trip, refresh included.
	RequestTimeout time.Duration
	// SealRecords encrypts stored identity and cookies with a key derived
	// from the device secret.
	SealRecords bool
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:8080",
		DataDir:        defaultDataDir(),
		LogLevel:       "warn",
		RequestTimeout: 30 * time.Second,
		SealRecords:    true,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coursemart")
	}
	return ".coursemart"
}

// FromEnv overlays the COURSEMART_* environment variables on Default.
func FromEnv() Config {
	def := Default()
	return Config{
		BaseURL:        EnvString(EnvAPIURL, def.BaseURL),
		DataDir:        EnvString(EnvDataDir, def.DataDir),
		Debug:          EnvBool(EnvDebug, def.Debug),
		LogLevel:       EnvString(EnvLogLevel, def.LogLevel),
		RequestTimeout: EnvDuration(EnvRequestTimeout, def.RequestTimeout),
		SealRecords:    EnvBool(EnvSealRecords, def.SealRecords),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base URL %q must be an absolute http(s) URL", ErrConfig, c.BaseURL)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data dir is required", ErrConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrConfig)
	}
	return nil
}

// SessionDBPath is the bbolt file holding the durable scope.
func (c Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "session.db")
}

// DeviceKeyPath is the file holding the device secret.
func (c Config) DeviceKeyPath() string {
	return filepath.Join(c.DataDir, "device.key")
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("%w: unknown log level %q", ErrConfig, name)
	}
	return lvl, nil
}

// NewLogger returns a JSON logger writing to w at the given level. Debug
// forces the debug level.
func NewLogger(w io.Writer, level string, debug bool) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
