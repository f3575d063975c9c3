package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Admin: AdminConfig{
			Endpoint:          "http://127.0.0.1:8000",
			RequestTimeoutSec: 60,
		},
		Sandbox: SandboxConfig{
			Image:                  "python:3.11-slim",
			Memory:                 "2g",
			CPUCount:               1,
			StartupTimeoutSec:      180,
			StatusCheckTimeoutSec:  15,
			StatusCheckIntervalSec: 2,
			CommandTimeoutSec:      60,
		},
		Group: GroupConfig{
			Size:               1,
			StartConcurrency:   10,
			StartRetryTimes:    3,
			StartRetryDelaySec: 5,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		err := validConfig().validate()
		require.NoError(t, err)
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("EmptyAdminEndpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Admin.Endpoint = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "admin.endpoint must not be empty")
	})

	t.Run("NonHTTPAdminEndpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Admin.Endpoint = "ftp://somewhere"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid admin.endpoint")
	})

	t.Run("InvalidRequestTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Admin.RequestTimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "admin.request_timeout_sec must be positive")
	})

	t.Run("EmptySandboxImage", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Image = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.image must not be empty")
	})

	t.Run("InvalidStartupTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.StartupTimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.startup_timeout_sec must be positive")
	})

	t.Run("InvalidStatusCheckTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.StatusCheckTimeoutSec = -1

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.status_check_timeout_sec must be positive")
	})

	t.Run("InvalidStatusCheckInterval", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.StatusCheckIntervalSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.status_check_interval_sec must be positive")
	})

	t.Run("InvalidCommandTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.CommandTimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.command_timeout_sec must be positive")
	})

	t.Run("InvalidGroupSize", func(t *testing.T) {
		cfg := validConfig()
		cfg.Group.Size = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "group.size must be at least 1")
	})

	t.Run("InvalidStartConcurrency", func(t *testing.T) {
		cfg := validConfig()
		cfg.Group.StartConcurrency = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "group.start_concurrency must be at least 1")
	})

	t.Run("InvalidStartRetryTimes", func(t *testing.T) {
		cfg := validConfig()
		cfg.Group.StartRetryTimes = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "group.start_retry_times must be at least 1")
	})
}

func TestConfigFromFile(t *testing.T) {
	dir := t.TempDir()

	raw, err := yaml.Marshal(map[string]any{
		"server": map[string]any{
			"transport": "http",
			"http_port": 9090,
		},
		"admin": map[string]any{
			"endpoint": "https://rock-admin.internal:8443",
			"api_key":  "secret",
		},
		"sandbox": map[string]any{
			"image":               "node:20-alpine",
			"startup_timeout_sec": 240,
		},
		"group": map[string]any{
			"size":              4,
			"start_concurrency": 2,
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0644))

	t.Chdir(dir)
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "https://rock-admin.internal:8443", cfg.Admin.Endpoint)
	assert.Equal(t, "secret", cfg.Admin.APIKey)
	assert.Equal(t, "node:20-alpine", cfg.Sandbox.Image)
	assert.Equal(t, 240, cfg.Sandbox.StartupTimeoutSec)
	assert.Equal(t, 4, cfg.Group.Size)
	assert.Equal(t, 2, cfg.Group.StartConcurrency)

	// Unset keys fall back to defaults.
	assert.Equal(t, 60, cfg.Admin.RequestTimeoutSec)
	assert.Equal(t, 2, cfg.Sandbox.StatusCheckIntervalSec)
	assert.Equal(t, "production", cfg.Logging.Mode)
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 60*time.Second, cfg.Admin.RequestTimeout())
	assert.Equal(t, 180*time.Second, cfg.Sandbox.StartupTimeout())
	assert.Equal(t, 15*time.Second, cfg.Sandbox.StatusCheckTimeout())
	assert.Equal(t, 2*time.Second, cfg.Sandbox.StatusCheckInterval())
	assert.Equal(t, 60*time.Second, cfg.Sandbox.CommandTimeout())
	assert.Equal(t, 5*time.Second, cfg.Group.StartRetryDelay())
}
