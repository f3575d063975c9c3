package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the client configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Group   GroupConfig   `mapstructure:"group"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// AdminConfig holds the connection settings for the ROCK admin service.
type AdminConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	APIKey            string            `mapstructure:"api_key"`
	RequestTimeoutSec int               `mapstructure:"request_timeout_sec"`
	ExtraHeaders      map[string]string `mapstructure:"extra_headers"`
}

// SandboxConfig is the template configuration applied to every sandbox
// built from this config.
type SandboxConfig struct {
	Image                  string `mapstructure:"image"`
	Memory                 string `mapstructure:"memory"`
	CPUCount               int    `mapstructure:"cpu_count"`
	ClusterName            string `mapstructure:"cluster_name"`
	RouteKey               string `mapstructure:"route_key"`
	StartupTimeoutSec      int    `mapstructure:"startup_timeout_sec"`
	StatusCheckTimeoutSec  int    `mapstructure:"status_check_timeout_sec"`
	StatusCheckIntervalSec int    `mapstructure:"status_check_interval_sec"`
	CommandTimeoutSec      int    `mapstructure:"command_timeout_sec"`
}

// GroupConfig holds sandbox group orchestration settings.
type GroupConfig struct {
	Size               int `mapstructure:"size"`
	StartConcurrency   int `mapstructure:"start_concurrency"`
	StartRetryTimes    int `mapstructure:"start_retry_times"`
	StartRetryDelaySec int `mapstructure:"start_retry_delay_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the client configuration.
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("admin.endpoint", "http://127.0.0.1:8000")
	viper.SetDefault("admin.api_key", "")
	viper.SetDefault("admin.request_timeout_sec", 60)

	viper.SetDefault("sandbox.image", "python:3.11-slim")
	viper.SetDefault("sandbox.memory", "2g")
	viper.SetDefault("sandbox.cpu_count", 1)
	viper.SetDefault("sandbox.cluster_name", "")
	viper.SetDefault("sandbox.route_key", "")
	viper.SetDefault("sandbox.startup_timeout_sec", 180)
	viper.SetDefault("sandbox.status_check_timeout_sec", 15)
	viper.SetDefault("sandbox.status_check_interval_sec", 2)
	viper.SetDefault("sandbox.command_timeout_sec", 60)

	viper.SetDefault("group.size", 1)
	viper.SetDefault("group.start_concurrency", 10)
	viper.SetDefault("group.start_retry_times", 3)
	viper.SetDefault("group.start_retry_delay_sec", 5)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid.
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Admin.Endpoint == "" {
		return fmt.Errorf("admin.endpoint must not be empty")
	}
	if !strings.HasPrefix(c.Admin.Endpoint, "http://") && !strings.HasPrefix(c.Admin.Endpoint, "https://") {
		return fmt.Errorf("invalid admin.endpoint: %s, must be an http(s) URL", c.Admin.Endpoint)
	}
	if c.Admin.RequestTimeoutSec <= 0 {
		return fmt.Errorf("admin.request_timeout_sec must be positive, got: %d", c.Admin.RequestTimeoutSec)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}
	if c.Sandbox.StartupTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.startup_timeout_sec must be positive, got: %d", c.Sandbox.StartupTimeoutSec)
	}
	if c.Sandbox.StatusCheckTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.status_check_timeout_sec must be positive, got: %d", c.Sandbox.StatusCheckTimeoutSec)
	}
	if c.Sandbox.StatusCheckIntervalSec <= 0 {
		return fmt.Errorf("sandbox.status_check_interval_sec must be positive, got: %d", c.Sandbox.StatusCheckIntervalSec)
	}
	if c.Sandbox.CommandTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.command_timeout_sec must be positive, got: %d", c.Sandbox.CommandTimeoutSec)
	}

	if c.Group.Size < 1 {
		return fmt.Errorf("group.size must be at least 1, got: %d", c.Group.Size)
	}
	if c.Group.StartConcurrency < 1 {
		return fmt.Errorf("group.start_concurrency must be at least 1, got: %d", c.Group.StartConcurrency)
	}
	if c.Group.StartRetryTimes < 1 {
		return fmt.Errorf("group.start_retry_times must be at least 1, got: %d", c.Group.StartRetryTimes)
	}

	return nil
}

// RequestTimeout returns the admin request timeout as a duration.
func (c *AdminConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StartupTimeout returns the overall sandbox startup deadline.
func (c *SandboxConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSec) * time.Second
}

// StatusCheckTimeout returns the per-status-check bound.
func (c *SandboxConfig) StatusCheckTimeout() time.Duration {
	return time.Duration(c.StatusCheckTimeoutSec) * time.Second
}

// StatusCheckInterval returns the sleep between status checks.
func (c *SandboxConfig) StatusCheckInterval() time.Duration {
	return time.Duration(c.StatusCheckIntervalSec) * time.Second
}

// CommandTimeout returns the default in-session command timeout.
func (c *SandboxConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// StartRetryDelay returns the fixed delay between group start attempts.
func (c *GroupConfig) StartRetryDelay() time.Duration {
	return time.Duration(c.StartRetryDelaySec) * time.Second
}
