// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration. Precedence is
// environment > YAML file > built-in defaults; every knob has a
// MEDIAGRAB_* environment variable.
package config

import (
	"fmt"
	"time"
)

// AppConfig holds all runtime settings for the daemon.
type AppConfig struct {
	// Listen is the bind address of the HTTP API.
	Listen string `yaml:"listen"`

	// MetricsAddr is an optional separate bind address for /metrics.
	// Empty serves metrics on the main listener.
	MetricsAddr string `yaml:"metricsAddr"`

	// DataDir is the root directory for downloaded files. Per-platform
	// subdirectories are created underneath it.
	DataDir string `yaml:"dataDir"`

	// Workers is the size of the session worker pool.
	Workers int `yaml:"workers"`

	// ItemConcurrency bounds parallel item transfers within one session.
	ItemConcurrency int `yaml:"itemConcurrency"`

	// MaxRetries is the per-item transfer retry budget.
	MaxRetries int `yaml:"maxRetries"`

	// FetchTimeout bounds a single HTTP request during resolution and
	// chunk transfer.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// FFmpeg overrides transcoder binary discovery when non-empty.
	FFmpeg string `yaml:"ffmpeg"`

	// FFmpegTimeout is the wall-clock limit for one transcoder run.
	FFmpegTimeout time.Duration `yaml:"ffmpegTimeout"`

	// SessionTTL controls how long terminal sessions stay queryable
	// before the sweeper evicts them.
	SessionTTL time.Duration `yaml:"sessionTTL"`

	// BroadcastMinInterval coalesces progress events per session.
	// Terminal transitions always publish.
	BroadcastMinInterval time.Duration `yaml:"broadcastMinInterval"`

	// RateLimit is API requests per minute per client IP; 0 disables.
	RateLimit int `yaml:"rateLimit"`

	// LogLevel is a zerolog level name; reloadable at runtime.
	LogLevel string `yaml:"logLevel"`

	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Listen:               ":8080",
		DataDir:              "data",
		Workers:              4,
		ItemConcurrency:      3,
		MaxRetries:           5,
		FetchTimeout:         30 * time.Second,
		FFmpegTimeout:        5 * time.Minute,
		SessionTTL:           time.Hour,
		BroadcastMinInterval: 100 * time.Millisecond,
		RateLimit:            120,
		LogLevel:             "info",
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *AppConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ItemConcurrency < 1 {
		return fmt.Errorf("item concurrency must be at least 1, got %d", c.ItemConcurrency)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.FFmpegTimeout <= 0 {
		return fmt.Errorf("ffmpeg timeout must be positive, got %s", c.FFmpegTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL)
	}
	if c.BroadcastMinInterval < 0 {
		return fmt.Errorf("broadcast interval must not be negative, got %s", c.BroadcastMinInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimit)
	}
	return nil
}
