// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration. path may be empty; when set it
// names a YAML file whose values override the defaults. Environment
// variables override both.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	cfg.Listen = ParseString("MEDIAGRAB_LISTEN", cfg.Listen)
	cfg.MetricsAddr = ParseString("MEDIAGRAB_METRICS_ADDR", cfg.MetricsAddr)
	cfg.DataDir = ParseString("MEDIAGRAB_DATA_DIR", cfg.DataDir)
	cfg.Workers = ParseInt("MEDIAGRAB_WORKERS", cfg.Workers)
	cfg.ItemConcurrency = ParseInt("MEDIAGRAB_ITEM_CONCURRENCY", cfg.ItemConcurrency)
	cfg.MaxRetries = ParseInt("MEDIAGRAB_MAX_RETRIES", cfg.MaxRetries)
	cfg.FetchTimeout = ParseDuration("MEDIAGRAB_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.FFmpeg = ParseString("MEDIAGRAB_FFMPEG", cfg.FFmpeg)
	cfg.FFmpegTimeout = ParseDuration("MEDIAGRAB_FFMPEG_TIMEOUT", cfg.FFmpegTimeout)
	cfg.SessionTTL = ParseDuration("MEDIAGRAB_SESSION_TTL", cfg.SessionTTL)
	cfg.BroadcastMinInterval = ParseDuration("MEDIAGRAB_BROADCAST_MIN_INTERVAL", cfg.BroadcastMinInterval)
	cfg.RateLimit = ParseInt("MEDIAGRAB_RATE_LIMIT", cfg.RateLimit)
	cfg.LogLevel = ParseString("MEDIAGRAB_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = ParseString("MEDIAGRAB_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}
