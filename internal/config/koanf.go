// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/eve-chart-bot/config.yaml",
	"/etc/eve-chart-bot/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		ZKill: ZKillConfig{
			RealtimeEnabled:  true,
			WebSocketURL:     "wss://zkillboard.com/websocket/",
			APIURL:           "https://zkillboard.com/api",
			UserAgent:        "eve-chart-bot (https://github.com/guarzo/eve-chart-bot-sub002)",
			CatchupEnabled:   true,
			CatchupInterval:  time.Hour,
			CatchupPageLimit: 5,
			PageDelay:        500 * time.Millisecond,
		},
		ESI: ESIConfig{
			BaseURL:            "https://esi.evetech.net/latest",
			UserAgent:          "eve-chart-bot (https://github.com/guarzo/eve-chart-bot-sub002)",
			MinRequestInterval: 100 * time.Millisecond,
			MaxRetries:         4,
			BackoffBase:        time.Second,
			BackoffMax:         30 * time.Second,
			RequestTimeout:     10 * time.Second,
			RequestTimeoutMax:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/killmails.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Registry: RegistryConfig{
			RefreshInterval: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			RetryAttempts:         3,
			RetryDelay:            2 * time.Second,
			ThroughputLogInterval: time.Minute,
		},
		Backfill: BackfillConfig{
			Enabled:       false, // On-demand; enable for first deployment
			MaxPages:      10,
			PageDelay:     time.Second,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3859,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// ZKILL_WEBSOCKET_URL -> zkill.websocket_url, ESI_MAX_RETRIES -> esi.max_retries
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path of the first file found, or empty string if none exist.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// configSections are the recognized top-level environment variable prefixes.
var configSections = []string{
	"zkill", "esi", "database", "registry", "pipeline", "backfill", "server", "logging",
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - ZKILL_WEBSOCKET_URL    -> zkill.websocket_url
//   - ESI_MIN_REQUEST_INTERVAL -> esi.min_request_interval
//   - DATABASE_PATH          -> database.path
//   - LOG_LEVEL              -> logging.level (legacy alias)
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	// Legacy aliases kept for deployment compatibility.
	switch key {
	case "log_level":
		return "logging.level"
	case "log_format":
		return "logging.format"
	case "duckdb_path":
		return "database.path"
	case "http_port":
		return "server.port"
	}

	for _, section := range configSections {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}

	// Not one of ours: return empty to skip unrelated environment variables.
	return ""
}
