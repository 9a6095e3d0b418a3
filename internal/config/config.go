// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package config loads and validates application configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML config file, then environment variables. Precedence is
// ENV > file > defaults. See koanf.go for the loading mechanics.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root application configuration.
type Config struct {
	ZKill    ZKillConfig    `koanf:"zkill"`
	ESI      ESIConfig      `koanf:"esi"`
	Database DatabaseConfig `koanf:"database"`
	Registry RegistryConfig `koanf:"registry"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Backfill BackfillConfig `koanf:"backfill"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ZKillConfig configures the zKillboard feeds.
type ZKillConfig struct {
	// RealtimeEnabled controls the killstream WebSocket feed.
	RealtimeEnabled bool `koanf:"realtime_enabled"`

	// WebSocketURL is the zKillboard killstream endpoint.
	WebSocketURL string `koanf:"websocket_url" validate:"required,url"`

	// APIURL is the base URL of the paginated zKillboard history API.
	APIURL string `koanf:"api_url" validate:"required,url"`

	// UserAgent identifies this service to zKillboard, which requires a
	// descriptive user agent with a maintainer contact.
	UserAgent string `koanf:"user_agent" validate:"required"`

	// CatchupEnabled controls the periodic history catch-up task.
	CatchupEnabled bool `koanf:"catchup_enabled"`

	// CatchupInterval is how often the catch-up task runs.
	CatchupInterval time.Duration `koanf:"catchup_interval" validate:"min=1m"`

	// CatchupPageLimit caps the number of history pages fetched per
	// character per catch-up run.
	CatchupPageLimit int `koanf:"catchup_page_limit" validate:"min=1"`

	// PageDelay is the fixed delay between history page fetches, applied
	// on top of the client's own rate limiting.
	PageDelay time.Duration `koanf:"page_delay"`
}

// ESIConfig configures the ESI enrichment client.
type ESIConfig struct {
	// BaseURL is the ESI API root (e.g. https://esi.evetech.net/latest).
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// UserAgent identifies this service to CCP per ESI guidelines.
	UserAgent string `koanf:"user_agent" validate:"required"`

	// MinRequestInterval is the minimum spacing between outbound requests.
	MinRequestInterval time.Duration `koanf:"min_request_interval"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `koanf:"max_retries" validate:"min=0,max=10"`

	// BackoffBase is the first retry delay; doubles per consecutive failure.
	BackoffBase time.Duration `koanf:"backoff_base"`

	// BackoffMax caps the computed backoff delay.
	BackoffMax time.Duration `koanf:"backoff_max"`

	// RequestTimeout is the base per-request timeout. The effective timeout
	// grows with consecutive failures up to RequestTimeoutMax.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RequestTimeoutMax caps the backoff-inflated request timeout.
	RequestTimeoutMax time.Duration `koanf:"request_timeout_max"`
}

// DatabaseConfig configures the DuckDB storage engine.
type DatabaseConfig struct {
	// Path is the DuckDB database file path.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory is the DuckDB memory limit (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// RegistryConfig configures the tracked-character registry.
type RegistryConfig struct {
	// RefreshInterval is how often the tracked set snapshot is reloaded.
	// The staleness window is bounded by this interval.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"min=10s"`
}

// PipelineConfig configures the ingestion pipeline driver.
type PipelineConfig struct {
	// RetryAttempts bounds per-stage retries before an event is skipped.
	RetryAttempts int `koanf:"retry_attempts" validate:"min=1"`

	// RetryDelay is the first per-stage retry delay; doubles per attempt.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// ThroughputLogInterval is the window for push-feed throughput
	// summaries. Individual events are only logged when relevant.
	ThroughputLogInterval time.Duration `koanf:"throughput_log_interval"`
}

// BackfillConfig configures historical backfill runs.
type BackfillConfig struct {
	// Enabled runs a backfill pass for every tracked character on startup.
	Enabled bool `koanf:"enabled"`

	// MaxPages caps history pages fetched per character.
	MaxPages int `koanf:"max_pages" validate:"min=1"`

	// PageDelay is the fixed inter-page delay, independent of the
	// client's rate limiting.
	PageDelay time.Duration `koanf:"page_delay"`

	// RetryAttempts bounds per-event retries during backfill.
	RetryAttempts int `koanf:"retry_attempts" validate:"min=1"`

	// RetryDelay is the first per-event retry delay; doubles per attempt.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// ServerConfig configures the read-only HTTP surface (health, metrics,
// collaborator queries).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field checks the struct tags cannot express.
	if c.ESI.BackoffMax < c.ESI.BackoffBase {
		return fmt.Errorf("esi.backoff_max (%s) must be >= esi.backoff_base (%s)",
			c.ESI.BackoffMax, c.ESI.BackoffBase)
	}
	if c.ESI.RequestTimeoutMax < c.ESI.RequestTimeout {
		return fmt.Errorf("esi.request_timeout_max (%s) must be >= esi.request_timeout (%s)",
			c.ESI.RequestTimeoutMax, c.ESI.RequestTimeout)
	}
	if !c.ZKill.RealtimeEnabled && !c.ZKill.CatchupEnabled && !c.Backfill.Enabled {
		return fmt.Errorf("no ingestion source enabled: set zkill.realtime_enabled, zkill.catchup_enabled, or backfill.enabled")
	}

	return nil
}
