// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package backoff tracks consecutive failures against an external
// dependency and computes capped exponential delays and timeouts from the
// failure count. The controller holds no timers and performs no waiting;
// callers decide how to apply the computed durations.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Config holds the backoff growth parameters.
type Config struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the per-failure growth multiplier. Values below 1 are
	// treated as the default.
	Factor float64

	// TimeoutBase is the request timeout with no recent failures.
	TimeoutBase time.Duration

	// TimeoutMax caps the backoff-inflated request timeout.
	TimeoutMax time.Duration

	// Jitter is the fraction of the computed delay randomized on top of
	// it (0 disables jitter, 0.1 adds up to 10%).
	Jitter float64
}

// DefaultConfig returns conservative defaults for an external HTTP API.
func DefaultConfig() Config {
	return Config{
		Base:        time.Second,
		Max:         30 * time.Second,
		Factor:      2.0,
		TimeoutBase: 10 * time.Second,
		TimeoutMax:  60 * time.Second,
		Jitter:      0.1,
	}
}

// Controller tracks consecutive failures and derives delays from the
// count. Safe for concurrent use; callers that serialize requests (the
// rate-limited client) are the single writer in practice, but reads from
// health checks may happen concurrently.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	failures int
}

// New creates a controller, applying defaults for zero config values.
func New(cfg Config) *Controller {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Factor < 1 {
		cfg.Factor = 2.0
	}
	if cfg.TimeoutBase <= 0 {
		cfg.TimeoutBase = 10 * time.Second
	}
	if cfg.TimeoutMax <= 0 {
		cfg.TimeoutMax = 60 * time.Second
	}
	return &Controller{cfg: cfg}
}

// OnSuccess resets the consecutive failure counter.
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// OnFailure increments the consecutive failure counter.
func (c *Controller) OnFailure() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (c *Controller) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// NextDelay returns the delay for the current failure count, with jitter.
// Zero failures yields zero delay.
func (c *Controller) NextDelay() time.Duration {
	return c.jitter(c.DelayFor(c.Failures()))
}

// NextTimeout returns the request timeout for the current failure count.
func (c *Controller) NextTimeout() time.Duration {
	return c.TimeoutFor(c.Failures())
}

// DelayFor computes min(Max, Base*Factor^k) for k consecutive
// failures, without jitter. DelayFor(0) is zero: a healthy dependency
// is never delayed.
func (c *Controller) DelayFor(k int) time.Duration {
	if k <= 0 {
		return 0
	}
	d := c.cfg.Base
	for i := 0; i < k; i++ {
		d = time.Duration(float64(d) * c.cfg.Factor)
		if d >= c.cfg.Max {
			return c.cfg.Max
		}
	}
	return d
}

// TimeoutFor computes the request timeout for k consecutive failures:
// the base timeout grows by the same factor, capped at TimeoutMax.
func (c *Controller) TimeoutFor(k int) time.Duration {
	d := c.cfg.TimeoutBase
	for i := 0; i < k; i++ {
		d = time.Duration(float64(d) * c.cfg.Factor)
		if d >= c.cfg.TimeoutMax {
			return c.cfg.TimeoutMax
		}
	}
	return d
}

// jitter adds up to cfg.Jitter of d on top of it.
func (c *Controller) jitter(d time.Duration) time.Duration {
	if c.cfg.Jitter <= 0 || d <= 0 {
		return d
	}
	//nolint:gosec // math/rand is fine for jitter, no security impact
	return d + time.Duration(rand.Float64()*c.cfg.Jitter*float64(d))
}
