// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

/*
client.go - Rate-Limited ESI HTTP Client

Core HTTP layer for the ESI enrichment client. Requests to ESI are
serialized through a token-bucket limiter (minimum inter-request spacing)
and guarded by a shared backoff controller:

  - Every request waits for the limiter, then for the controller's current
    backoff delay while failures are ongoing.
  - Per-request timeouts grow with consecutive failures, capped.
  - Transient failures (timeout, 429, 5xx) are retried up to MaxRetries;
    4xx responses are surfaced immediately and never retried.
  - Context cancellation aborts waits and in-flight requests without
    touching the failure counter (neither success nor failure).
  - Every failure is logged with its classification and the controller's
    failure count for observability.

Related files:
  - errors.go: error classes and classification
  - enrich.go: killmail enrichment on top of this client
  - circuit_breaker.go: gobreaker wrapper
*/

//nolint:staticcheck // File documentation, not package doc
package esi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/guarzo/eve-chart-bot-sub002/internal/backoff"
	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// RateLimitedClient is the shared HTTP layer for ESI requests.
//
// Thread safety: safe for concurrent use; the limiter and backoff
// controller serialize the effective request rate.
type RateLimitedClient struct {
	baseURL    string
	userAgent  string
	client     *http.Client
	limiter    *rate.Limiter
	backoff    *backoff.Controller
	maxRetries int
}

// NewRateLimitedClient creates the ESI HTTP layer from configuration.
// The http.Client carries no timeout of its own; per-request timeouts are
// derived from the backoff controller.
func NewRateLimitedClient(cfg *config.ESIConfig) *RateLimitedClient {
	interval := cfg.MinRequestInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	return &RateLimitedClient{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{},
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		backoff: backoff.New(backoff.Config{
			Base:        cfg.BackoffBase,
			Max:         cfg.BackoffMax,
			TimeoutBase: cfg.RequestTimeout,
			TimeoutMax:  cfg.RequestTimeoutMax,
			Jitter:      0.1,
		}),
		maxRetries: cfg.MaxRetries,
	}
}

// Backoff exposes the controller for health reporting.
func (c *RateLimitedClient) Backoff() *backoff.Controller { return c.backoff }

// GetJSON performs a rate-limited GET against path (relative to the base
// URL) and decodes the response body into result.
func (c *RateLimitedClient) GetJSON(ctx context.Context, path string, result interface{}) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// get performs the retry loop for one logical request.
func (c *RateLimitedClient) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			// Canceled during a wait: neither success nor failure.
			return nil, err
		}

		body, err := c.doOnce(ctx, path)
		if err == nil {
			c.backoff.OnSuccess()
			metrics.ESIBackoffDelay.Set(0)
			metrics.ESIRequests.WithLabelValues("success").Inc()
			return body, nil
		}

		// Parent cancellation is not a dependency failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		class := classify(err)
		metrics.ESIRequests.WithLabelValues(class).Inc()

		if !retryable(err) {
			logging.Warn().Err(err).Str("class", class).Str("path", path).
				Msg("ESI request failed with non-retryable error")
			return nil, err
		}

		c.backoff.OnFailure()
		delay := c.backoff.NextDelay()
		metrics.ESIBackoffDelay.Set(delay.Seconds())

		logging.Warn().Err(err).
			Str("class", class).
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_attempts", c.maxRetries+1).
			Int("consecutive_failures", c.backoff.Failures()).
			Dur("backoff", delay).
			Msg("ESI request failed")

		lastErr = err
	}

	return nil, fmt.Errorf("esi: retries exhausted after %d attempts: %w", c.maxRetries+1, lastErr)
}

// waitTurn blocks until the limiter grants a slot and the current backoff
// delay has elapsed. Both waits are cancellable.
func (c *RateLimitedClient) waitTurn(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return ctx.Err()
	}

	if delay := c.backoff.NextDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// doOnce performs a single HTTP attempt with a backoff-derived timeout.
func (c *RateLimitedClient) doOnce(ctx context.Context, path string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.backoff.NextTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport errors and deadline expiry share one class.
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp.StatusCode, string(readBodyForError(resp.Body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrTimeout, err)
	}
	return body, nil
}

// readBodyForError reads at most maxErrorBodySize of a response body for
// error reporting. Returns a placeholder when reading fails.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
