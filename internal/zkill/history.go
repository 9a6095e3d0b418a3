// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package zkill provides the zKillboard event-source adapters: the
// killstream WebSocket push feed and the paginated character history API
// used for catch-up and backfill. Both normalize wire payloads into
// models.Killmail at this boundary.
package zkill

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
)

// HistorySource fetches paginated killmail references for one character,
// newest-first. Implemented by HistoryClient; the catch-up task and the
// backfill orchestrator depend on this interface so tests can fake pages.
type HistorySource interface {
	CharacterPage(ctx context.Context, characterID int64, page int) ([]zkb.KillRef, error)
}

// HistoryClient reads the zKillboard character history API.
//
// Pages are newest-first and hold up to 200 references each; each
// reference carries only killmail_id and the zkb block (hash, value), so
// every record from this feed requires ESI enrichment. zKillboard rate
// limits aggressively; HTTP 429 responses are retried with exponential
// backoff honoring Retry-After.
type HistoryClient struct {
	baseURL        string
	userAgent      string
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewHistoryClient creates a history API client.
func NewHistoryClient(baseURL, userAgent string) *HistoryClient {
	return &HistoryClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries:     5,
		retryBaseDelay: 1 * time.Second,
	}
}

// CharacterPage fetches one page of killmail references for a character.
// An empty slice signals the end of available history.
func (c *HistoryClient) CharacterPage(ctx context.Context, characterID int64, page int) ([]zkb.KillRef, error) {
	reqURL := fmt.Sprintf("%s/characterID/%d/page/%d/", c.baseURL, characterID, page)

	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history page %d for character %d: %w", page, characterID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyForError(resp.Body)
		return nil, fmt.Errorf("history request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var refs []zkb.KillRef
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return nil, fmt.Errorf("failed to decode history page: %w", err)
	}

	return refs, nil
}

// doRequestWithRateLimit performs an HTTP GET with automatic rate limit
// handling: exponential backoff on HTTP 429 (1s, 2s, 4s, 8s, 16s),
// honoring a Retry-After header when present. Waits are cancellable.
func (c *HistoryClient) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Rate limited - close body and retry with backoff
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// maxErrorBodySize limits error body reads for diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads at most maxErrorBodySize of a response body.
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
