// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package esi

import (
	"context"
	"fmt"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
)

// KillmailFetcher fetches full killmail detail by ID and hash. Implemented
// by Client and by the circuit breaker wrapper; the pipeline depends on
// this interface so tests can substitute fakes.
type KillmailFetcher interface {
	FetchKillmail(ctx context.Context, killmailID int64, hash string) (*models.Killmail, error)
}

// Client fetches killmail detail from ESI through the rate-limited layer.
type Client struct {
	*RateLimitedClient
}

// NewClient creates an ESI enrichment client.
func NewClient(cfg *config.ESIConfig) *Client {
	return &Client{RateLimitedClient: NewRateLimitedClient(cfg)}
}

// FetchKillmail retrieves the full killmail record for id+hash.
func (c *Client) FetchKillmail(ctx context.Context, killmailID int64, hash string) (*models.Killmail, error) {
	var wire zkb.ESIKillmail
	path := fmt.Sprintf("/killmails/%d/%s/", killmailID, hash)
	if err := c.GetJSON(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch killmail %d: %w", killmailID, err)
	}
	return wire.ToModel(hash), nil
}

// Enrich fills gaps in an incomplete killmail by overlaying full detail
// fetched from ESI. On failure the original killmail is returned unchanged
// along with the error: the pipeline proceeds with partial data rather
// than dropping the event.
func Enrich(ctx context.Context, fetcher KillmailFetcher, km *models.Killmail) (*models.Killmail, error) {
	if km.Hash == "" {
		return km, fmt.Errorf("killmail %d has no hash, cannot enrich", km.KillmailID)
	}

	full, err := fetcher.FetchKillmail(ctx, km.KillmailID, km.Hash)
	if err != nil {
		metrics.EnrichmentRequests.WithLabelValues("failure").Inc()
		logging.Warn().Err(err).Int64("killmail_id", km.KillmailID).
			Msg("Enrichment failed, continuing with partial data")
		return km, err
	}

	metrics.EnrichmentRequests.WithLabelValues("success").Inc()
	km.Overlay(full)
	return km, nil
}
