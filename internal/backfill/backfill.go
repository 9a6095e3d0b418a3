// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package backfill walks the full zKillboard history of every tracked
// character and feeds the references through the ingestion pipeline. It
// runs as a one-shot pass on startup when enabled; steady-state gap
// repair is the pipeline's periodic catch-up task.
package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
	"github.com/guarzo/eve-chart-bot-sub002/internal/pipeline"
	"github.com/guarzo/eve-chart-bot-sub002/internal/zkill"
)

// CharacterLister exposes the tracked character snapshot. Implemented by
// registry.Registry.
type CharacterLister interface {
	IDs() []int64
}

// Orchestrator drives one backfill pass over all tracked characters.
type Orchestrator struct {
	cfg     config.BackfillConfig
	history zkill.HistorySource
	chars   CharacterLister
	pipe    pipeline.Publisher
}

// New creates a backfill orchestrator.
func New(cfg config.BackfillConfig, history zkill.HistorySource, chars CharacterLister, pipe pipeline.Publisher) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		history: history,
		chars:   chars,
		pipe:    pipe,
	}
}

// Serve runs a single backfill pass and then asks the supervisor not to
// restart it. Implements suture.Service.
func (o *Orchestrator) Serve(ctx context.Context) error {
	if err := o.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logging.Error().Err(err).Msg("Backfill pass failed")
	}
	return suture.ErrDoNotRestart
}

// Run walks every tracked character's history. Page order within a
// character is as served by the history API (newest first); ordering
// during backfill does not matter because reconciliation is idempotent
// and the history checkpoint only ever moves forward.
func (o *Orchestrator) Run(ctx context.Context) error {
	ids := o.chars.IDs()
	start := time.Now()
	logging.Info().Int("characters", len(ids)).Int("max_pages", o.cfg.MaxPages).
		Msg("Backfill pass starting")

	var total int
	for _, characterID := range ids {
		n, err := o.backfillCharacter(ctx, characterID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logging.Warn().Err(err).Int64("character_id", characterID).
				Msg("Backfill abandoned for character")
			continue
		}
		total += n
	}

	logging.Info().Int("events", total).Dur("elapsed", time.Since(start)).
		Msg("Backfill pass complete")
	return nil
}

// backfillCharacter pages through one character's history until an empty
// page or the page cap, publishing every reference.
func (o *Orchestrator) backfillCharacter(ctx context.Context, characterID int64) (int, error) {
	var published int
	for page := 1; page <= o.cfg.MaxPages; page++ {
		if page > 1 && o.cfg.PageDelay > 0 {
			select {
			case <-time.After(o.cfg.PageDelay):
			case <-ctx.Done():
				return published, ctx.Err()
			}
		}

		refs, err := o.fetchPage(ctx, characterID, page)
		if err != nil {
			metrics.BackfillPages.WithLabelValues("failure").Inc()
			return published, err
		}
		metrics.BackfillPages.WithLabelValues("success").Inc()
		if len(refs) == 0 {
			break
		}

		for i := range refs {
			env := &pipeline.Envelope{
				Feed:             pipeline.FeedBackfill,
				KnownCharacterID: characterID,
				Killmail:         refs[i].ToModel(),
			}
			if err := o.pipe.Publish(ctx, env); err != nil {
				return published, err
			}
			published++
		}

		logging.Debug().Int64("character_id", characterID).Int("page", page).
			Int("refs", len(refs)).Msg("Backfill page published")
	}
	return published, nil
}

// fetchPage retrieves one history page with bounded retries, doubling the
// delay between attempts.
func (o *Orchestrator) fetchPage(ctx context.Context, characterID int64, page int) ([]zkb.KillRef, error) {
	attempts := o.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := o.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		refs, err := o.history.CharacterPage(ctx, characterID, page)
		if err == nil {
			return refs, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, lastErr
}
