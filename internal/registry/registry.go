// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package registry maintains the in-memory snapshot of tracked character
// IDs. The snapshot is replaced atomically on refresh and read lock-free
// by the relevance filter; staleness is bounded by the refresh interval.
package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// Source lists the authoritative tracked characters. Implemented by the
// database layer; tests substitute fakes.
type Source interface {
	ListTrackedCharacters(ctx context.Context) ([]models.TrackedCharacter, error)
}

// Registry caches the tracked character set.
//
// Concurrency model: the refresh loop is the only writer; every reader
// sees a complete snapshot via the atomic pointer swap, never a partially
// populated set.
type Registry struct {
	source   Source
	interval time.Duration
	snapshot atomic.Pointer[map[int64]struct{}]
}

// New creates an unpopulated registry. Call Load before serving reads.
func New(source Source, refreshInterval time.Duration) *Registry {
	r := &Registry{source: source, interval: refreshInterval}
	empty := make(map[int64]struct{})
	r.snapshot.Store(&empty)
	return r
}

// Load performs the initial synchronous refresh. A failure here is fatal
// to startup: the filter cannot run against an unknown tracked set.
func (r *Registry) Load(ctx context.Context) error {
	if err := r.refresh(ctx); err != nil {
		return fmt.Errorf("initial tracked character load failed: %w", err)
	}
	return nil
}

// Contains reports whether the character is tracked. Lock-free.
func (r *Registry) Contains(characterID int64) bool {
	_, ok := (*r.snapshot.Load())[characterID]
	return ok
}

// Len returns the size of the current snapshot.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// IDs returns a copy of the current snapshot's character IDs.
func (r *Registry) IDs() []int64 {
	snap := *r.snapshot.Load()
	ids := make([]int64, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	return ids
}

// refresh replaces the snapshot from the source. The old snapshot stays
// in effect if the source fails.
func (r *Registry) refresh(ctx context.Context) error {
	chars, err := r.source.ListTrackedCharacters(ctx)
	if err != nil {
		return err
	}

	next := make(map[int64]struct{}, len(chars))
	for _, c := range chars {
		next[c.CharacterID] = struct{}{}
	}

	r.snapshot.Store(&next)
	metrics.TrackedCharacters.Set(float64(len(next)))
	logging.Debug().Int("count", len(next)).Msg("Tracked character snapshot refreshed")
	return nil
}

// Serve runs the periodic refresh loop until the context is canceled.
// Refresh failures are logged and leave the previous snapshot in effect;
// they never terminate the loop. Implements suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				metrics.RegistryRefreshErrors.Inc()
				logging.Warn().Err(err).Msg("Tracked character refresh failed, keeping previous snapshot")
			}
		}
	}
}
