// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
	"github.com/guarzo/eve-chart-bot-sub002/internal/zkill"
)

// CharacterLister exposes the current tracked character snapshot.
// Implemented by registry.Registry.
type CharacterLister interface {
	IDs() []int64
}

// Publisher submits events to the pipe. Implemented by Pipeline.
type Publisher interface {
	Publish(ctx context.Context, env *Envelope) error
}

// CatchupConfig tunes the periodic history catch-up task.
type CatchupConfig struct {
	// Interval is how often a catch-up pass runs.
	Interval time.Duration

	// PageLimit caps history pages fetched per character per pass. A
	// long outage is repaired incrementally across passes rather than
	// hammering the history API in one.
	PageLimit int

	// PageDelay is a fixed delay between page fetches, on top of the
	// history client's own rate limiting.
	PageDelay time.Duration
}

// Catchup periodically walks each tracked character's recent history and
// replays references the push feed missed. Pages arrive newest first;
// collected references are replayed oldest first so the history stream's
// checkpoint can advance through them in order.
type Catchup struct {
	cfg         CatchupConfig
	history     zkill.HistorySource
	chars       CharacterLister
	checkpoints CheckpointStore
	pipe        Publisher
}

// NewCatchup creates the catch-up task.
func NewCatchup(cfg CatchupConfig, history zkill.HistorySource, chars CharacterLister, checkpoints CheckpointStore, pipe Publisher) *Catchup {
	return &Catchup{
		cfg:         cfg,
		history:     history,
		chars:       chars,
		checkpoints: checkpoints,
		pipe:        pipe,
	}
}

// Serve runs catch-up passes until the context is canceled. The first
// pass starts immediately so a restart repairs gaps without waiting a
// full interval. Implements suture.Service.
func (c *Catchup) Serve(ctx context.Context) error {
	if err := c.runOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// runOnce performs one catch-up pass over every tracked character.
// Per-character failures are logged and skipped; only context
// cancellation aborts the pass.
func (c *Catchup) runOnce(ctx context.Context) error {
	cp, err := c.checkpoints.LoadCheckpoint(ctx, StreamHistory)
	if err != nil {
		logging.Warn().Err(err).Msg("Catch-up pass skipped, checkpoint unavailable")
		return nil
	}

	ids := c.chars.IDs()
	var replayed int
	for _, characterID := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		refs, err := c.collectNewRefs(ctx, characterID, cp.LastKillmailID)
		if err != nil {
			logging.Warn().Err(err).Int64("character_id", characterID).
				Msg("Catch-up history fetch failed, skipping character this pass")
			continue
		}

		// Oldest first: killmail IDs are assigned in creation order.
		sort.Slice(refs, func(i, j int) bool {
			return refs[i].KillmailID < refs[j].KillmailID
		})
		for i := range refs {
			env := &Envelope{
				Feed:             FeedCatchup,
				KnownCharacterID: characterID,
				Killmail:         refs[i].ToModel(),
			}
			if err := c.pipe.Publish(ctx, env); err != nil {
				return err
			}
		}
		replayed += len(refs)
	}

	if replayed > 0 {
		logging.Info().Int("events", replayed).Int("characters", len(ids)).
			Int64("since_killmail_id", cp.LastKillmailID).
			Msg("Catch-up pass replayed missed killmails")
	}
	return nil
}

// collectNewRefs pages through a character's history, newest first, and
// gathers references beyond the checkpoint. Paging stops at the first
// empty page, at a page with nothing new, or at the page cap.
func (c *Catchup) collectNewRefs(ctx context.Context, characterID, afterID int64) ([]zkb.KillRef, error) {
	var out []zkb.KillRef
	for page := 1; page <= c.cfg.PageLimit; page++ {
		if page > 1 && c.cfg.PageDelay > 0 {
			select {
			case <-time.After(c.cfg.PageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		refs, err := c.history.CharacterPage(ctx, characterID, page)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			break
		}

		var fresh int
		for i := range refs {
			if refs[i].KillmailID > afterID {
				out = append(out, refs[i])
				fresh++
			}
		}
		// A page with nothing new means we crossed into territory the
		// checkpoint already covers.
		if fresh == 0 {
			break
		}
	}
	return out, nil
}
