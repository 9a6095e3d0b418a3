// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/guarzo/eve-chart-bot-sub002/internal/esi"
	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// Reconciler converges storage for one killmail. Implemented by
// reconcile.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, km *models.Killmail) error
}

// CheckpointStore persists per-stream ingestion positions. Implemented by
// the database layer.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, stream string) (models.Checkpoint, error)
	AdvanceCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

// TrackedSet answers relevance queries. Implemented by registry.Registry.
type TrackedSet interface {
	Contains(characterID int64) bool
}

// Config tunes the pipeline driver.
type Config struct {
	// RetryAttempts bounds per-stage retries before an event is skipped.
	RetryAttempts int

	// RetryDelay is the first retry delay; doubles per attempt.
	RetryDelay time.Duration

	// ThroughputLogInterval is the window for summary logging. Zero
	// disables summaries.
	ThroughputLogInterval time.Duration

	// BufferSize is the in-process topic buffer. Publishers block when
	// it fills, which is the backpressure mechanism for the pull feeds.
	BufferSize int64
}

// Pipeline owns the in-process event pipe and the sequential consumer.
type Pipeline struct {
	cfg         Config
	pubsub      *gochannel.GoChannel
	tracked     TrackedSet
	fetcher     esi.KillmailFetcher
	reconciler  Reconciler
	checkpoints CheckpointStore

	// Throughput counters for the summary window.
	received   atomic.Int64
	filtered   atomic.Int64
	reconciled atomic.Int64
	dropped    atomic.Int64
}

// New creates the pipeline. Serve must be running before published events
// are consumed.
func New(cfg Config, tracked TrackedSet, fetcher esi.KillmailFetcher, reconciler Reconciler, checkpoints CheckpointStore) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, newWatermillLogger())

	return &Pipeline{
		cfg:         cfg,
		pubsub:      pubsub,
		tracked:     tracked,
		fetcher:     fetcher,
		reconciler:  reconciler,
		checkpoints: checkpoints,
	}
}

// Publish submits one event to the pipe. Blocks when the buffer is full.
func (p *Pipeline) Publish(ctx context.Context, env *Envelope) error {
	msg, err := env.Message()
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := p.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("failed to publish killmail %d: %w", env.Killmail.KillmailID, err)
	}
	return nil
}

// Serve consumes the pipe sequentially until the context is canceled.
// Implements suture.Service.
func (p *Pipeline) Serve(ctx context.Context) error {
	messages, err := p.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	var summaryTick <-chan time.Time
	if p.cfg.ThroughputLogInterval > 0 {
		ticker := time.NewTicker(p.cfg.ThroughputLogInterval)
		defer ticker.Stop()
		summaryTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-summaryTick:
			p.logThroughput()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			p.handleMessage(ctx, msg)
		}
	}
}

// Close shuts down the in-process pipe. Pending buffered events are lost;
// the checkpoints bound the replay needed on next start.
func (p *Pipeline) Close() error {
	return p.pubsub.Close()
}

// handleMessage processes one message and always acks it: a poisoned or
// persistently failing event is dropped rather than redelivered, since
// in-order progress matters more than any single record. The checkpoint
// is only advanced for events that actually reached storage.
func (p *Pipeline) handleMessage(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	env, err := envelopeFromMessage(msg)
	if err != nil {
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Discarding undecodable event")
		return
	}
	if err := p.process(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).
			Str("feed", env.Feed).
			Int64("killmail_id", env.Killmail.KillmailID).
			Msg("Event dropped after exhausting retries")
	}
}

// process runs one event through the stages: relevance filter, enrichment
// when fields are missing, reconciliation, checkpoint advance.
func (p *Pipeline) process(ctx context.Context, env *Envelope) error {
	km := env.Killmail
	metrics.EventsReceived.WithLabelValues(env.Feed).Inc()
	p.received.Add(1)

	if !p.relevant(env) {
		metrics.EventsFiltered.WithLabelValues(env.Feed).Inc()
		p.filtered.Add(1)
		// Filtered events still advance the stream position: they were
		// fully processed, just not stored.
		return p.advanceCheckpoint(ctx, env)
	}

	if !km.IsComplete() {
		p.enrich(ctx, env)
	}

	if err := p.withRetries(ctx, func(ctx context.Context) error {
		return p.reconciler.Reconcile(ctx, km)
	}); err != nil {
		metrics.EventsDropped.WithLabelValues(env.Feed, "reconcile").Inc()
		p.dropped.Add(1)
		return fmt.Errorf("reconciliation failed for killmail %d: %w", km.KillmailID, err)
	}
	p.reconciled.Add(1)

	logging.Debug().
		Str("feed", env.Feed).
		Int64("killmail_id", km.KillmailID).
		Int("attackers", len(km.Attackers)).
		Msg("Killmail reconciled")

	return p.advanceCheckpoint(ctx, env)
}

// relevant reports whether the event involves a tracked character. Pull
// feed events carry the character their history page was fetched for and
// bypass participant inspection, since bare references have none.
func (p *Pipeline) relevant(env *Envelope) bool {
	if env.KnownCharacterID != 0 {
		return p.tracked.Contains(env.KnownCharacterID)
	}

	km := env.Killmail
	if km.Victim.CharacterID != nil && p.tracked.Contains(*km.Victim.CharacterID) {
		return true
	}
	for i := range km.Attackers {
		if id := km.Attackers[i].CharacterID; id != nil && p.tracked.Contains(*id) {
			return true
		}
	}
	return false
}

// enrich fills in missing killmail fields from ESI with bounded retries.
// Permanent upstream rejections and exhausted retries both fall through
// to reconciliation with whatever data the event already carries.
func (p *Pipeline) enrich(ctx context.Context, env *Envelope) {
	err := p.withRetries(ctx, func(ctx context.Context) error {
		_, err := esi.Enrich(ctx, p.fetcher, env.Killmail)
		if errors.Is(err, esi.ErrClientError) {
			// 4xx will not succeed on retry.
			return nil
		}
		return err
	})
	if err != nil {
		metrics.EventsDropped.WithLabelValues(env.Feed, "enrich").Inc()
		logging.Warn().Err(err).
			Int64("killmail_id", env.Killmail.KillmailID).
			Msg("Enrichment exhausted retries, reconciling partial record")
	}
}

// advanceCheckpoint moves the feed's stream position past this event.
func (p *Pipeline) advanceCheckpoint(ctx context.Context, env *Envelope) error {
	cp := models.Checkpoint{
		Stream:         env.Stream(),
		LastKillmailID: env.Killmail.KillmailID,
		LastKillTime:   env.Killmail.KillTime,
	}
	if err := p.withRetries(ctx, func(ctx context.Context) error {
		return p.checkpoints.AdvanceCheckpoint(ctx, cp)
	}); err != nil {
		metrics.EventsDropped.WithLabelValues(env.Feed, "checkpoint").Inc()
		return fmt.Errorf("checkpoint advance failed for stream %s: %w", cp.Stream, err)
	}
	return nil
}

// withRetries runs fn up to the configured attempt count, doubling the
// delay between attempts. The waits are cancellable.
func (p *Pipeline) withRetries(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

// logThroughput emits the periodic summary and resets the window. Per
// event logging stays at debug; this is the steady-state signal.
func (p *Pipeline) logThroughput() {
	received := p.received.Swap(0)
	filtered := p.filtered.Swap(0)
	reconciled := p.reconciled.Swap(0)
	dropped := p.dropped.Swap(0)
	if received == 0 && dropped == 0 {
		return
	}
	logging.Info().
		Int64("received", received).
		Int64("filtered", filtered).
		Int64("reconciled", reconciled).
		Int64("dropped", dropped).
		Dur("window", p.cfg.ThroughputLogInterval).
		Msg("Pipeline throughput")
}
