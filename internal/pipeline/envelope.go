// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package pipeline drives killmail events from the feeds through filter,
// enrichment, reconciliation, and checkpointing. Events from all feeds
// converge on one in-process Watermill topic consumed by a single
// sequential worker, so reconciliation never races with itself.
package pipeline

import (
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// Topic is the in-process Watermill topic all feeds publish to.
const Topic = "killmails"

// Feed names, used for metrics and for mapping to checkpoint streams.
const (
	FeedWebsocket = "websocket"
	FeedCatchup   = "catchup"
	FeedBackfill  = "backfill"
)

// Checkpoint stream names. The push feed and the pull feeds advance
// independent positions.
const (
	StreamWebsocket = "zkill:websocket"
	StreamHistory   = "zkill:history"
)

const (
	metaFeed             = "feed"
	metaKnownCharacterID = "known_character_id"
)

// Envelope is one killmail event in flight.
//
// KnownCharacterID is set by the pull feeds: history pages are fetched per
// tracked character, so the event is relevant to that character even
// though the bare reference carries no participant data for the filter to
// inspect. Zero means no prior relevance knowledge.
type Envelope struct {
	Feed             string
	KnownCharacterID int64
	Killmail         *models.Killmail
}

// Stream returns the checkpoint stream this envelope's feed advances.
func (e *Envelope) Stream() string {
	if e.Feed == FeedWebsocket {
		return StreamWebsocket
	}
	return StreamHistory
}

// Message serializes the envelope into a Watermill message.
func (e *Envelope) Message() (*message.Message, error) {
	payload, err := json.Marshal(e.Killmail)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal killmail %d: %w", e.Killmail.KillmailID, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metaFeed, e.Feed)
	if e.KnownCharacterID != 0 {
		msg.Metadata.Set(metaKnownCharacterID, strconv.FormatInt(e.KnownCharacterID, 10))
	}
	return msg, nil
}

// envelopeFromMessage reverses Message.
func envelopeFromMessage(msg *message.Message) (*Envelope, error) {
	var km models.Killmail
	if err := json.Unmarshal(msg.Payload, &km); err != nil {
		return nil, fmt.Errorf("failed to unmarshal killmail payload: %w", err)
	}

	env := &Envelope{
		Feed:     msg.Metadata.Get(metaFeed),
		Killmail: &km,
	}
	if raw := msg.Metadata.Get(metaKnownCharacterID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid known character id %q: %w", raw, err)
		}
		env.KnownCharacterID = id
	}
	return env, nil
}
