// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
	"github.com/guarzo/eve-chart-bot-sub002/internal/pipeline"
)

type fakeHistory struct {
	pages    map[int64][][]zkb.KillRef
	failures int
	calls    int
}

func (f *fakeHistory) CharacterPage(_ context.Context, characterID int64, page int) ([]zkb.KillRef, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("history API unavailable")
	}
	pages := f.pages[characterID]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

type capturePublisher struct {
	envs []*pipeline.Envelope
}

func (c *capturePublisher) Publish(_ context.Context, env *pipeline.Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

type fixedChars []int64

func (f fixedChars) IDs() []int64 { return f }

func ref(id int64) zkb.KillRef {
	return zkb.KillRef{KillmailID: id, ZKB: zkb.Meta{Hash: "hash"}}
}

func testConfig() config.BackfillConfig {
	return config.BackfillConfig{
		Enabled:       true,
		MaxPages:      10,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestRunPublishesAllPages(t *testing.T) {
	history := &fakeHistory{pages: map[int64][][]zkb.KillRef{
		90000001: {
			{ref(128000030), ref(128000020)},
			{ref(128000010)},
		},
		90000002: {
			{ref(128000025)},
		},
	}}
	sink := &capturePublisher{}

	o := New(testConfig(), history, fixedChars{90000001, 90000002}, sink)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.envs) != 4 {
		t.Fatalf("published %d events, want 4", len(sink.envs))
	}
	for _, env := range sink.envs {
		if env.Feed != pipeline.FeedBackfill {
			t.Errorf("feed = %q, want %q", env.Feed, pipeline.FeedBackfill)
		}
		if env.KnownCharacterID == 0 {
			t.Error("known character id not set on backfill event")
		}
	}
}

func TestRunStopsAtPageCap(t *testing.T) {
	history := &fakeHistory{pages: map[int64][][]zkb.KillRef{
		90000001: {
			{ref(128000030)},
			{ref(128000020)},
			{ref(128000010)},
		},
	}}
	sink := &capturePublisher{}

	cfg := testConfig()
	cfg.MaxPages = 2
	o := New(cfg, history, fixedChars{90000001}, sink)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if history.calls != 2 {
		t.Errorf("page fetches = %d, want the configured cap of 2", history.calls)
	}
	if len(sink.envs) != 2 {
		t.Errorf("published %d events, want 2", len(sink.envs))
	}
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	history := &fakeHistory{
		failures: 2,
		pages: map[int64][][]zkb.KillRef{
			90000001: {{ref(128000030)}},
		},
	}
	sink := &capturePublisher{}

	o := New(testConfig(), history, fixedChars{90000001}, sink)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.envs) != 1 {
		t.Errorf("published %d events, want 1 after retries", len(sink.envs))
	}
}

func TestRunContinuesPastFailingCharacter(t *testing.T) {
	// All retries for the first character fail; the second succeeds.
	history := &fakeHistory{
		failures: 3,
		pages: map[int64][][]zkb.KillRef{
			90000002: {{ref(128000025)}},
		},
	}
	sink := &capturePublisher{}

	o := New(testConfig(), history, fixedChars{90000001, 90000002}, sink)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.envs) != 1 || sink.envs[0].KnownCharacterID != 90000002 {
		t.Errorf("published = %v, want one event for character 90000002", sink.envs)
	}
}
