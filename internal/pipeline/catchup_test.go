// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
)

// fakeHistory serves canned pages per character, newest first.
type fakeHistory struct {
	pages map[int64][][]zkb.KillRef
	err   error
	calls int
}

func (f *fakeHistory) CharacterPage(_ context.Context, characterID int64, page int) ([]zkb.KillRef, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	pages := f.pages[characterID]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

// capturePublisher records published envelopes without a running pipe.
type capturePublisher struct {
	envs []*Envelope
}

func (c *capturePublisher) Publish(_ context.Context, env *Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

type fixedChars []int64

func (f fixedChars) IDs() []int64 { return f }

func ref(id int64) zkb.KillRef {
	return zkb.KillRef{KillmailID: id, ZKB: zkb.Meta{Hash: "hash"}}
}

func TestCatchupReplaysMissedRefsOldestFirst(t *testing.T) {
	history := &fakeHistory{pages: map[int64][][]zkb.KillRef{
		90000001: {
			{ref(128000030), ref(128000020)},
			{ref(128000010), ref(128000005)},
		},
	}}
	cps := newFakeCheckpoints()
	cps.positions[StreamHistory] = 128000005
	sink := &capturePublisher{}

	c := NewCatchup(CatchupConfig{PageLimit: 10}, history, fixedChars{90000001}, cps, sink)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	want := []int64{128000010, 128000020, 128000030}
	if len(sink.envs) != len(want) {
		t.Fatalf("published %d events, want %d", len(sink.envs), len(want))
	}
	for i, env := range sink.envs {
		if env.Killmail.KillmailID != want[i] {
			t.Errorf("event %d = killmail %d, want %d", i, env.Killmail.KillmailID, want[i])
		}
		if env.Feed != FeedCatchup {
			t.Errorf("event %d feed = %q, want %q", i, env.Feed, FeedCatchup)
		}
		if env.KnownCharacterID != 90000001 {
			t.Errorf("event %d known character = %d, want 90000001", i, env.KnownCharacterID)
		}
	}
}

func TestCatchupStopsAtPageWithNothingNew(t *testing.T) {
	history := &fakeHistory{pages: map[int64][][]zkb.KillRef{
		90000001: {
			{ref(128000030)},
			{ref(128000002), ref(128000001)},
			{ref(128000000)},
		},
	}}
	cps := newFakeCheckpoints()
	cps.positions[StreamHistory] = 128000010
	sink := &capturePublisher{}

	c := NewCatchup(CatchupConfig{PageLimit: 10}, history, fixedChars{90000001}, cps, sink)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	if len(sink.envs) != 1 || sink.envs[0].Killmail.KillmailID != 128000030 {
		t.Errorf("published = %v, want only killmail 128000030", sink.envs)
	}
	// Page 2 had nothing new, so page 3 must not have been fetched.
	if history.calls != 2 {
		t.Errorf("page fetches = %d, want 2", history.calls)
	}
}

func TestCatchupHonorsPageLimit(t *testing.T) {
	history := &fakeHistory{pages: map[int64][][]zkb.KillRef{
		90000001: {
			{ref(128000030)},
			{ref(128000020)},
			{ref(128000010)},
		},
	}}
	cps := newFakeCheckpoints()
	sink := &capturePublisher{}

	c := NewCatchup(CatchupConfig{PageLimit: 2}, history, fixedChars{90000001}, cps, sink)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}

	if history.calls != 2 {
		t.Errorf("page fetches = %d, want the configured cap of 2", history.calls)
	}
	if len(sink.envs) != 2 {
		t.Errorf("published %d events, want 2", len(sink.envs))
	}
}

func TestCatchupSkipsFailingCharacter(t *testing.T) {
	history := &fakeHistory{err: errors.New("history API unavailable")}
	cps := newFakeCheckpoints()
	sink := &capturePublisher{}

	c := NewCatchup(CatchupConfig{PageLimit: 2}, history, fixedChars{90000001, 90000002}, cps, sink)
	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce() error = %v, want per-character failures swallowed", err)
	}
	if len(sink.envs) != 0 {
		t.Errorf("published %d events, want 0", len(sink.envs))
	}
	// Both characters were attempted despite the first failing.
	if history.calls != 2 {
		t.Errorf("page fetches = %d, want 2", history.calls)
	}
}
