// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package esi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

type fakeFetcher struct {
	km    *models.Killmail
	err   error
	calls int
}

func (f *fakeFetcher) FetchKillmail(_ context.Context, _ int64, _ string) (*models.Killmail, error) {
	f.calls++
	return f.km, f.err
}

func TestEnrichOverlaysDetail(t *testing.T) {
	charID := int64(90000001)
	full := &models.Killmail{
		KillmailID:    128000001,
		Hash:          "abc123",
		KillTime:      time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		SolarSystemID: 30000142,
		Victim:        models.Victim{CharacterID: &charID, ShipTypeID: 587, DamageTaken: 100},
		Attackers:     []models.Attacker{{DamageDone: 100, FinalBlow: true}},
	}
	fetcher := &fakeFetcher{km: full}

	skeleton := &models.Killmail{KillmailID: 128000001, Hash: "abc123", TotalValue: 5000}
	got, err := Enrich(context.Background(), fetcher, skeleton)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if !got.IsComplete() {
		t.Error("enriched killmail should be complete")
	}
	if got.TotalValue != 5000 {
		t.Errorf("TotalValue = %f, want zkill pricing preserved", got.TotalValue)
	}
	if got.SolarSystemID != 30000142 {
		t.Errorf("SolarSystemID = %d", got.SolarSystemID)
	}
}

func TestEnrichFailureReturnsOriginal(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("esi down")}

	skeleton := &models.Killmail{KillmailID: 128000001, Hash: "abc123"}
	got, err := Enrich(context.Background(), fetcher, skeleton)
	if err == nil {
		t.Fatal("expected error")
	}
	if got != skeleton {
		t.Error("failure must return the original killmail for partial processing")
	}
}

func TestEnrichWithoutHash(t *testing.T) {
	fetcher := &fakeFetcher{}

	km := &models.Killmail{KillmailID: 128000001}
	if _, err := Enrich(context.Background(), fetcher, km); err == nil {
		t.Fatal("expected error for missing hash")
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch calls = %d, want 0 without a hash", fetcher.calls)
	}
}
