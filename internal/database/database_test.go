// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package database

import (
	"context"
	"testing"
	"time"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
	"github.com/guarzo/eve-chart-bot-sub002/internal/reconcile"
)

// testDBSemaphore serializes DuckDB usage across tests. Concurrent CGO
// calls from parallel tests can hang under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

// setupTestDB creates an in-memory test database. The semaphore is held
// for the entire test lifecycle and released via t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

func int64Ptr(v int64) *int64 { return &v }

func testKillmail() *models.Killmail {
	return &models.Killmail{
		KillmailID:    128000001,
		Hash:          "abc123def",
		KillTime:      time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		SolarSystemID: 30000142,
		Victim: models.Victim{
			CharacterID:   int64Ptr(90000001),
			CorporationID: int64Ptr(98000001),
			ShipTypeID:    587,
			DamageTaken:   4521,
			Items: []models.Item{
				{TypeID: 2488, QuantityDestroyed: 1, Flag: 27},
			},
		},
		Attackers: []models.Attacker{
			{
				CharacterID:   int64Ptr(90000002),
				CorporationID: int64Ptr(98000002),
				ShipTypeID:    int64Ptr(17738),
				WeaponTypeID:  int64Ptr(2488),
				DamageDone:    4521,
				FinalBlow:     true,
			},
		},
		TotalValue: 12_400_000,
		Points:     3,
	}
}

type allTracked struct{}

func (allTracked) Contains(int64) bool { return true }

func TestReconcileRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	engine := reconcile.NewEngine(db, allTracked{})

	km := testKillmail()
	if err := engine.Reconcile(ctx, km); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	stored, err := db.GetKillmail(ctx, km.KillmailID)
	if err != nil {
		t.Fatalf("GetKillmail() error = %v", err)
	}
	if stored == nil {
		t.Fatal("GetKillmail() = nil, want stored killmail")
	}
	if stored.Hash != km.Hash {
		t.Errorf("stored hash = %q, want %q", stored.Hash, km.Hash)
	}
	if !stored.KillTime.Equal(km.KillTime) {
		t.Errorf("stored kill time = %v, want %v", stored.KillTime, km.KillTime)
	}
	if len(stored.Attackers) != 1 {
		t.Fatalf("stored attackers = %d, want 1", len(stored.Attackers))
	}
	if !stored.Attackers[0].FinalBlow {
		t.Error("stored attacker lost final blow flag")
	}
	if len(stored.Victim.Items) != 1 || stored.Victim.Items[0].TypeID != 2488 {
		t.Errorf("stored victim items = %+v, want the original fitting", stored.Victim.Items)
	}

	// Re-delivery must not duplicate rows.
	if err := engine.Reconcile(ctx, testKillmail()); err != nil {
		t.Fatalf("Reconcile() second pass error = %v", err)
	}
	count, err := db.CountKillmails(ctx)
	if err != nil {
		t.Fatalf("CountKillmails() error = %v", err)
	}
	if count != 1 {
		t.Errorf("killmail count = %d, want 1", count)
	}
	again, err := db.GetKillmail(ctx, km.KillmailID)
	if err != nil {
		t.Fatalf("GetKillmail() after re-delivery error = %v", err)
	}
	if len(again.Attackers) != 1 {
		t.Errorf("attackers after re-delivery = %d, want 1", len(again.Attackers))
	}
}

func TestGetKillmailMissing(t *testing.T) {
	db := setupTestDB(t)

	km, err := db.GetKillmail(context.Background(), 999999)
	if err != nil {
		t.Fatalf("GetKillmail() error = %v", err)
	}
	if km != nil {
		t.Errorf("GetKillmail() = %+v, want nil for unknown killmail", km)
	}
}

func TestCheckpointAdvance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	cp, err := db.LoadCheckpoint(ctx, "zkill:websocket")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if cp.LastKillmailID != 0 {
		t.Errorf("fresh checkpoint position = %d, want 0", cp.LastKillmailID)
	}

	first := models.Checkpoint{
		Stream:         "zkill:websocket",
		LastKillmailID: 128000001,
		LastKillTime:   time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	if err := db.AdvanceCheckpoint(ctx, first); err != nil {
		t.Fatalf("AdvanceCheckpoint() error = %v", err)
	}

	cp, err = db.LoadCheckpoint(ctx, "zkill:websocket")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if cp.LastKillmailID != 128000001 {
		t.Errorf("checkpoint position = %d, want 128000001", cp.LastKillmailID)
	}
}

func TestCheckpointNeverRegresses(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	positions := []int64{128000005, 128000002, 128000010, 128000001}
	for _, pos := range positions {
		cp := models.Checkpoint{
			Stream:         "zkill:history",
			LastKillmailID: pos,
			LastKillTime:   base,
		}
		if err := db.AdvanceCheckpoint(ctx, cp); err != nil {
			t.Fatalf("AdvanceCheckpoint(%d) error = %v", pos, err)
		}
	}

	cp, err := db.LoadCheckpoint(ctx, "zkill:history")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if cp.LastKillmailID != 128000010 {
		t.Errorf("checkpoint position = %d, want the highest seen (128000010)", cp.LastKillmailID)
	}
}

func TestCheckpointStreamsAreIndependent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := db.AdvanceCheckpoint(ctx, models.Checkpoint{
		Stream: "zkill:websocket", LastKillmailID: 100, LastKillTime: now,
	}); err != nil {
		t.Fatalf("AdvanceCheckpoint(websocket) error = %v", err)
	}
	if err := db.AdvanceCheckpoint(ctx, models.Checkpoint{
		Stream: "zkill:history", LastKillmailID: 50, LastKillTime: now,
	}); err != nil {
		t.Fatalf("AdvanceCheckpoint(history) error = %v", err)
	}

	ws, err := db.LoadCheckpoint(ctx, "zkill:websocket")
	if err != nil {
		t.Fatalf("LoadCheckpoint(websocket) error = %v", err)
	}
	hist, err := db.LoadCheckpoint(ctx, "zkill:history")
	if err != nil {
		t.Fatalf("LoadCheckpoint(history) error = %v", err)
	}
	if ws.LastKillmailID != 100 || hist.LastKillmailID != 50 {
		t.Errorf("positions = %d/%d, want 100/50", ws.LastKillmailID, hist.LastKillmailID)
	}
}

func TestTrackedCharacters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.AddTrackedCharacter(ctx, 90000001, "Test Pilot"); err != nil {
		t.Fatalf("AddTrackedCharacter() error = %v", err)
	}
	if err := db.AddTrackedCharacter(ctx, 90000002, "Second Pilot"); err != nil {
		t.Fatalf("AddTrackedCharacter() error = %v", err)
	}

	chars, err := db.ListTrackedCharacters(ctx)
	if err != nil {
		t.Fatalf("ListTrackedCharacters() error = %v", err)
	}
	if len(chars) != 2 || chars[0].CharacterID != 90000001 || chars[1].CharacterID != 90000002 {
		t.Errorf("ListTrackedCharacters() = %v, want characters 90000001 and 90000002", chars)
	}

	tc, err := db.GetTrackedCharacter(ctx, 90000001)
	if err != nil {
		t.Fatalf("GetTrackedCharacter() error = %v", err)
	}
	if tc == nil || tc.Name != "Test Pilot" {
		t.Errorf("GetTrackedCharacter() = %+v, want name %q", tc, "Test Pilot")
	}

	if err := db.RemoveTrackedCharacter(ctx, 90000001); err != nil {
		t.Fatalf("RemoveTrackedCharacter() error = %v", err)
	}
	tc, err = db.GetTrackedCharacter(ctx, 90000001)
	if err != nil {
		t.Fatalf("GetTrackedCharacter() after removal error = %v", err)
	}
	if tc != nil {
		t.Errorf("GetTrackedCharacter() = %+v, want nil after removal", tc)
	}
}

func TestInvolvementsForCharacterRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	engine := reconcile.NewEngine(db, allTracked{})

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(0); i < 3; i++ {
		km := testKillmail()
		km.KillmailID = 128000001 + i
		km.KillTime = base.AddDate(0, 0, int(i)*7)
		if err := engine.Reconcile(ctx, km); err != nil {
			t.Fatalf("Reconcile(%d) error = %v", km.KillmailID, err)
		}
	}

	// Only the middle killmail falls inside the window.
	got, err := db.InvolvementsForCharacter(ctx, 90000001,
		base.AddDate(0, 0, 3), base.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("InvolvementsForCharacter() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("involvements in window = %d, want 1", len(got))
	}
	if got[0].KillmailID != 128000002 {
		t.Errorf("involvement killmail = %d, want 128000002", got[0].KillmailID)
	}
	if got[0].Role != models.RoleVictim {
		t.Errorf("involvement role = %q, want %q", got[0].Role, models.RoleVictim)
	}
}

func TestLossesForCharacter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	engine := reconcile.NewEngine(db, allTracked{})

	km := testKillmail()
	if err := engine.Reconcile(ctx, km); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	losses, err := db.LossesForCharacter(ctx, 90000001,
		km.KillTime.AddDate(0, 0, -1), km.KillTime.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("LossesForCharacter() error = %v", err)
	}
	if len(losses) != 1 {
		t.Fatalf("losses = %d, want 1", len(losses))
	}
	loss := losses[0]
	if loss.ShipTypeID != 587 || loss.SystemID != 30000142 {
		t.Errorf("loss = %+v, want ship 587 in system 30000142", loss)
	}
	if !loss.Solo {
		t.Error("loss.Solo = false, want true for single attacker")
	}
}
