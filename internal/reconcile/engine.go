// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package reconcile converges stored rows for one killmail to the
// canonical state implied by the incoming record. All writes happen inside
// a single transaction; re-delivery of the same killmail, in any order and
// any number of times, converges storage to the same final state.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// Store opens reconciliation transactions. Implemented by the database
// layer over DuckDB; tests use an in-memory fake.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one atomic reconciliation unit. The engine only ever needs
// upsert-by-id, list, bulk-delete-by-id-set, and bulk-insert, all within
// one transaction; nothing else about the storage engine is assumed.
type Tx interface {
	UpsertKillmail(ctx context.Context, km *models.Killmail) error

	ListAttackers(ctx context.Context, killmailID int64) ([]models.AttackerRow, error)
	DeleteAttackers(ctx context.Context, ids []uuid.UUID) error
	InsertAttackers(ctx context.Context, rows []models.AttackerRow) error

	ListInvolvements(ctx context.Context, killmailID int64) ([]models.Involvement, error)
	DeleteInvolvements(ctx context.Context, ids []uuid.UUID) error
	InsertInvolvements(ctx context.Context, rows []models.Involvement) error

	UpsertLoss(ctx context.Context, loss *models.Loss) error

	Commit() error
	Rollback() error
}

// TrackedSet answers membership queries against the tracked character
// snapshot. Satisfied by *registry.Registry.
type TrackedSet interface {
	Contains(characterID int64) bool
}

// Engine reconciles killmails into storage. It is the only writer of
// killmail, attacker, involvement, and loss rows.
type Engine struct {
	store   Store
	tracked TrackedSet
}

// NewEngine creates a reconciliation engine.
func NewEngine(store Store, tracked TrackedSet) *Engine {
	return &Engine{store: store, tracked: tracked}
}

// Reconcile converges storage for one killmail in a single transaction:
//
//  1. Upsert the killmail row by ID.
//  2. Diff stored attacker rows against the incoming attacker list by
//     full-field equality; delete stale rows, insert missing ones.
//  3. Diff involvement rows derived from the participants that are
//     tracked at reconciliation time.
//  4. Upsert the loss projection when the victim identity is tracked.
//
// Any error aborts the whole transaction; the caller treats the failure
// as transient and retries the event as a unit.
func (e *Engine) Reconcile(ctx context.Context, km *models.Killmail) error {
	start := time.Now()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		metrics.ReconcileOperations.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to begin reconciliation: %w", err)
	}

	if err := e.reconcileInTx(ctx, tx, km); err != nil {
		_ = tx.Rollback()
		metrics.ReconcileOperations.WithLabelValues("failure").Inc()
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.ReconcileOperations.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to commit reconciliation of killmail %d: %w", km.KillmailID, err)
	}

	metrics.ReconcileOperations.WithLabelValues("success").Inc()
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) reconcileInTx(ctx context.Context, tx Tx, km *models.Killmail) error {
	if err := tx.UpsertKillmail(ctx, km); err != nil {
		return fmt.Errorf("failed to upsert killmail %d: %w", km.KillmailID, err)
	}

	if err := e.reconcileAttackers(ctx, tx, km); err != nil {
		return err
	}

	if err := e.reconcileInvolvements(ctx, tx, km); err != nil {
		return err
	}

	return e.reconcileLoss(ctx, tx, km)
}

// reconcileAttackers applies the attacker row diff for one killmail.
func (e *Engine) reconcileAttackers(ctx context.Context, tx Tx, km *models.Killmail) error {
	stored, err := tx.ListAttackers(ctx, km.KillmailID)
	if err != nil {
		return fmt.Errorf("failed to load attackers for killmail %d: %w", km.KillmailID, err)
	}

	target := targetAttackerRows(km)
	diff := diffRows(stored, target, (*models.AttackerRow).FieldsEqual)
	if diff.Empty() {
		return nil
	}

	if len(diff.ToDelete) > 0 {
		if err := tx.DeleteAttackers(ctx, attackerIDs(diff.ToDelete)); err != nil {
			return fmt.Errorf("failed to delete stale attackers for killmail %d: %w", km.KillmailID, err)
		}
		metrics.ReconcileRowChanges.WithLabelValues("attackers", "delete").Add(float64(len(diff.ToDelete)))
	}
	if len(diff.ToInsert) > 0 {
		if err := tx.InsertAttackers(ctx, diff.ToInsert); err != nil {
			return fmt.Errorf("failed to insert attackers for killmail %d: %w", km.KillmailID, err)
		}
		metrics.ReconcileRowChanges.WithLabelValues("attackers", "insert").Add(float64(len(diff.ToInsert)))
	}

	logging.Debug().Int64("killmail_id", km.KillmailID).
		Int("deleted", len(diff.ToDelete)).Int("inserted", len(diff.ToInsert)).
		Msg("Attacker rows reconciled")
	return nil
}

// reconcileInvolvements applies the involvement row diff. Target rows are
// derived from the participants present in the tracked set at
// reconciliation time: untracked participants get no involvement row.
func (e *Engine) reconcileInvolvements(ctx context.Context, tx Tx, km *models.Killmail) error {
	stored, err := tx.ListInvolvements(ctx, km.KillmailID)
	if err != nil {
		return fmt.Errorf("failed to load involvements for killmail %d: %w", km.KillmailID, err)
	}

	target := e.targetInvolvements(km)
	diff := diffRows(stored, target, (*models.Involvement).FieldsEqual)
	if diff.Empty() {
		return nil
	}

	if len(diff.ToDelete) > 0 {
		if err := tx.DeleteInvolvements(ctx, involvementIDs(diff.ToDelete)); err != nil {
			return fmt.Errorf("failed to delete stale involvements for killmail %d: %w", km.KillmailID, err)
		}
		metrics.ReconcileRowChanges.WithLabelValues("involvements", "delete").Add(float64(len(diff.ToDelete)))
	}
	if len(diff.ToInsert) > 0 {
		if err := tx.InsertInvolvements(ctx, diff.ToInsert); err != nil {
			return fmt.Errorf("failed to insert involvements for killmail %d: %w", km.KillmailID, err)
		}
		metrics.ReconcileRowChanges.WithLabelValues("involvements", "insert").Add(float64(len(diff.ToInsert)))
	}

	return nil
}

// reconcileLoss upserts the denormalized loss projection, guarded so it is
// only written when the victim has a resolvable, tracked identity. Derived
// flags (solo, npc-only, awox) are recomputed here from the attacker list
// rather than trusted from feed metadata.
func (e *Engine) reconcileLoss(ctx context.Context, tx Tx, km *models.Killmail) error {
	victimID := km.Victim.CharacterID
	if victimID == nil || !e.tracked.Contains(*victimID) {
		return nil
	}

	loss := &models.Loss{
		KillmailID:  km.KillmailID,
		CharacterID: *victimID,
		ShipTypeID:  km.Victim.ShipTypeID,
		SystemID:    km.SolarSystemID,
		KillTime:    km.KillTime,
		TotalValue:  km.TotalValue,
		Solo:        km.IsSolo(),
		NPCOnly:     km.IsNPCOnly(),
		Awox:        km.IsAwox(),
	}
	if err := tx.UpsertLoss(ctx, loss); err != nil {
		return fmt.Errorf("failed to upsert loss for killmail %d: %w", km.KillmailID, err)
	}
	return nil
}

// targetAttackerRows builds the canonical attacker row set for a killmail.
// Fresh rows carry new surrogate IDs; IDs are excluded from equality, so a
// matching stored row survives with its original ID.
func targetAttackerRows(km *models.Killmail) []models.AttackerRow {
	rows := make([]models.AttackerRow, 0, len(km.Attackers))
	for _, a := range km.Attackers {
		rows = append(rows, models.AttackerRow{
			ID:         uuid.New(),
			KillmailID: km.KillmailID,
			Attacker:   a,
		})
	}
	return rows
}

// targetInvolvements derives involvement rows for every tracked
// participant: one victim-role row when the victim is tracked, one
// attacker-role row per distinct tracked attacker.
func (e *Engine) targetInvolvements(km *models.Killmail) []models.Involvement {
	var rows []models.Involvement

	if km.Victim.CharacterID != nil && e.tracked.Contains(*km.Victim.CharacterID) {
		rows = append(rows, models.Involvement{
			ID:          uuid.New(),
			KillmailID:  km.KillmailID,
			CharacterID: *km.Victim.CharacterID,
			Role:        models.RoleVictim,
			KillTime:    km.KillTime,
		})
	}

	seen := make(map[int64]struct{}, len(km.Attackers))
	for i := range km.Attackers {
		id := km.Attackers[i].CharacterID
		if id == nil || !e.tracked.Contains(*id) {
			continue
		}
		if _, dup := seen[*id]; dup {
			continue
		}
		seen[*id] = struct{}{}
		rows = append(rows, models.Involvement{
			ID:          uuid.New(),
			KillmailID:  km.KillmailID,
			CharacterID: *id,
			Role:        models.RoleAttacker,
			KillTime:    km.KillTime,
		})
	}

	return rows
}

func attackerIDs(rows []models.AttackerRow) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
	}
	return ids
}

func involvementIDs(rows []models.Involvement) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
	}
	return ids
}
