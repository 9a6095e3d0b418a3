// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
	"github.com/guarzo/eve-chart-bot-sub002/internal/reconcile"
)

// Begin opens a reconciliation transaction. Satisfies reconcile.Store.
func (db *DB) Begin(ctx context.Context) (reconcile.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &killmailTx{tx: tx}, nil
}

// killmailTx implements reconcile.Tx over a DuckDB transaction.
type killmailTx struct {
	tx *sql.Tx
}

func (t *killmailTx) UpsertKillmail(ctx context.Context, km *models.Killmail) error {
	items, err := marshalItems(km.Victim.Items)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO killmails (
			killmail_id, hash, kill_time, solar_system_id,
			victim_character_id, victim_corporation_id, victim_alliance_id,
			victim_ship_type_id, victim_damage_taken, victim_items,
			total_value, points, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (killmail_id) DO UPDATE SET
			hash = EXCLUDED.hash,
			kill_time = EXCLUDED.kill_time,
			solar_system_id = EXCLUDED.solar_system_id,
			victim_character_id = EXCLUDED.victim_character_id,
			victim_corporation_id = EXCLUDED.victim_corporation_id,
			victim_alliance_id = EXCLUDED.victim_alliance_id,
			victim_ship_type_id = EXCLUDED.victim_ship_type_id,
			victim_damage_taken = EXCLUDED.victim_damage_taken,
			victim_items = EXCLUDED.victim_items,
			total_value = EXCLUDED.total_value,
			points = EXCLUDED.points,
			updated_at = now()`,
		km.KillmailID, km.Hash, km.KillTime.UTC(), km.SolarSystemID,
		nullInt64(km.Victim.CharacterID), nullInt64(km.Victim.CorporationID),
		nullInt64(km.Victim.AllianceID), km.Victim.ShipTypeID,
		km.Victim.DamageTaken, items, km.TotalValue, km.Points)
	if err != nil {
		return fmt.Errorf("failed to upsert killmail %d: %w", km.KillmailID, err)
	}
	return nil
}

func (t *killmailTx) ListAttackers(ctx context.Context, killmailID int64) ([]models.AttackerRow, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, killmail_id, character_id, corporation_id, alliance_id,
			ship_type_id, weapon_type_id, damage_done, final_blow, security_status
		FROM killmail_attackers
		WHERE killmail_id = ?`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attackers for killmail %d: %w", killmailID, err)
	}
	defer closeQuietly(rows)

	var result []models.AttackerRow
	for rows.Next() {
		var (
			r                             models.AttackerRow
			charID, corpID, allID, shipID sql.NullInt64
			weaponID                      sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.KillmailID, &charID, &corpID, &allID,
			&shipID, &weaponID, &r.DamageDone, &r.FinalBlow, &r.SecurityStatus); err != nil {
			return nil, fmt.Errorf("failed to scan attacker row: %w", err)
		}
		r.CharacterID = ptrFromNull(charID)
		r.CorporationID = ptrFromNull(corpID)
		r.AllianceID = ptrFromNull(allID)
		r.ShipTypeID = ptrFromNull(shipID)
		r.WeaponTypeID = ptrFromNull(weaponID)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (t *killmailTx) DeleteAttackers(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := deleteByIDQuery("killmail_attackers", ids)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete attacker rows: %w", err)
	}
	return nil
}

func (t *killmailTx) InsertAttackers(ctx context.Context, rows []models.AttackerRow) error {
	for i := range rows {
		r := &rows[i]
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO killmail_attackers (
				id, killmail_id, character_id, corporation_id, alliance_id,
				ship_type_id, weapon_type_id, damage_done, final_blow, security_status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.KillmailID, nullInt64(r.CharacterID), nullInt64(r.CorporationID),
			nullInt64(r.AllianceID), nullInt64(r.ShipTypeID), nullInt64(r.WeaponTypeID),
			r.DamageDone, r.FinalBlow, r.SecurityStatus)
		if err != nil {
			return fmt.Errorf("failed to insert attacker row for killmail %d: %w", r.KillmailID, err)
		}
	}
	return nil
}

func (t *killmailTx) ListInvolvements(ctx context.Context, killmailID int64) ([]models.Involvement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, killmail_id, character_id, role, kill_time
		FROM character_involvements
		WHERE killmail_id = ?`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query involvements for killmail %d: %w", killmailID, err)
	}
	defer closeQuietly(rows)

	var result []models.Involvement
	for rows.Next() {
		var r models.Involvement
		if err := rows.Scan(&r.ID, &r.KillmailID, &r.CharacterID, &r.Role, &r.KillTime); err != nil {
			return nil, fmt.Errorf("failed to scan involvement row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (t *killmailTx) DeleteInvolvements(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := deleteByIDQuery("character_involvements", ids)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete involvement rows: %w", err)
	}
	return nil
}

func (t *killmailTx) InsertInvolvements(ctx context.Context, rows []models.Involvement) error {
	for i := range rows {
		r := &rows[i]
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO character_involvements (id, killmail_id, character_id, role, kill_time)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.KillmailID, r.CharacterID, r.Role, r.KillTime.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert involvement row for killmail %d: %w", r.KillmailID, err)
		}
	}
	return nil
}

func (t *killmailTx) UpsertLoss(ctx context.Context, loss *models.Loss) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO losses (
			killmail_id, character_id, ship_type_id, solar_system_id,
			kill_time, total_value, solo, npc_only, awox
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (killmail_id) DO UPDATE SET
			character_id = EXCLUDED.character_id,
			ship_type_id = EXCLUDED.ship_type_id,
			solar_system_id = EXCLUDED.solar_system_id,
			kill_time = EXCLUDED.kill_time,
			total_value = EXCLUDED.total_value,
			solo = EXCLUDED.solo,
			npc_only = EXCLUDED.npc_only,
			awox = EXCLUDED.awox`,
		loss.KillmailID, loss.CharacterID, loss.ShipTypeID, loss.SystemID,
		loss.KillTime.UTC(), loss.TotalValue, loss.Solo, loss.NPCOnly, loss.Awox)
	if err != nil {
		return fmt.Errorf("failed to upsert loss for killmail %d: %w", loss.KillmailID, err)
	}
	return nil
}

func (t *killmailTx) Commit() error {
	return t.tx.Commit()
}

func (t *killmailTx) Rollback() error {
	return t.tx.Rollback()
}

// deleteByIDQuery builds a DELETE ... WHERE id IN (...) statement for a
// surrogate-keyed table.
func deleteByIDQuery(table string, ids []uuid.UUID) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)",
		table, strings.Join(placeholders, ", "))
	return query, args
}

// marshalItems serializes victim items to JSON for storage. Items are
// carried for completeness but never diffed individually.
func marshalItems(items []models.Item) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal victim items: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
