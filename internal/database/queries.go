// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// InvolvementsForCharacter returns a character's involvement rows within
// [start, end), newest first.
func (db *DB) InvolvementsForCharacter(ctx context.Context, characterID int64, start, end time.Time) ([]models.Involvement, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, killmail_id, character_id, role, kill_time
		FROM character_involvements
		WHERE character_id = ? AND kill_time >= ? AND kill_time < ?
		ORDER BY kill_time DESC`, characterID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query involvements for character %d: %w", characterID, err)
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

// LossesForCharacter returns a character's loss rows within [start, end),
// newest first.
func (db *DB) LossesForCharacter(ctx context.Context, characterID int64, start, end time.Time) ([]models.Loss, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT killmail_id, character_id, ship_type_id, solar_system_id,
			kill_time, total_value, solo, npc_only, awox
		FROM losses
		WHERE character_id = ? AND kill_time >= ? AND kill_time < ?
		ORDER BY kill_time DESC`, characterID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query losses for character %d: %w", characterID, err)
	}
	defer closeQuietly(rows)

	var result []models.Loss
	for rows.Next() {
		var l models.Loss
		if err := rows.Scan(&l.KillmailID, &l.CharacterID, &l.ShipTypeID, &l.SystemID,
			&l.KillTime, &l.TotalValue, &l.Solo, &l.NPCOnly, &l.Awox); err != nil {
			return nil, fmt.Errorf("failed to scan loss row: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// GetKillmail loads one killmail with its attacker rows, or nil when the
// killmail has never been reconciled.
func (db *DB) GetKillmail(ctx context.Context, killmailID int64) (*models.Killmail, error) {
	var (
		km                    models.Killmail
		charID, corpID, allID sql.NullInt64
		items                 sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT killmail_id, hash, kill_time, solar_system_id,
			victim_character_id, victim_corporation_id, victim_alliance_id,
			victim_ship_type_id, victim_damage_taken, victim_items,
			total_value, points
		FROM killmails
		WHERE killmail_id = ?`, killmailID).
		Scan(&km.KillmailID, &km.Hash, &km.KillTime, &km.SolarSystemID,
			&charID, &corpID, &allID,
			&km.Victim.ShipTypeID, &km.Victim.DamageTaken, &items,
			&km.TotalValue, &km.Points)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load killmail %d: %w", killmailID, err)
	}

	km.Victim.CharacterID = ptrFromNull(charID)
	km.Victim.CorporationID = ptrFromNull(corpID)
	km.Victim.AllianceID = ptrFromNull(allID)
	if items.Valid {
		if err := json.Unmarshal([]byte(items.String), &km.Victim.Items); err != nil {
			return nil, fmt.Errorf("failed to decode victim items for killmail %d: %w", killmailID, err)
		}
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT character_id, corporation_id, alliance_id, ship_type_id,
			weapon_type_id, damage_done, final_blow, security_status
		FROM killmail_attackers
		WHERE killmail_id = ?
		ORDER BY damage_done DESC`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attackers for killmail %d: %w", killmailID, err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var (
			a                  models.Attacker
			aChar, aCorp, aAll sql.NullInt64
			aShip, aWeapon     sql.NullInt64
		)
		if err := rows.Scan(&aChar, &aCorp, &aAll, &aShip, &aWeapon,
			&a.DamageDone, &a.FinalBlow, &a.SecurityStatus); err != nil {
			return nil, fmt.Errorf("failed to scan attacker row: %w", err)
		}
		a.CharacterID = ptrFromNull(aChar)
		a.CorporationID = ptrFromNull(aCorp)
		a.AllianceID = ptrFromNull(aAll)
		a.ShipTypeID = ptrFromNull(aShip)
		a.WeaponTypeID = ptrFromNull(aWeapon)
		km.Attackers = append(km.Attackers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &km, nil
}

// CountKillmails returns the number of reconciled killmail rows.
func (db *DB) CountKillmails(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM killmails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count killmails: %w", err)
	}
	return n, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
