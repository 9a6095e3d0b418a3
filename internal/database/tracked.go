// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package database

import (
	"context"
	"fmt"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// ListTrackedCharacters returns all characters under observation.
// Satisfies registry.Source.
func (db *DB) ListTrackedCharacters(ctx context.Context) ([]models.TrackedCharacter, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT character_id, name, added_at
		FROM tracked_characters
		ORDER BY character_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked characters: %w", err)
	}
	defer closeQuietly(rows)

	var chars []models.TrackedCharacter
	for rows.Next() {
		var tc models.TrackedCharacter
		if err := rows.Scan(&tc.CharacterID, &tc.Name, &tc.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracked character: %w", err)
		}
		chars = append(chars, tc)
	}
	return chars, rows.Err()
}

// GetTrackedCharacter returns one tracked character row, or nil when the
// character is not under observation.
func (db *DB) GetTrackedCharacter(ctx context.Context, characterID int64) (*models.TrackedCharacter, error) {
	var tc models.TrackedCharacter
	err := db.conn.QueryRowContext(ctx, `
		SELECT character_id, name, added_at
		FROM tracked_characters
		WHERE character_id = ?`, characterID).
		Scan(&tc.CharacterID, &tc.Name, &tc.AddedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load tracked character %d: %w", characterID, err)
	}
	return &tc, nil
}

// AddTrackedCharacter registers a character for observation. Used by tests
// and operational tooling; the registration surface proper lives outside
// this service.
func (db *DB) AddTrackedCharacter(ctx context.Context, characterID int64, name string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tracked_characters (character_id, name, added_at)
		VALUES (?, ?, now())
		ON CONFLICT (character_id) DO UPDATE SET name = EXCLUDED.name`,
		characterID, name)
	if err != nil {
		return fmt.Errorf("failed to add tracked character %d: %w", characterID, err)
	}
	return nil
}

// RemoveTrackedCharacter deregisters a character. Existing involvement
// rows are left in place until the next reconciliation of each killmail.
func (db *DB) RemoveTrackedCharacter(ctx context.Context, characterID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM tracked_characters WHERE character_id = ?`, characterID)
	if err != nil {
		return fmt.Errorf("failed to remove tracked character %d: %w", characterID, err)
	}
	return nil
}
