// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables and indexes.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table and index creation SQL statements.
// All columns are defined in the initial CREATE TABLE statements; there are
// no versioned migrations yet.
func tableCreationQueries() []string {
	return []string{
		// Canonical killmail records, keyed by the globally unique
		// killmail ID. Victim identity fields are nullable: NPC and
		// structure victims have no character.
		`CREATE TABLE IF NOT EXISTS killmails (
			killmail_id BIGINT PRIMARY KEY,
			hash TEXT NOT NULL,
			kill_time TIMESTAMP NOT NULL,
			solar_system_id BIGINT NOT NULL,
			victim_character_id BIGINT,
			victim_corporation_id BIGINT,
			victim_alliance_id BIGINT,
			victim_ship_type_id BIGINT NOT NULL,
			victim_damage_taken BIGINT NOT NULL,
			victim_items TEXT,
			total_value DOUBLE NOT NULL DEFAULT 0,
			points INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// One row per attacker. Row identity is a surrogate UUID;
		// reconciliation replaces changed rows instead of updating
		// them in place.
		`CREATE TABLE IF NOT EXISTS killmail_attackers (
			id UUID PRIMARY KEY,
			killmail_id BIGINT NOT NULL,
			character_id BIGINT,
			corporation_id BIGINT,
			alliance_id BIGINT,
			ship_type_id BIGINT,
			weapon_type_id BIGINT,
			damage_done BIGINT NOT NULL,
			final_blow BOOLEAN NOT NULL,
			security_status DOUBLE NOT NULL DEFAULT 0
		)`,

		// One row per (tracked character, killmail, role).
		`CREATE TABLE IF NOT EXISTS character_involvements (
			id UUID PRIMARY KEY,
			killmail_id BIGINT NOT NULL,
			character_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			kill_time TIMESTAMP NOT NULL
		)`,

		// Denormalized loss projection for tracked victims.
		`CREATE TABLE IF NOT EXISTS losses (
			killmail_id BIGINT PRIMARY KEY,
			character_id BIGINT NOT NULL,
			ship_type_id BIGINT NOT NULL,
			solar_system_id BIGINT NOT NULL,
			kill_time TIMESTAMP NOT NULL,
			total_value DOUBLE NOT NULL DEFAULT 0,
			solo BOOLEAN NOT NULL DEFAULT FALSE,
			npc_only BOOLEAN NOT NULL DEFAULT FALSE,
			awox BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		// Per-stream ingestion positions.
		`CREATE TABLE IF NOT EXISTS checkpoints (
			stream TEXT PRIMARY KEY,
			last_killmail_id BIGINT NOT NULL,
			last_kill_time TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Characters under observation. Written by the external
		// registration process; this service only reads them.
		`CREATE TABLE IF NOT EXISTS tracked_characters (
			character_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attackers_killmail
			ON killmail_attackers (killmail_id)`,
		`CREATE INDEX IF NOT EXISTS idx_involvements_killmail
			ON character_involvements (killmail_id)`,
		`CREATE INDEX IF NOT EXISTS idx_involvements_character_time
			ON character_involvements (character_id, kill_time)`,
		`CREATE INDEX IF NOT EXISTS idx_losses_character_time
			ON losses (character_id, kill_time)`,
		`CREATE INDEX IF NOT EXISTS idx_killmails_kill_time
			ON killmails (kill_time)`,
	}
}
