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

	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// LoadCheckpoint returns the stored position for a stream. A stream with
// no stored position yields a zero-valued checkpoint, not an error.
func (db *DB) LoadCheckpoint(ctx context.Context, stream string) (models.Checkpoint, error) {
	cp := models.Checkpoint{Stream: stream}
	err := db.conn.QueryRowContext(ctx, `
		SELECT last_killmail_id, last_kill_time, updated_at
		FROM checkpoints
		WHERE stream = ?`, stream).
		Scan(&cp.LastKillmailID, &cp.LastKillTime, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint for stream %s: %w", stream, err)
	}
	return cp, nil
}

// AdvanceCheckpoint moves a stream's position forward. Positions never
// move backward: an update carrying a lower killmail ID than the stored
// one is silently ignored, so replays and out-of-order batches cannot
// regress the stream.
func (db *DB) AdvanceCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (stream, last_killmail_id, last_kill_time, updated_at)
		VALUES (?, ?, ?, now())
		ON CONFLICT (stream) DO UPDATE SET
			last_killmail_id = EXCLUDED.last_killmail_id,
			last_kill_time = EXCLUDED.last_kill_time,
			updated_at = now()
		WHERE EXCLUDED.last_killmail_id > checkpoints.last_killmail_id`,
		cp.Stream, cp.LastKillmailID, cp.LastKillTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for stream %s: %w", cp.Stream, err)
	}

	// Report the stored position, not the requested one: the update may
	// have been a no-op for an out-of-order batch.
	stored, err := db.LoadCheckpoint(ctx, cp.Stream)
	if err != nil {
		return err
	}
	metrics.CheckpointPosition.WithLabelValues(cp.Stream).Set(float64(stored.LastKillmailID))
	return nil
}
