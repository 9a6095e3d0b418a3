// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package models

import (
	"time"

	"github.com/google/uuid"
)

// Involvement roles.
const (
	RoleVictim   = "victim"
	RoleAttacker = "attacker"
)

// AttackerRow is one stored attacker of a killmail. Row identity is a
// surrogate UUID; reconciliation compares rows by full field equality, so
// any field change replaces the row rather than updating it in place.
type AttackerRow struct {
	ID         uuid.UUID `json:"id"`
	KillmailID int64     `json:"killmail_id"`
	Attacker
}

// FieldsEqual reports whether two attacker rows match on every compared
// field. The surrogate ID is deliberately excluded.
func (r *AttackerRow) FieldsEqual(other *AttackerRow) bool {
	return r.KillmailID == other.KillmailID &&
		int64PtrEqual(r.CharacterID, other.CharacterID) &&
		int64PtrEqual(r.CorporationID, other.CorporationID) &&
		int64PtrEqual(r.AllianceID, other.AllianceID) &&
		int64PtrEqual(r.ShipTypeID, other.ShipTypeID) &&
		int64PtrEqual(r.WeaponTypeID, other.WeaponTypeID) &&
		r.DamageDone == other.DamageDone &&
		r.FinalBlow == other.FinalBlow &&
		r.SecurityStatus == other.SecurityStatus
}

// Involvement links a tracked character to a killmail in a given role.
// For one killmail the stored set is exactly: one victim-role row if the
// victim is tracked, plus one attacker-role row per tracked attacker.
type Involvement struct {
	ID          uuid.UUID `json:"id"`
	KillmailID  int64     `json:"killmail_id"`
	CharacterID int64     `json:"character_id"`
	Role        string    `json:"role"`
	KillTime    time.Time `json:"kill_time"`
}

// FieldsEqual reports whether two involvement rows match on every compared
// field, excluding the surrogate ID. Timestamps are compared at second
// precision since DuckDB round-trips truncate monotonic clock data.
func (i *Involvement) FieldsEqual(other *Involvement) bool {
	return i.KillmailID == other.KillmailID &&
		i.CharacterID == other.CharacterID &&
		i.Role == other.Role &&
		i.KillTime.Truncate(time.Second).Equal(other.KillTime.Truncate(time.Second))
}

// Loss is the denormalized loss projection for a tracked victim, keyed by
// killmail ID. Only created when the victim identity is tracked.
type Loss struct {
	KillmailID  int64     `json:"killmail_id"`
	CharacterID int64     `json:"character_id"`
	ShipTypeID  int64     `json:"ship_type_id"`
	SystemID    int64     `json:"solar_system_id"`
	KillTime    time.Time `json:"kill_time"`
	TotalValue  float64   `json:"total_value"`
	Solo        bool      `json:"solo"`
	NPCOnly     bool      `json:"npc_only"`
	Awox        bool      `json:"awox"`
}

// Checkpoint is the last successfully processed position for one stream.
// LastKillmailID never decreases under normal operation and is only
// advanced after the corresponding killmail is durably reconciled.
type Checkpoint struct {
	Stream         string    `json:"stream"`
	LastKillmailID int64     `json:"last_killmail_id"`
	LastKillTime   time.Time `json:"last_kill_time"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TrackedCharacter is one character under observation. Rows are inserted
// and removed by the external registration process; this service only
// reads them.
type TrackedCharacter struct {
	CharacterID int64     `json:"character_id"`
	Name        string    `json:"name"`
	AddedAt     time.Time `json:"added_at"`
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
