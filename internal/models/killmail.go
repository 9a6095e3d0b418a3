// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package models defines the canonical domain types shared across the
// ingestion pipeline and storage layer. Feed-specific wire shapes live in
// the zkb subpackage and are normalized into these types at the adapter
// boundary.
package models

import "time"

// Killmail is the canonical representation of one destruction record.
//
// KillmailID is globally unique. Hash is the zKillboard/CCP verification
// token needed to fetch full detail from ESI; it is not part of row
// identity. Optional participant identity fields are pointers: a nil
// CharacterID means the participant could not be resolved (NPC, structure,
// or withheld).
type Killmail struct {
	KillmailID    int64     `json:"killmail_id"`
	Hash          string    `json:"hash"`
	KillTime      time.Time `json:"kill_time"`
	SolarSystemID int64     `json:"solar_system_id"`

	Victim    Victim     `json:"victim"`
	Attackers []Attacker `json:"attackers"`

	// Value summary from zKillboard; zero when only ESI data is available.
	TotalValue float64 `json:"total_value,omitempty"`
	Points     int     `json:"points,omitempty"`
}

// Victim is the destroyed party of a killmail.
type Victim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int64  `json:"ship_type_id"`
	DamageTaken   int64  `json:"damage_taken"`
	Items         []Item `json:"items,omitempty"`
}

// Item is one inventory item fitted to or carried by the victim's ship.
type Item struct {
	TypeID            int64 `json:"item_type_id"`
	QuantityDropped   int64 `json:"quantity_dropped,omitempty"`
	QuantityDestroyed int64 `json:"quantity_destroyed,omitempty"`
	Flag              int   `json:"flag"`
}

// Attacker is one participant credited with contributing to the kill.
// At most one attacker carries FinalBlow.
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	DamageDone     int64   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// IsComplete reports whether the killmail carries the fields reconciliation
// needs. Incomplete killmails (history references, truncated feed payloads)
// are enriched from ESI before reconciliation.
func (k *Killmail) IsComplete() bool {
	if k.KillTime.IsZero() {
		return false
	}
	if k.Victim.ShipTypeID == 0 {
		return false
	}
	return len(k.Attackers) > 0
}

// Overlay merges fetched killmail detail into k. Fetched fields win where
// present; value summary fields from the original are kept when the fetched
// detail lacks them (ESI does not carry zKillboard pricing).
func (k *Killmail) Overlay(full *Killmail) {
	if full == nil {
		return
	}
	if !full.KillTime.IsZero() {
		k.KillTime = full.KillTime
	}
	if full.SolarSystemID != 0 {
		k.SolarSystemID = full.SolarSystemID
	}
	if full.Victim.ShipTypeID != 0 || full.Victim.CharacterID != nil {
		items := k.Victim.Items
		k.Victim = full.Victim
		if len(full.Victim.Items) == 0 {
			k.Victim.Items = items
		}
	}
	if len(full.Attackers) > 0 {
		k.Attackers = full.Attackers
	}
	if full.TotalValue > 0 {
		k.TotalValue = full.TotalValue
	}
	if full.Points > 0 {
		k.Points = full.Points
	}
}

// FinalBlowAttacker returns the attacker credited with the final blow,
// or nil when no attacker carries the flag.
func (k *Killmail) FinalBlowAttacker() *Attacker {
	for i := range k.Attackers {
		if k.Attackers[i].FinalBlow {
			return &k.Attackers[i]
		}
	}
	return nil
}

// IsSolo reports whether exactly one attacker participated. Derived here
// rather than trusted from feed metadata, since the two feeds disagree on
// when the flag is computed.
func (k *Killmail) IsSolo() bool {
	return len(k.Attackers) == 1
}

// IsNPCOnly reports whether no attacker has a resolvable character
// identity, i.e. the kill was performed entirely by automated actors.
func (k *Killmail) IsNPCOnly() bool {
	if len(k.Attackers) == 0 {
		return false
	}
	for i := range k.Attackers {
		if k.Attackers[i].CharacterID != nil {
			return false
		}
	}
	return true
}

// IsAwox reports friendly fire: some attacker shares the victim's
// corporation.
func (k *Killmail) IsAwox() bool {
	if k.Victim.CorporationID == nil {
		return false
	}
	for i := range k.Attackers {
		a := &k.Attackers[i]
		if a.CorporationID != nil && *a.CorporationID == *k.Victim.CorporationID {
			return true
		}
	}
	return false
}
