// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package zkb defines the wire shapes of the zKillboard feeds and ESI
// killmail lookups, plus the mapping into the canonical models.Killmail.
//
// The two feeds disagree on where fields live: the killstream WebSocket
// delivers a full CCP killmail with an embedded "zkb" block, while the
// paginated history API returns bare references (killmail_id + zkb block
// only, no participants). Both are normalized here, at the adapter
// boundary, so downstream code only ever sees models.Killmail.
package zkb

import (
	"fmt"
	"time"
)

// Meta is the zKillboard metadata block attached to every record.
type Meta struct {
	LocationID     int64   `json:"locationID,omitempty"`
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fittedValue,omitempty"`
	DroppedValue   float64 `json:"droppedValue,omitempty"`
	DestroyedValue float64 `json:"destroyedValue,omitempty"`
	TotalValue     float64 `json:"totalValue,omitempty"`
	Points         int     `json:"points,omitempty"`
	NPC            bool    `json:"npc,omitempty"`
	Solo           bool    `json:"solo,omitempty"`
	Awox           bool    `json:"awox,omitempty"`
}

// Victim is the destroyed party in CCP killmail wire format.
type Victim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int64  `json:"ship_type_id"`
	DamageTaken   int64  `json:"damage_taken"`
	Items         []Item `json:"items,omitempty"`
}

// Item is one victim inventory item in wire format.
type Item struct {
	ItemTypeID        int64 `json:"item_type_id"`
	QuantityDropped   int64 `json:"quantity_dropped,omitempty"`
	QuantityDestroyed int64 `json:"quantity_destroyed,omitempty"`
	Flag              int   `json:"flag"`
}

// Attacker is one credited participant in CCP killmail wire format.
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

// StreamKillmail is one killstream WebSocket message: a full CCP killmail
// with the zkb block merged in.
type StreamKillmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  string     `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
	ZKB           Meta       `json:"zkb"`
}

// KillRef is one entry from the paginated history API. It carries no
// participant data; the hash is used to fetch full detail from ESI.
type KillRef struct {
	KillmailID int64 `json:"killmail_id"`
	ZKB        Meta  `json:"zkb"`
}

// ESIKillmail is the ESI GET /killmails/{id}/{hash}/ response shape.
type ESIKillmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  string     `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// killmailTimeLayouts are the timestamp formats observed across feeds.
// ESI emits RFC3339 with a trailing Z; some zkill payloads omit the zone.
var killmailTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseKillTime parses a feed timestamp, trying each known layout.
// Returns a zero time with an error when no layout matches; callers treat
// a zero time as a missing field requiring enrichment.
func ParseKillTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty killmail time")
	}
	for _, layout := range killmailTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized killmail time format: %q", s)
}
