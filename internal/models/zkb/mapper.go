// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package zkb

import (
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// ToModel normalizes a killstream message into the canonical killmail.
// A malformed timestamp leaves KillTime zero, which marks the killmail
// incomplete and routes it through enrichment.
func (s *StreamKillmail) ToModel() *models.Killmail {
	killTime, _ := ParseKillTime(s.KillmailTime)

	return &models.Killmail{
		KillmailID:    s.KillmailID,
		Hash:          s.ZKB.Hash,
		KillTime:      killTime,
		SolarSystemID: s.SolarSystemID,
		Victim:        mapVictim(&s.Victim),
		Attackers:     mapAttackers(s.Attackers),
		TotalValue:    s.ZKB.TotalValue,
		Points:        s.ZKB.Points,
	}
}

// ToModel normalizes a history reference into a skeleton killmail.
// The result is always incomplete (no participants) and must be enriched
// before reconciliation.
func (r *KillRef) ToModel() *models.Killmail {
	return &models.Killmail{
		KillmailID: r.KillmailID,
		Hash:       r.ZKB.Hash,
		TotalValue: r.ZKB.TotalValue,
		Points:     r.ZKB.Points,
	}
}

// ToModel normalizes an ESI killmail response. The hash is carried over
// from the request since ESI does not echo it.
func (e *ESIKillmail) ToModel(hash string) *models.Killmail {
	killTime, _ := ParseKillTime(e.KillmailTime)

	return &models.Killmail{
		KillmailID:    e.KillmailID,
		Hash:          hash,
		KillTime:      killTime,
		SolarSystemID: e.SolarSystemID,
		Victim:        mapVictim(&e.Victim),
		Attackers:     mapAttackers(e.Attackers),
	}
}

func mapVictim(v *Victim) models.Victim {
	items := make([]models.Item, 0, len(v.Items))
	for i := range v.Items {
		items = append(items, models.Item{
			TypeID:            v.Items[i].ItemTypeID,
			QuantityDropped:   v.Items[i].QuantityDropped,
			QuantityDestroyed: v.Items[i].QuantityDestroyed,
			Flag:              v.Items[i].Flag,
		})
	}
	if len(items) == 0 {
		items = nil
	}

	return models.Victim{
		CharacterID:   v.CharacterID,
		CorporationID: v.CorporationID,
		AllianceID:    v.AllianceID,
		ShipTypeID:    v.ShipTypeID,
		DamageTaken:   v.DamageTaken,
		Items:         items,
	}
}

func mapAttackers(attackers []Attacker) []models.Attacker {
	if len(attackers) == 0 {
		return nil
	}
	out := make([]models.Attacker, 0, len(attackers))
	for i := range attackers {
		a := &attackers[i]
		out = append(out, models.Attacker{
			CharacterID:    a.CharacterID,
			CorporationID:  a.CorporationID,
			AllianceID:     a.AllianceID,
			ShipTypeID:     a.ShipTypeID,
			WeaponTypeID:   a.WeaponTypeID,
			DamageDone:     a.DamageDone,
			FinalBlow:      a.FinalBlow,
			SecurityStatus: a.SecurityStatus,
		})
	}
	return out
}
