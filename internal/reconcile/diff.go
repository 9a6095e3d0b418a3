// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package reconcile

// Diff holds the row changes needed to move a stored set to a target set.
// It is ephemeral: computed inside one reconciliation transaction and
// never persisted.
type Diff[T any] struct {
	ToDelete []T
	ToInsert []T
}

// Empty reports whether the diff is a no-op.
func (d *Diff[T]) Empty() bool {
	return len(d.ToDelete) == 0 && len(d.ToInsert) == 0
}

// diffRows compares stored rows against target rows by full-field
// equality. Rows with an equal counterpart are left untouched; stored rows
// without a match are deleted and target rows without a match are
// inserted. Any field mismatch therefore becomes delete-old + create-new,
// which keeps the convergence rule simple and auditable.
//
// Matching is multiset-aware: each stored row consumes at most one equal
// target row, so duplicate rows converge to the target multiplicity.
func diffRows[T any](stored, target []T, equal func(a, b *T) bool) Diff[T] {
	matched := make([]bool, len(target))
	var d Diff[T]

	for i := range stored {
		found := false
		for j := range target {
			if matched[j] {
				continue
			}
			if equal(&stored[i], &target[j]) {
				matched[j] = true
				found = true
				break
			}
		}
		if !found {
			d.ToDelete = append(d.ToDelete, stored[i])
		}
	}

	for j := range target {
		if !matched[j] {
			d.ToInsert = append(d.ToInsert, target[j])
		}
	}

	return d
}
