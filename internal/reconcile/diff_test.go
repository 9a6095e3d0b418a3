// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package reconcile

import (
	"testing"
)

type pair struct {
	key int
	val string
}

func pairEqual(a, b *pair) bool {
	return a.key == b.key && a.val == b.val
}

func TestDiffRows(t *testing.T) {
	tests := []struct {
		name       string
		stored     []pair
		target     []pair
		wantDelete int
		wantInsert int
	}{
		{
			name:       "both empty",
			wantDelete: 0,
			wantInsert: 0,
		},
		{
			name:       "identical sets produce empty diff",
			stored:     []pair{{1, "a"}, {2, "b"}},
			target:     []pair{{2, "b"}, {1, "a"}},
			wantDelete: 0,
			wantInsert: 0,
		},
		{
			name:       "all new",
			target:     []pair{{1, "a"}, {2, "b"}},
			wantDelete: 0,
			wantInsert: 2,
		},
		{
			name:       "all stale",
			stored:     []pair{{1, "a"}, {2, "b"}},
			wantDelete: 2,
			wantInsert: 0,
		},
		{
			name:       "changed field deletes old and inserts new",
			stored:     []pair{{1, "a"}, {2, "b"}},
			target:     []pair{{1, "a"}, {2, "c"}},
			wantDelete: 1,
			wantInsert: 1,
		},
		{
			name:       "duplicate stored row beyond target count is deleted",
			stored:     []pair{{1, "a"}, {1, "a"}},
			target:     []pair{{1, "a"}},
			wantDelete: 1,
			wantInsert: 0,
		},
		{
			name:       "duplicate target row beyond stored count is inserted",
			stored:     []pair{{1, "a"}},
			target:     []pair{{1, "a"}, {1, "a"}},
			wantDelete: 0,
			wantInsert: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := diffRows(tt.stored, tt.target, pairEqual)
			if got := len(diff.ToDelete); got != tt.wantDelete {
				t.Errorf("ToDelete = %d rows, want %d", got, tt.wantDelete)
			}
			if got := len(diff.ToInsert); got != tt.wantInsert {
				t.Errorf("ToInsert = %d rows, want %d", got, tt.wantInsert)
			}
			wantEmpty := tt.wantDelete == 0 && tt.wantInsert == 0
			if diff.Empty() != wantEmpty {
				t.Errorf("Empty() = %v, want %v", diff.Empty(), wantEmpty)
			}
		})
	}
}

func TestDiffRowsPreservesStoredRowsOnMatch(t *testing.T) {
	stored := []pair{{1, "a"}, {2, "b"}}
	target := []pair{{2, "b"}, {3, "c"}}

	diff := diffRows(stored, target, pairEqual)

	if len(diff.ToDelete) != 1 || diff.ToDelete[0].key != 1 {
		t.Fatalf("ToDelete = %v, want the single unmatched stored row {1 a}", diff.ToDelete)
	}
	if len(diff.ToInsert) != 1 || diff.ToInsert[0].key != 3 {
		t.Fatalf("ToInsert = %v, want the single unmatched target row {3 c}", diff.ToInsert)
	}
}
