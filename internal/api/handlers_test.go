// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/guarzo/eve-chart-bot-sub002/internal/config"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// fakeStore serves canned data for handler tests.
type fakeStore struct {
	pingErr      error
	tracked      map[int64]*models.TrackedCharacter
	involvements []models.Involvement
	losses       []models.Loss
	killmails    map[int64]*models.Killmail
	checkpoints  map[string]models.Checkpoint

	gotStart, gotEnd time.Time
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetTrackedCharacter(_ context.Context, id int64) (*models.TrackedCharacter, error) {
	return f.tracked[id], nil
}

func (f *fakeStore) InvolvementsForCharacter(_ context.Context, _ int64, start, end time.Time) ([]models.Involvement, error) {
	f.gotStart, f.gotEnd = start, end
	return f.involvements, nil
}

func (f *fakeStore) LossesForCharacter(_ context.Context, _ int64, start, end time.Time) ([]models.Loss, error) {
	f.gotStart, f.gotEnd = start, end
	return f.losses, nil
}

func (f *fakeStore) GetKillmail(_ context.Context, id int64) (*models.Killmail, error) {
	return f.killmails[id], nil
}

func (f *fakeStore) LoadCheckpoint(_ context.Context, stream string) (models.Checkpoint, error) {
	return f.checkpoints[stream], nil
}

func newTestServer(store *fakeStore) *httptest.Server {
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 3859, Timeout: 5 * time.Second}
	return httptest.NewServer(NewServer(cfg, store).Router())
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // Test URL from httptest
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	var buf [8192]byte
	n, _ := resp.Body.Read(buf[:])
	return resp, buf[:n]
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(&fakeStore{})
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	ts := newTestServer(&fakeStore{pingErr: errors.New("database closed")})
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestTrackedCharacterEndpoint(t *testing.T) {
	store := &fakeStore{tracked: map[int64]*models.TrackedCharacter{
		90000001: {CharacterID: 90000001, Name: "Test Pilot"},
	}}
	ts := newTestServer(store)
	defer ts.Close()

	resp, body := get(t, ts.URL+"/v1/tracked/90000001")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var tc models.TrackedCharacter
	if err := json.Unmarshal(body, &tc); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if tc.Name != "Test Pilot" {
		t.Errorf("name = %q, want %q", tc.Name, "Test Pilot")
	}

	resp, _ = get(t, ts.URL+"/v1/tracked/90000002")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for untracked = %d, want 404", resp.StatusCode)
	}

	resp, _ = get(t, ts.URL+"/v1/tracked/notanumber")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for bad id = %d, want 400", resp.StatusCode)
	}
}

func TestInvolvementsEndpoint(t *testing.T) {
	store := &fakeStore{involvements: []models.Involvement{
		{KillmailID: 128000001, CharacterID: 90000001, Role: models.RoleVictim},
	}}
	ts := newTestServer(store)
	defer ts.Close()

	url := ts.URL + "/v1/characters/90000001/involvements" +
		"?start=2026-03-01T00:00:00Z&end=2026-03-31T00:00:00Z"
	resp, body := get(t, url)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var list struct {
		Count int                  `json:"count"`
		Items []models.Involvement `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if list.Count != 1 || len(list.Items) != 1 {
		t.Errorf("count = %d with %d items, want 1 and 1", list.Count, len(list.Items))
	}

	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !store.gotStart.Equal(wantStart) {
		t.Errorf("query start = %v, want %v", store.gotStart, wantStart)
	}
}

func TestInvolvementsEndpointRejectsBadRange(t *testing.T) {
	ts := newTestServer(&fakeStore{})
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/v1/characters/90000001/involvements?start=yesterday")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for bad start = %d, want 400", resp.StatusCode)
	}

	resp, _ = get(t, ts.URL+
		"/v1/characters/90000001/involvements?start=2026-03-31T00:00:00Z&end=2026-03-01T00:00:00Z")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status for inverted range = %d, want 400", resp.StatusCode)
	}
}

func TestKillmailEndpoint(t *testing.T) {
	store := &fakeStore{killmails: map[int64]*models.Killmail{
		128000001: {KillmailID: 128000001, Hash: "abc"},
	}}
	ts := newTestServer(store)
	defer ts.Close()

	resp, body := get(t, ts.URL+"/v1/killmails/128000001")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var km models.Killmail
	if err := json.Unmarshal(body, &km); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if km.Hash != "abc" {
		t.Errorf("hash = %q, want abc", km.Hash)
	}

	resp, _ = get(t, ts.URL+"/v1/killmails/999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown killmail = %d, want 404", resp.StatusCode)
	}
}

func TestCheckpointEndpoint(t *testing.T) {
	store := &fakeStore{checkpoints: map[string]models.Checkpoint{
		"zkill:websocket": {Stream: "zkill:websocket", LastKillmailID: 128000001},
	}}
	ts := newTestServer(store)
	defer ts.Close()

	resp, body := get(t, ts.URL+"/v1/checkpoints/zkill:websocket")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(body, &cp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if cp.LastKillmailID != 128000001 {
		t.Errorf("position = %d, want 128000001", cp.LastKillmailID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(&fakeStore{})
	defer ts.Close()

	resp, _ := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
