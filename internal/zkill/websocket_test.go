// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package zkill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// killstreamServer is a minimal fake zKillboard WebSocket endpoint. It
// records the subscription frame and pushes scripted messages to the
// connected client.
type killstreamServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	subCh  chan subscribeMessage
	sendCh chan string
}

func newKillstreamServer(t *testing.T) *killstreamServer {
	t.Helper()

	ks := &killstreamServer{
		subCh:  make(chan subscribeMessage, 1),
		sendCh: make(chan string, 16),
	}

	ks.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ks.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		ks.subCh <- sub

		for msg := range ks.sendCh {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ks.srv.Close)
	// Runs before srv.Close (LIFO) so the handler's send loop exits and
	// the server can shut down.
	t.Cleanup(func() { close(ks.sendCh) })

	return ks
}

func (ks *killstreamServer) url() string {
	return "ws" + strings.TrimPrefix(ks.srv.URL, "http")
}

func TestWebSocketSubscribesAndDeliversKillmails(t *testing.T) {
	ks := newKillstreamServer(t)

	received := make(chan *models.Killmail, 4)
	client := NewWebSocketClient(ks.url(), "test-agent")
	client.SetOnKillmail(func(km *models.Killmail) { received <- km })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Close()

	select {
	case sub := <-ks.subCh:
		if sub.Action != "sub" || sub.Channel != "killstream" {
			t.Errorf("subscribe frame = %+v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription frame received")
	}

	ks.sendCh <- `{
		"killmail_id": 128000001,
		"killmail_time": "2026-03-14T12:30:45Z",
		"solar_system_id": 30000142,
		"victim": {"character_id": 90000001, "ship_type_id": 587, "damage_taken": 100},
		"attackers": [{"character_id": 90000002, "damage_done": 100, "final_blow": true}],
		"zkb": {"hash": "abc123", "totalValue": 5000}
	}`

	select {
	case km := <-received:
		if km.KillmailID != 128000001 {
			t.Errorf("KillmailID = %d", km.KillmailID)
		}
		if km.Hash != "abc123" {
			t.Errorf("Hash = %q", km.Hash)
		}
		if !km.IsComplete() {
			t.Error("delivered killmail should be complete")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("killmail not delivered")
	}
}

func TestWebSocketIgnoresNonKillmailFrames(t *testing.T) {
	ks := newKillstreamServer(t)

	received := make(chan *models.Killmail, 4)
	client := NewWebSocketClient(ks.url(), "test-agent")
	client.SetOnKillmail(func(km *models.Killmail) { received <- km })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Close()

	<-ks.subCh

	// Acks and malformed frames must not reach the callback.
	ks.sendCh <- `{"action": "sub", "channel": "killstream"}`
	ks.sendCh <- `not json at all`
	ks.sendCh <- `{"killmail_id": 128000002, "killmail_time": "2026-03-14T12:31:00Z",
		"victim": {"ship_type_id": 587}, "attackers": [{"damage_done": 1, "final_blow": true}],
		"zkb": {"hash": "real"}}`

	select {
	case km := <-received:
		if km.KillmailID != 128000002 {
			t.Errorf("delivered KillmailID = %d, want only the real killmail", km.KillmailID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real killmail not delivered")
	}

	select {
	case km := <-received:
		t.Errorf("unexpected extra delivery: %+v", km)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	ks := newKillstreamServer(t)

	client := NewWebSocketClient(ks.url(), "test-agent")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ks.subCh

	if !client.IsConnected() {
		t.Error("expected connected client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if client.IsConnected() {
		t.Error("client still connected after Close")
	}
}

func TestWebSocketInitialDialFailureIsNotFatal(t *testing.T) {
	// Nothing listens here; Start must still succeed and leave the
	// reader retrying in the background.
	client := NewWebSocketClient("ws://127.0.0.1:1/websocket/", "test-agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected disconnected client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
