// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package zkill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models/zkb"
)

// killstreamChannel is the zKillboard subscription channel that delivers
// every killmail in near-real time.
const killstreamChannel = "killstream"

// subscribeMessage is the frame sent after connecting to join a channel.
type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// WebSocketClient consumes the zKillboard killstream.
//
// Key features:
//   - Automatic reconnection with exponential backoff (1s doubling to 32s)
//   - Re-subscribes to the killstream channel after every reconnect
//   - Ping keepalive (30-second interval)
//   - Graceful shutdown via Close or context cancellation
//
// Received messages are normalized to models.Killmail at this boundary and
// handed to the registered callback in delivery order (single reader
// goroutine).
type WebSocketClient struct {
	url       string
	userAgent string

	conn     *websocket.Conn
	connMu   sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	callbackMu sync.RWMutex
	onKillmail func(*models.Killmail)
}

// NewWebSocketClient creates a killstream client. Call Connect to start.
func NewWebSocketClient(url, userAgent string) *WebSocketClient {
	return &WebSocketClient{
		url:       url,
		userAgent: userAgent,
		stopChan:  make(chan struct{}),
	}
}

// SetOnKillmail registers the killmail callback. Must be set before
// Connect; the callback runs on the reader goroutine, so it must not
// block indefinitely.
func (c *WebSocketClient) SetOnKillmail(fn func(*models.Killmail)) {
	c.callbackMu.Lock()
	c.onKillmail = fn
	c.callbackMu.Unlock()
}

// Start connects and launches the reader and keepalive goroutines. The
// initial dial failure is not fatal: the reader retries with backoff.
func (c *WebSocketClient) Start(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		logging.Warn().Err(err).Msg("Initial killstream connect failed, will retry")
	}

	c.wg.Add(2)
	go c.listen(ctx)
	go c.pingLoop(ctx)

	return nil
}

// Connect establishes the WebSocket connection and subscribes to the
// killstream channel. It spawns no goroutines; Start owns those.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}

	headers := map[string][]string{"User-Agent": {c.userAgent}}
	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("killstream dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("killstream dial: %w", err)
	}

	sub := subscribeMessage{Action: "sub", Channel: killstreamChannel}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return fmt.Errorf("killstream subscribe: %w", err)
	}

	c.conn = conn
	logging.Info().Str("url", c.url).Msg("Killstream WebSocket connected")

	return nil
}

// listen reads killstream messages until stopped, reconnecting with
// exponential backoff after connection loss.
func (c *WebSocketClient) listen(ctx context.Context) {
	defer c.wg.Done()

	reconnectDelay := 1 * time.Second
	maxReconnectDelay := 32 * time.Second

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Killstream listener stopping (context canceled)")
			return
		case <-c.stopChan:
			logging.Info().Msg("Killstream listener stopping (stop signal received)")
			return
		default:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				// Connection lost - reconnect with cancellable wait
				logging.Info().Dur("delay", reconnectDelay).Msg("Killstream connection lost, reconnecting")
				select {
				case <-time.After(reconnectDelay):
				case <-ctx.Done():
					return
				case <-c.stopChan:
					return
				}

				reconnectDelay *= 2
				if reconnectDelay > maxReconnectDelay {
					reconnectDelay = maxReconnectDelay
				}

				if err := c.Connect(ctx); err != nil {
					logging.Error().Err(err).Msg("Killstream reconnection failed")
					continue
				}

				reconnectDelay = 1 * time.Second
				continue
			}

			if err := conn.SetReadDeadline(time.Now().Add(90 * time.Second)); err != nil {
				logging.Warn().Err(err).Msg("Killstream: failed to set read deadline")
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logging.Info().Msg("Killstream WebSocket closed normally")
					c.closeConnection()
					continue
				}
				if ctx.Err() != nil {
					return
				}
				logging.Warn().Err(err).Msg("Killstream read error")
				c.closeConnection()
				continue
			}

			reconnectDelay = 1 * time.Second
			c.handleMessage(message)
		}
	}
}

// handleMessage parses one killstream frame and dispatches the normalized
// killmail. Frames that are not killmails (subscription acks, pings) are
// ignored.
func (c *WebSocketClient) handleMessage(data []byte) {
	var wire zkb.StreamKillmail
	if err := json.Unmarshal(data, &wire); err != nil {
		logging.Warn().Err(err).Msg("Failed to parse killstream message")
		return
	}
	if wire.KillmailID == 0 {
		return
	}

	c.callbackMu.RLock()
	cb := c.onKillmail
	c.callbackMu.RUnlock()

	if cb != nil {
		cb(wire.ToModel())
	}
}

// pingLoop sends a ping every 30 seconds to detect dead connections.
func (c *WebSocketClient) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				logging.Warn().Err(err).Msg("Killstream ping failed")
				c.closeConnection()
			}
		}
	}
}

// closeConnection closes the WebSocket connection and clears state.
func (c *WebSocketClient) closeConnection() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(1*time.Second),
		)
		if err := c.conn.Close(); err != nil {
			logging.Warn().Err(err).Msg("Killstream: failed to close connection")
		}
		c.conn = nil
	}
}

// Close shuts the client down and waits for its goroutines.
func (c *WebSocketClient) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.closeConnection()
	c.wg.Wait()
	logging.Info().Msg("Killstream WebSocket client shut down")
	return nil
}

// IsConnected reports whether the WebSocket connection is established.
func (c *WebSocketClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}
