// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Named wraps a suture.Service with a stable name for supervisor logs.
// Most application services already implement Serve(ctx) error; this
// only adds the fmt.Stringer identity.
type Named struct {
	Name    string
	Service interface {
		Serve(ctx context.Context) error
	}
}

// Serve implements suture.Service.
func (n *Named) Serve(ctx context.Context) error {
	return n.Service.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (n *Named) String() string {
	return n.Name
}

// FeedClient matches the WebSocket feed client lifecycle: a non-blocking
// Start and an idempotent Close.
type FeedClient interface {
	Start(ctx context.Context) error
	Close() error
}

// FeedService adapts a Start/Close feed client to suture.Service.
type FeedService struct {
	client FeedClient
	name   string
}

// NewFeedService wraps a feed client as a supervised service.
func NewFeedService(name string, client FeedClient) *FeedService {
	return &FeedService{client: client, name: name}
}

// Serve starts the client, blocks until shutdown, and closes it. The
// client owns its reconnect loop; a Serve return only happens on context
// cancellation or a failed start.
func (f *FeedService) Serve(ctx context.Context) error {
	if err := f.client.Start(ctx); err != nil {
		return fmt.Errorf("feed %s failed to start: %w", f.name, err)
	}
	<-ctx.Done()
	if err := f.client.Close(); err != nil {
		return fmt.Errorf("feed %s close failed: %w", f.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (f *FeedService) String() string {
	return f.name
}

// HTTPServer matches *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server's blocking ListenAndServe to
// suture's context-aware Serve.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService creates an HTTP server service wrapper.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is expected on
// graceful shutdown and converted to nil.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is canceled; shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (h *HTTPServerService) String() string {
	return "http-server"
}
