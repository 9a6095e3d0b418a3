// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package esi

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes for outbound ESI requests. The rate-limited client
// classifies every failure so the retry policy and logs can distinguish
// dependency health problems from bad requests.
var (
	// ErrTimeout covers network errors and request deadline expiry.
	ErrTimeout = errors.New("esi: request timed out")

	// ErrRateLimited covers HTTP 429 responses.
	ErrRateLimited = errors.New("esi: rate limited")

	// ErrServerError covers HTTP 5xx responses.
	ErrServerError = errors.New("esi: server error")

	// ErrClientError covers HTTP 4xx responses other than 429. These are
	// never retried; the killmail that triggered them is skipped.
	ErrClientError = errors.New("esi: client error")
)

// StatusError carries the HTTP status of a failed request alongside its
// classification sentinel.
type StatusError struct {
	StatusCode int
	Body       string
	class      error
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.class, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.class, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.class }

// newStatusError classifies an HTTP status into a StatusError.
func newStatusError(statusCode int, body string) *StatusError {
	class := ErrServerError
	switch {
	case statusCode == http.StatusTooManyRequests:
		class = ErrRateLimited
	case statusCode >= 400 && statusCode < 500:
		class = ErrClientError
	}
	return &StatusError{StatusCode: statusCode, Body: body, class: class}
}

// classify names an error class for logging and metrics.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrClientError):
		return "client_error"
	case errors.Is(err, ErrServerError):
		return "server_error"
	default:
		// ErrTimeout and anything unclassified, both dependency health.
		return "timeout"
	}
}

// retryable reports whether the error class is worth retrying. Client
// errors indicate a bad request that will not heal with time.
func retryable(err error) bool {
	return !errors.Is(err, ErrClientError)
}
