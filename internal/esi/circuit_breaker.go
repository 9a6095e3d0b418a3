// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

package esi

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/guarzo/eve-chart-bot-sub002/internal/logging"
	"github.com/guarzo/eve-chart-bot-sub002/internal/metrics"
	"github.com/guarzo/eve-chart-bot-sub002/internal/models"
)

// CircuitBreakerClient wraps a KillmailFetcher with a circuit breaker so
// a degraded ESI does not absorb the whole retry budget of every event.
//
// DETERMINISM NOTE: the breaker uses real time (via sony/gobreaker) for
// its interval and timeout calculations. The timing decides when to probe
// for recovery, not data integrity; unit tests should exercise the wrapped
// client directly.
type CircuitBreakerClient struct {
	fetcher KillmailFetcher
	cb      *gobreaker.CircuitBreaker[*models.Killmail]
	name    string
}

// NewCircuitBreakerClient wraps fetcher with a circuit breaker.
// Configuration:
//   - Max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 2 minute timeout before attempting recovery
//   - Opens at >= 60% failure rate with minimum 10 requests
//
// Client errors (4xx) do not count against the breaker: they indicate a
// bad killmail reference, not a degraded dependency.
func NewCircuitBreakerClient(fetcher KillmailFetcher) *CircuitBreakerClient {
	cbName := "esi-killmails"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*models.Killmail](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrClientError)
		},

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{fetcher: fetcher, cb: cb, name: cbName}
}

// FetchKillmail fetches killmail detail with circuit breaker protection.
func (c *CircuitBreakerClient) FetchKillmail(ctx context.Context, killmailID int64, hash string) (*models.Killmail, error) {
	km, err := c.cb.Execute(func() (*models.Killmail, error) {
		return c.fetcher.FetchKillmail(ctx, killmailID, hash)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Int64("killmail_id", killmailID).
				Msg("[CIRCUIT BREAKER] Request rejected")
		}
		return nil, err
	}
	return km, nil
}

// stateToFloat converts circuit breaker state to a numeric metric value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
