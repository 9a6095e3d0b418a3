// EVE Chart Bot - Killmail Ingestion and Reconciliation
// Copyright 2026 guarzo
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/guarzo/eve-chart-bot-sub002

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: feed throughput, enrichment outcomes, reconciliation results,
// checkpoint positions, and external client health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_events_received_total",
			Help: "Total killmail events received per feed",
		},
		[]string{"feed"}, // "websocket", "catchup", "backfill"
	)

	EventsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_events_filtered_total",
			Help: "Total killmail events dropped by the relevance filter",
		},
		[]string{"feed"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_events_dropped_total",
			Help: "Total killmail events dropped after exhausting retries",
		},
		[]string{"feed", "stage"}, // stage: "enrich", "reconcile", "checkpoint"
	)

	// Enrichment metrics
	EnrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_enrichment_requests_total",
			Help: "Total enrichment lookups by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	// Reconciliation metrics
	ReconcileOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_reconcile_operations_total",
			Help: "Total reconciliation transactions by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	ReconcileRowChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killmail_reconcile_row_changes_total",
			Help: "Rows inserted and deleted by reconciliation diffs",
		},
		[]string{"table", "op"}, // table: "attackers", "involvements"; op: "insert", "delete"
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "killmail_reconcile_duration_seconds",
			Help:    "Duration of reconciliation transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Checkpoint metrics
	CheckpointPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "killmail_checkpoint_position",
			Help: "Last checkpointed killmail ID per stream",
		},
		[]string{"stream"},
	)

	// External client metrics
	ESIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_requests_total",
			Help: "Total ESI requests by classification",
		},
		[]string{"result"}, // "success", "timeout", "rate_limited", "server_error", "client_error"
	)

	ESIBackoffDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "esi_backoff_delay_seconds",
			Help: "Current computed backoff delay for the ESI client",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Registry metrics
	TrackedCharacters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracked_characters",
			Help: "Current number of tracked characters in the registry snapshot",
		},
	)

	RegistryRefreshErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_refresh_errors_total",
			Help: "Total failed registry refresh attempts",
		},
	)

	// Backfill metrics
	BackfillPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_pages_total",
			Help: "Total history pages fetched during backfill",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	// HTTP surface metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "HTTP requests currently being served",
		},
	)
)
