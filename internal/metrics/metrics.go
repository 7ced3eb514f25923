// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package metrics holds the Prometheus instrumentation for Outpost.
//
// Metrics are registered with the default registry through promauto and
// exposed by the /metrics endpoint of the status server. Components update
// them through the Record and Set helpers rather than touching the
// collectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store

	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_store_writes_total",
			Help: "Total number of local store transactions by result",
		},
		[]string{"result"}, // "ok", "conflict_retry", "error"
	)

	StoreRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_store_records",
		Help: "Number of records held in the local store",
	})

	StoreSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_store_size_bytes",
		Help: "Local store size in bytes (LSM + value log)",
	})

	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_store_gc_runs_total",
			Help: "Total number of value log GC runs by result",
		},
		[]string{"result"}, // "rewritten", "no_rewrite", "error"
	)

	// Queue

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_queue_enqueued_total",
			Help: "Total number of actions appended to the queue",
		},
		[]string{"kind"},
	)

	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_queue_pending",
		Help: "Number of actions waiting in the queue",
	})

	QueueRemapped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outpost_queue_remapped_total",
		Help: "Total number of queued actions rewritten from a temp id to a canonical id",
	})

	// Engine

	EngineDrainPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_engine_drain_passes_total",
			Help: "Total number of drain passes by result",
		},
		[]string{"result"}, // "drained", "backoff", "auth_required", "error"
	)

	EngineDrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outpost_engine_drain_duration_seconds",
		Help:    "Duration of drain passes in seconds",
		Buckets: prometheus.DefBuckets,
	})

	EngineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_engine_outcomes_total",
			Help: "Total number of actions leaving the queue by outcome",
		},
		[]string{"outcome"},
	)

	EngineBackoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_engine_backoff_seconds",
		Help: "Current backoff delay before the next drain pass",
	})

	EngineStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outpost_engine_status",
			Help: "Engine status (1 for the current status, 0 otherwise)",
		},
		[]string{"status"},
	)

	// Remote

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_remote_call_duration_seconds",
			Help:    "Duration of remote calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_remote_calls_total",
			Help: "Total number of remote calls by operation and classified status",
		},
		[]string{"operation", "status"},
	)

	// Circuit breaker

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outpost_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Connectivity

	ConnectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_connectivity_online",
		Help: "Last known connectivity (1=online, 0=offline)",
	})

	ConnectivityTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outpost_connectivity_triggers_total",
		Help: "Total number of debounced online triggers emitted",
	})

	// Local API

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_api_requests_total",
			Help: "Total number of local API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_api_request_duration_seconds",
			Help:    "Local API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outpost_stream_clients",
		Help: "Number of connected outcome stream clients",
	})
)

var engineStatuses = []string{"idle", "draining", "backoff", "auth_required"}

// RecordDrainPass records the result and duration of one drain pass.
func RecordDrainPass(result string, d time.Duration) {
	EngineDrainPasses.WithLabelValues(result).Inc()
	EngineDrainDuration.Observe(d.Seconds())
}

// RecordRemoteCall records one classified remote call.
func RecordRemoteCall(operation, status string, d time.Duration) {
	RemoteCalls.WithLabelValues(operation, status).Inc()
	RemoteCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetEngineStatus marks status as the current engine status.
func SetEngineStatus(status string) {
	for _, s := range engineStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		EngineStatus.WithLabelValues(s).Set(v)
	}
}

// SetConnectivity records the last known connectivity.
func SetConnectivity(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		return
	}
	ConnectivityOnline.Set(0)
}
