// Package metrics holds the Prometheus collectors of the service. They are
// registered on the default registry at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration measures handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	// GraphNodes is the size of the live node set.
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cortex_graph_nodes",
		Help: "Number of notes in the activation graph",
	})

	// IgnitedNodes is the number of nodes above the ignition threshold at the
	// last snapshot.
	IgnitedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cortex_graph_ignited_nodes",
		Help: "Number of ignited notes at the last snapshot",
	})

	// ScanSkipped counts files left out of a scan, by reason.
	ScanSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_scan_skipped_files_total",
			Help: "Files skipped during corpus scans",
		},
		[]string{"reason"},
	)

	// Stimuli counts processed stimulus events, by outcome (matched, unmatched).
	Stimuli = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_stimuli_total",
			Help: "Stimulus events injected into the graph",
		},
		[]string{"outcome"},
	)

	// PropagatedEnergy sums the activation delivered by propagation passes.
	PropagatedEnergy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_propagated_energy_total",
		Help: "Activation delivered to linked notes by propagation",
	})

	// MetadataWrites counts note rewrites by operation and result.
	MetadataWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_metadata_writes_total",
			Help: "Metadata rewrites of note files",
		},
		[]string{"op", "result"},
	)

	// TaskDuration measures engine tasks (load, propagate, decay, garden, save).
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_engine_task_duration_seconds",
			Help:    "Duration of graph owner tasks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// QueueRejected counts requests refused because the owner queue was full.
	QueueRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_engine_queue_rejected_total",
		Help: "Requests rejected because the engine queue was full",
	})

	// SSEDropped counts events skipped because a stream client or the
	// snapshot queue was full.
	SSEDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_sse_dropped_events_total",
		Help: "SSE events dropped for slow clients",
	})
)
