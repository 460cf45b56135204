// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the parking fabric, served over
// /metrics via promhttp. Covers event ingestion, plate tracking,
// conflict resolution, fan-out, peer/edge channel health, and the
// edge outbox drain loop.

var (
	// Ingestion Metrics (C4)
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_events_ingested_total",
			Help: "Total number of events ingested by type",
		},
		[]string{"event_type"},
	)

	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_events_rejected_total",
			Help: "Total number of events rejected during ingestion",
		},
		[]string{"event_type", "reason"},
	)

	DedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_dedup_hits_total",
			Help: "Total number of events skipped because their event_id was already known",
		},
		[]string{"event_type"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkfabric_ingest_duration_seconds",
			Help:    "Duration of event ingestion state-machine application",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	// Conflict Resolution Metrics (C10)
	ConflictsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_conflicts_resolved_total",
			Help: "Total number of conflicting history rows resolved",
		},
		[]string{"resolution"}, // "last_writer_wins", "merge", "discard"
	)

	// Plate Tracker Metrics (C1/C2)
	PlateTrackerCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_plate_tracker_commits_total",
			Help: "Total number of plate sightings committed after confidence/stability thresholds were met",
		},
		[]string{"edge_id"},
	)

	PlateTrackerActiveTracks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkfabric_plate_tracker_active_tracks",
			Help: "Current number of in-flight (uncommitted) plate tracks per edge",
		},
		[]string{"edge_id"},
	)

	PlateNormalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parkfabric_plate_normalize_duration_seconds",
			Help:    "Duration of raw OCR string normalization",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	// Fan-out Metrics (C9)
	FanoutDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_fanout_deliveries_total",
			Help: "Total number of fan-out deliveries by destination",
		},
		[]string{"destination"}, // "frontend", "edge", "peer"
	)

	FanoutDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_fanout_drops_total",
			Help: "Total number of fan-out deliveries dropped (slow consumer, converged peer)",
		},
		[]string{"destination", "reason"},
	)

	// Peer / Edge Channel Metrics (C6/C7/C8)
	PeerChannelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_peer_channel_transitions_total",
			Help: "Total number of peer duplex channel state transitions",
		},
		[]string{"peer_id", "to_status"},
	)

	PeerChannelsHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkfabric_peer_channels_healthy",
			Help: "Current number of peer duplex channels in a healthy state",
		},
	)

	EdgeChannelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_edge_channel_transitions_total",
			Help: "Total number of edge duplex channel state transitions",
		},
		[]string{"edge_id", "to_status"},
	)

	EdgeChannelsHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkfabric_edge_channels_healthy",
			Help: "Current number of edge duplex channels in a healthy state",
		},
	)

	GossipSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parkfabric_gossip_sync_duration_seconds",
			Help:    "Duration of SYNC_REQUEST/SYNC_RESPONSE round trips",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// Outbox Metrics (C12)
	OutboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkfabric_outbox_depth",
			Help: "Current number of unsynced rows held in the edge outbox",
		},
		[]string{"edge_id"},
	)

	OutboxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_outbox_retries_total",
			Help: "Total number of outbox redelivery attempts",
		},
		[]string{"edge_id"},
	)

	OutboxExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_outbox_exhausted_total",
			Help: "Total number of outbox rows that exceeded the retry cap",
		},
		[]string{"edge_id"},
	)

	OutboxDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_outbox_delivered_total",
			Help: "Total number of outbox rows successfully delivered by transport",
		},
		[]string{"edge_id", "transport"}, // "duplex", "http"
	)

	// Circuit Breaker Metrics (shared by outbox backfill and other breakers)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkfabric_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API / HTTP Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkfabric_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkfabric_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Store Metrics (C3)
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkfabric_store_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkfabric_store_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkfabric_websocket_connections",
			Help: "Current number of active WebSocket connections per topic",
		},
		[]string{"topic"}, // "history", "cameras", "p2p", "edge"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parkfabric_app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version", "role"}, // role: "central", "edge"
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkfabric_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordIngest records the outcome of applying one event to the
// ingestion state machine.
func RecordIngest(eventType string, duration time.Duration, accepted bool) {
	IngestDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if accepted {
		EventsIngestedTotal.WithLabelValues(eventType).Inc()
	}
}

// RecordDedupHit records an event skipped because its event_id was
// already known to the store.
func RecordDedupHit(eventType string) {
	DedupHitsTotal.WithLabelValues(eventType).Inc()
}

// RecordReject records an event rejected during ingestion.
func RecordReject(eventType, reason string) {
	EventsRejectedTotal.WithLabelValues(eventType, reason).Inc()
}

// RecordConflictResolved records a conflict resolution outcome.
func RecordConflictResolved(resolution string) {
	ConflictsResolvedTotal.WithLabelValues(resolution).Inc()
}

// RecordPlateTrackerCommit records a tracker committing a stabilized
// plate sighting for the given edge.
func RecordPlateTrackerCommit(edgeID string) {
	PlateTrackerCommitsTotal.WithLabelValues(edgeID).Inc()
}

// SetPlateTrackerActiveTracks sets the current in-flight track count
// for an edge.
func SetPlateTrackerActiveTracks(edgeID string, count int) {
	PlateTrackerActiveTracks.WithLabelValues(edgeID).Set(float64(count))
}

// RecordFanoutDelivery records a successful fan-out delivery to a
// destination class.
func RecordFanoutDelivery(destination string) {
	FanoutDeliveriesTotal.WithLabelValues(destination).Inc()
}

// RecordFanoutDrop records a fan-out delivery that was intentionally
// skipped or dropped.
func RecordFanoutDrop(destination, reason string) {
	FanoutDropsTotal.WithLabelValues(destination, reason).Inc()
}

// RecordPeerChannelTransition records a peer duplex channel moving to
// a new status.
func RecordPeerChannelTransition(peerID, toStatus string) {
	PeerChannelTransitionsTotal.WithLabelValues(peerID, toStatus).Inc()
}

// RecordEdgeChannelTransition records an edge duplex channel moving to
// a new status.
func RecordEdgeChannelTransition(edgeID, toStatus string) {
	EdgeChannelTransitionsTotal.WithLabelValues(edgeID, toStatus).Inc()
}

// SetOutboxDepth sets the current unsynced row count for an edge.
func SetOutboxDepth(edgeID string, depth int64) {
	OutboxDepth.WithLabelValues(edgeID).Set(float64(depth))
}

// RecordOutboxRetry records one redelivery attempt for an edge's
// outbox.
func RecordOutboxRetry(edgeID string) {
	OutboxRetriesTotal.WithLabelValues(edgeID).Inc()
}

// RecordOutboxExhausted records a row exceeding its retry cap.
func RecordOutboxExhausted(edgeID string) {
	OutboxExhaustedTotal.WithLabelValues(edgeID).Inc()
}

// RecordOutboxDelivered records a successful delivery and the
// transport that carried it.
func RecordOutboxDelivered(edgeID, transport string) {
	OutboxDeliveredTotal.WithLabelValues(edgeID, transport).Inc()
}

// RecordCircuitBreakerTransition records a circuit breaker state
// change and updates its current-state gauge.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(name, from, to).Inc()
	var state float64
	switch to {
	case "open":
		state = 2
	case "half-open":
		state = 1
	default:
		state = 0
	}
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordStoreQuery records a DuckDB query outcome.
func RecordStoreQuery(operation string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// SetWSConnections sets the current connection count for a topic hub.
func SetWSConnections(topic string, count int) {
	WSConnections.WithLabelValues(topic).Set(float64(count))
}
