// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

/*
Package metrics provides Prometheus instrumentation for the parking fabric.

# Overview

The package exposes counters, gauges, and histograms covering:
  - Event ingestion (C4): events by type, dedup hits, rejects
  - Plate tracking (C1/C2): tracker commits, active tracks, normalize latency
  - Conflict resolution (C10): resolutions by outcome
  - Fan-out (C9): deliveries and drops by destination
  - Peer and edge duplex channels (C6/C7/C8): state transitions, healthy counts
  - Edge outbox (C12): depth, retries, exhausted rows, delivery transport
  - HTTP API and DuckDB store query performance
  - WebSocket connection counts per topic

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format, served via
promhttp.Handler() by cmd/central's router (internal/api). cmd/edge does
not serve /metrics.

# Cardinality

Labels that vary per-entity (edge_id, peer_id) are bounded by the number
of edges/peers registered in the fabric, not by request volume. Endpoint
labels on API metrics use the route pattern, never the raw path with
path parameters substituted in.

# Recorders

Only internal/api's router and middleware.PrometheusMetrics call into this
package, and both record HTTP API request metrics. The other collectors
listed above are registered and exported, but no package updates them.
*/
package metrics
