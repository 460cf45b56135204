// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package model defines the core domain entities shared across the parking
// fabric: history rows, cameras, parking lots, peer records and the edge
// outbox. These types are the lingua franca between internal/store,
// internal/ingest, internal/gossip and internal/api — all layers operate on
// the same structs so that a row read from DuckDB, an envelope payload off
// the wire, and a JSON response body never drift from each other.
package model

import "time"

// CameraType distinguishes the two camera roles recognized by the ingestion
// pipeline: an entry camera opens a parking session, an exit camera closes
// one.
type CameraType string

const (
	CameraTypeEntry      CameraType = "entry"
	CameraTypeExit       CameraType = "exit"
	CameraTypeParkingLot CameraType = "parking_lot"
)

// EventType enumerates the vehicle lifecycle events produced by edge nodes
// and carried over the wire envelope.
type EventType string

const (
	EventVehicleEntryPending   EventType = "VEHICLE_ENTRY_PENDING"
	EventVehicleEntryConfirmed EventType = "VEHICLE_ENTRY_CONFIRMED"
	EventVehicleExit           EventType = "VEHICLE_EXIT"
)

// Camera describes a registered edge camera and its last-known liveness.
type Camera struct {
	CameraID     string     `json:"camera_id" db:"camera_id"`
	LotID        string     `json:"lot_id" db:"lot_id"`
	CameraType   CameraType `json:"camera_type" db:"camera_type"`
	Label        string     `json:"label,omitempty" db:"label"`
	LastSeen     time.Time  `json:"last_seen" db:"last_seen"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
}

// ParkingLot describes capacity and configuration for a managed lot.
type ParkingLot struct {
	LotID      string    `json:"lot_id" db:"lot_id"`
	Name       string    `json:"name" db:"name"`
	Capacity   int       `json:"capacity" db:"capacity"`
	FeeBase    float64   `json:"fee_base_hours" db:"fee_base_hours"`
	FeePerHour float64   `json:"fee_per_hour" db:"fee_per_hour"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryRow is the canonical parking session record: one row per vehicle
// visit, opened on entry and completed on exit.
type HistoryRow struct {
	EventID          string     `json:"event_id" db:"event_id"`
	SourceCentral    string     `json:"source_central,omitempty" db:"source_central"`
	EdgeID           string     `json:"edge_id,omitempty" db:"edge_id"`
	PlateID          string     `json:"plate_id" db:"plate_id"`
	PlateView        string     `json:"plate_view" db:"plate_view"`
	LotID            string     `json:"lot_id" db:"lot_id"`
	CameraID         string     `json:"camera_id" db:"camera_id"`
	EntryTime        time.Time  `json:"entry_time" db:"entry_time"`
	ExitTime         *time.Time `json:"exit_time,omitempty" db:"exit_time"`
	DurationSec      *int64     `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Fee              *float64   `json:"fee,omitempty" db:"fee"`
	InParking        bool       `json:"in_parking" db:"in_parking"`
	SyncStatus       string     `json:"sync_status" db:"sync_status"`
	LastLocation     string     `json:"last_location,omitempty" db:"last_location"`
	LastLocationTime *time.Time `json:"last_location_time,omitempty" db:"last_location_time"`
	IsAnomaly        bool       `json:"is_anomaly" db:"is_anomaly"`
	SyncedAt         *time.Time `json:"-" db:"synced_at"`
	RetryCount       int        `json:"-" db:"retry_count"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// HistoryChange records an administrative mutation (update or delete) made
// to a HistoryRow, for audit and for gossip re-broadcast.
type HistoryChange struct {
	ChangeID  int64     `json:"change_id" db:"change_id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Action    string    `json:"action" db:"action"` // "update" | "delete"
	Before    string    `json:"before,omitempty" db:"before_json"`
	After     string    `json:"after,omitempty" db:"after_json"`
	ChangedBy string    `json:"changed_by,omitempty" db:"changed_by"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}

// PeerStatus reflects the last-observed health of a duplex channel to a peer
// central.
type PeerStatus string

const (
	PeerStatusUnknown     PeerStatus = "unknown"
	PeerStatusConnecting  PeerStatus = "connecting"
	PeerStatusHealthy     PeerStatus = "healthy"
	PeerStatusUnhealthy   PeerStatus = "unhealthy"
	PeerStatusDisconnected PeerStatus = "disconnected"
)

// PeerRecord describes one known peer central in the mesh.
type PeerRecord struct {
	PeerID    string     `json:"peer_id" db:"peer_id"`
	Host      string     `json:"host" db:"host"`
	Port      int        `json:"port" db:"port"`
	Status    PeerStatus `json:"status" db:"status"`
	LastSeen  *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	AddedAt   time.Time  `json:"added_at" db:"added_at"`
}

// Addr renders the peer's HTTP-reachable base address.
func (p PeerRecord) Addr() string {
	return p.Host + ":" + itoa(p.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// EdgeOutboxRow is a durable record of an event an edge node has not yet
// confirmed delivered to its central.
type EdgeOutboxRow struct {
	OutboxID    int64     `json:"outbox_id" db:"outbox_id"`
	EventID     string    `json:"event_id" db:"event_id"`
	Payload     []byte    `json:"-" db:"payload"`
	RetryCount  int       `json:"retry_count" db:"retry_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	LastAttempt *time.Time `json:"last_attempt,omitempty" db:"last_attempt"`
}

// PlateVoteBucket is the edge-side aggregation of OCR votes for one
// in-flight plate sighting, keyed by camera and quantized bounding box.
type PlateVoteBucket struct {
	Key        string
	CameraID   string
	FirstSeen  time.Time
	LastSeen   time.Time
	Votes      map[string]int
	RawVotes   map[string][]string
	Committed  bool
}
