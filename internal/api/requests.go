// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

// heartbeatRequest is the body of POST /api/edge/heartbeat.
type heartbeatRequest struct {
	CameraID     string `json:"camera_id" validate:"required"`
	CameraName   string `json:"camera_name"`
	CameraType   string `json:"camera_type" validate:"required,oneof=entry exit parking_lot"`
	LotID        string `json:"lot_id"`
	EventsSent   int64  `json:"events_sent"`
	EventsFailed int64  `json:"events_failed"`
}

// ocrRequest is the body of POST /api/edge/ocr.
type ocrRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	CameraID   string `json:"camera_id" validate:"required"`
	CameraName string `json:"camera_name"`
	PlateText  string `json:"plate_text" validate:"required"`
	Timestamp  int64  `json:"timestamp"`
}

// historyUpdateRequest is the body of PUT /api/parking/history/{id}.
type historyUpdateRequest struct {
	PlateID   string `json:"plate_id" validate:"required"`
	PlateView string `json:"plate_view"`
	ChangedBy string `json:"changed_by"`
}

// historyDeleteRequest is the (optional) body of DELETE /api/parking/history/{id}.
type historyDeleteRequest struct {
	ChangedBy string `json:"changed_by"`
}

// lotRequest is the body of POST/PUT /api/parking/lots.
type lotRequest struct {
	LotID      string  `json:"lot_id" validate:"required"`
	Name       string  `json:"name"`
	Capacity   int     `json:"capacity" validate:"min=0"`
	FeeBase    float64 `json:"fee_base_hours" validate:"min=0"`
	FeePerHour float64 `json:"fee_per_hour" validate:"min=0"`
}

// registerPeerRequest is the body of POST /api/p2p/register-peer and
// POST /api/p2p/unregister-peer.
type registerPeerRequest struct {
	PeerID string `json:"peer_id" validate:"required"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// addPeerRequest is the body of POST /api/p2p/add-peer: the caller
// supplies only the reachable address; this central resolves the
// peer's own id by calling its /api/p2p/info before adding it, per
// §4.5's bidirectional add-peer handshake.
type addPeerRequest struct {
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"required,min=1"`
}
