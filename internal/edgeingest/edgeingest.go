// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package edgeingest is the edge process's local HTTP surface: the one
// endpoint a camera worker or OCR sidecar posts raw per-frame detections
// to. It is the wiring internal/tracker (C2) never had a caller for -
// one Tracker per configured camera, fed here and drained into the
// outbox (C12) on every committed, forwardable plate.
package edgeingest

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/api"
	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/outbox"
	"github.com/tomtom215/parkfabric/internal/tracker"
	"github.com/tomtom215/parkfabric/internal/validation"
)

// Camera binds a configured camera to its role and lot, resolved once
// at startup from config.EdgeCameraConfig.
type Camera struct {
	ID         string
	LotID      string
	CameraType model.CameraType
}

// vehiclePayload mirrors internal/api's unexported vehiclePayload shape
// so envelopes built here decode identically on the central side.
type vehiclePayload struct {
	PlateID   string `json:"plate_id"`
	PlateView string `json:"plate_view,omitempty"`
	LotID     string `json:"lot_id,omitempty"`
	CameraID  string `json:"camera_id,omitempty"`
	Location  string `json:"location,omitempty"`
	AtUnixMS  int64  `json:"at_unix_ms"`
}

// voteRequest is the body of POST /ocr: one raw OCR candidate for one
// frame, quantized bbox included so the tracker can bucket it.
type voteRequest struct {
	CameraID  string  `json:"camera_id" validate:"required"`
	PlateText string  `json:"plate_text" validate:"required"`
	BBoxX     float64 `json:"bbox_x"`
	BBoxY     float64 `json:"bbox_y"`
	BBoxW     float64 `json:"bbox_w"`
	BBoxH     float64 `json:"bbox_h"`
	Timestamp int64   `json:"timestamp"`
}

// Handler owns one tracker.Tracker per configured camera and feeds
// every committed, forwardable result into the outbox drainer.
type Handler struct {
	edgeID  string
	drainer *outbox.Drainer

	mu       sync.Mutex
	cameras  map[string]Camera
	trackers map[string]*tracker.Tracker
	cfg      tracker.Config
}

// NewHandler builds the per-camera tracker set from cams and binds
// drainer as the delivery target for every committed vote.
func NewHandler(edgeID string, cams []Camera, cfg tracker.Config, drainer *outbox.Drainer) *Handler {
	h := &Handler{
		edgeID:   edgeID,
		drainer:  drainer,
		cameras:  make(map[string]Camera, len(cams)),
		trackers: make(map[string]*tracker.Tracker, len(cams)),
		cfg:      cfg,
	}
	for _, c := range cams {
		h.cameras[c.ID] = c
		h.trackers[c.ID] = tracker.New(cfg)
	}
	return h
}

// NewRouter builds the edge's local HTTP surface on top of h.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		api.NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/ocr", h.HandleVote)
	mux.HandleFunc("/api/edge/status", h.HandleStatus)
	return h.withMiddleware(mux)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return api.RequestIDWithLogging()(api.APISecurityHeaders()(next))
}

// HandleVote implements POST /ocr: one raw OCR vote is fed to its
// camera's tracker; a committed, forwardable result is enqueued onto
// the outbox for durable delivery to central.
func (h *Handler) HandleVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req voteRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, r, "invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		api.NewResponseWriter(w, r).ValidationError(apiErr.Message, verr.Errors())
		return
	}

	h.mu.Lock()
	cam, known := h.cameras[req.CameraID]
	trk := h.trackers[req.CameraID]
	h.mu.Unlock()
	if !known {
		api.WriteBadRequest(w, r, "unknown camera_id")
		return
	}

	at := time.Now().UTC()
	if req.Timestamp != 0 {
		at = time.UnixMilli(req.Timestamp).UTC()
	}

	result, committed, forward := trk.Observe(tracker.Vote{
		CameraID: req.CameraID,
		BBox:     tracker.BBox{X: req.BBoxX, Y: req.BBoxY, W: req.BBoxW, H: req.BBoxH},
		Text:     req.PlateText,
		At:       at,
	})
	if !committed || !forward {
		api.NewResponseWriter(w, r).Success(map[string]any{"committed": false})
		return
	}

	env, err := h.buildEnvelope(cam, result, at)
	if err != nil {
		api.WriteInternalError(w, r, "failed to build event envelope")
		return
	}

	if _, err := h.drainer.Enqueue(r.Context(), h.edgeID, env); err != nil {
		logging.Warn().Str("camera_id", req.CameraID).Err(err).Msg("edgeingest: failed to enqueue outbox entry")
		api.WriteInternalError(w, r, "failed to queue event for delivery")
		return
	}

	api.NewResponseWriter(w, r).Success(map[string]any{
		"committed":  true,
		"plate_id":   result.PlateID,
		"plate_view": result.PlateView,
	})
}

// buildEnvelope picks the wire event type from the camera's configured
// role, per §4.4's entry/exit/parking-lot dispatch table.
func (h *Handler) buildEnvelope(cam Camera, result tracker.Result, at time.Time) (envelope.Envelope, error) {
	evType := envelope.TypeVehicleEntryConfirmed
	switch cam.CameraType {
	case model.CameraTypeExit:
		evType = envelope.TypeVehicleExit
	case model.CameraTypeParkingLot:
		evType = envelope.TypeLocationUpdate
	}

	payload := vehiclePayload{
		PlateID: result.PlateID, PlateView: result.PlateView,
		LotID: cam.LotID, CameraID: cam.ID, AtUnixMS: at.UnixMilli(),
	}
	if cam.CameraType == model.CameraTypeParkingLot {
		payload.Location = cam.ID
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return envelope.Envelope{}, err
	}

	eventID := envelope.NewEventID(h.edgeID, at.UnixMilli(), result.PlateID)
	return envelope.Envelope{
		Type: evType, SourceEdge: h.edgeID, Timestamp: at.UnixMilli(),
		EventID: eventID, Data: data,
	}, nil
}

// HandleStatus implements GET /api/edge/status: the local outbox
// depth/exhausted-rows signal, same contract as the central-side
// fallback in internal/api.HandleEdgeStatus.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.drainer.CurrentStatus(r.Context())
	if err != nil {
		api.WriteInternalError(w, r, "failed to read outbox status")
		return
	}
	api.NewResponseWriter(w, r).Success(map[string]any{
		"pending_count":   status.PendingCount,
		"exhausted_count": status.ExhaustedCount,
	})
}
