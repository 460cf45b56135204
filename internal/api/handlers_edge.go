// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/plate"
	"github.com/tomtom215/parkfabric/internal/store"
	"github.com/tomtom215/parkfabric/internal/validation"
)

// vehiclePayload mirrors internal/gossip's unexported payload shape:
// the Data carried by VEHICLE_ENTRY_PENDING/CONFIRMED/EXIT/LOCATION_UPDATE
// envelopes, whether they arrive over a duplex channel or this REST
// fallback.
type vehiclePayload struct {
	PlateID   string `json:"plate_id"`
	PlateView string `json:"plate_view,omitempty"`
	LotID     string `json:"lot_id,omitempty"`
	CameraID  string `json:"camera_id,omitempty"`
	Location  string `json:"location,omitempty"`
	AtUnixMS  int64  `json:"at_unix_ms"`
}

// HandleEdgeEvent implements POST /api/edge/event: the REST fallback
// for an edge node without a duplex channel. The body is one envelope
// carrying a vehicle-lifecycle event; it is applied through the same
// ingestion engine C8's inbound frames use, then fanned out excluding
// the submitting edge.
func (d *Deps) HandleEdgeEvent(w http.ResponseWriter, r *http.Request) {
	edgeID := r.Header.Get("X-Edge-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, r, "failed to read request body")
		return
	}
	env, err := envelope.Unmarshal(body)
	if err != nil {
		WriteBadRequest(w, r, "malformed envelope")
		return
	}
	if err := env.Validate(); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	switch env.Type {
	case envelope.TypeVehicleEntryPending, envelope.TypeVehicleEntryConfirmed, envelope.TypeVehicleExit, envelope.TypeLocationUpdate:
	default:
		WriteBadRequest(w, r, "unsupported envelope type for edge event ingest")
		return
	}

	var payload vehiclePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		WriteBadRequest(w, r, "malformed envelope data")
		return
	}

	cameraType := model.CameraTypeEntry
	switch {
	case env.Type == envelope.TypeVehicleExit:
		cameraType = model.CameraTypeExit
	case payload.CameraID == "" && payload.Location != "":
		cameraType = model.CameraTypeParkingLot
	}

	result, err := d.Engine.Apply(r.Context(), ingest.Input{
		Type: env.Type, CameraID: payload.CameraID, CameraType: cameraType,
		LotID: payload.LotID, PlateID: payload.PlateID, PlateView: payload.PlateView,
		Location: payload.Location, At: unixMSOrNow(payload.AtUnixMS),
		EventID: env.EventID, SourceEdge: edgeID,
	})
	if err != nil {
		d.writeIngestError(w, r, err)
		return
	}

	if !result.Deduped && d.Fanout != nil {
		if err := d.Fanout.PublishFromEdge(r.Context(), env, edgeID); err != nil {
			logging.Warn().Err(err).Str("edge_id", edgeID).Msg("api: fan-out after edge event failed")
		}
	}

	NewResponseWriter(w, r).Success(map[string]any{
		"event_id": result.EventID,
		"deduped":  result.Deduped,
	})
}

// HandleEdgeHeartbeat implements POST /api/edge/heartbeat: registers
// or refreshes a camera's liveness, restoring the camera
// heartbeat/registry feature dropped by the distillation.
func (d *Deps) HandleEdgeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := d.Store.UpsertCamera(r.Context(), model.Camera{
		CameraID:   req.CameraID,
		LotID:      req.LotID,
		CameraType: model.CameraType(req.CameraType),
		Label:      req.CameraName,
	}); err != nil {
		WriteDatabaseError(w, r, err)
		return
	}

	if d.CameraHub != nil {
		d.CameraHub.BroadcastEdgeStatus(req.CameraID, "online")
	}

	NewResponseWriter(w, r).Success(map[string]any{
		"camera_id": req.CameraID,
		"status":    "online",
	})
}

// HandleEdgeOCR implements POST /api/edge/ocr: a plate sighting from a
// parking-lot camera arriving without going through C2's per-camera
// vote tracker (it ran, if at all, on the edge process itself). This
// path only ever touches an already-parked vehicle's last known
// location, per §6's documented 200/404/400 contract.
func (d *Deps) HandleEdgeOCR(w http.ResponseWriter, r *http.Request) {
	var req ocrRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	plateID := plate.Normalize(req.PlateText)
	if plateID == "" || !plate.Validate(plateID) {
		WriteBadRequest(w, r, "invalid plate text")
		return
	}

	at := unixMSOrNow(req.Timestamp)
	ok, err := d.Store.UpdateLocation(r.Context(), plateID, req.CameraName, at)
	if err != nil {
		WriteDatabaseError(w, r, err)
		return
	}
	if !ok {
		WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "vehicle not currently in parking")
		return
	}

	if d.Fanout != nil {
		data, _ := json.Marshal(vehiclePayload{PlateID: plateID, CameraID: req.CameraID, Location: req.CameraName, AtUnixMS: at.UnixMilli()})
		env := envelope.Envelope{Type: envelope.TypeLocationUpdate, SourceCentral: d.CentralID, Timestamp: time.Now().UnixMilli(), Data: data}
		if err := d.Fanout.PublishLocal(r.Context(), env); err != nil {
			logging.Warn().Err(err).Str("plate_id", plateID).Msg("api: fan-out after OCR location update failed")
		}
	}

	NewResponseWriter(w, r).Success(map[string]any{"plate_id": plateID, "updated": true})
}

// HandleEdgeStatus implements GET /api/edge/status: the edge-local
// outbox depth/exhausted-rows signal restored from original_source's
// central_sync status reporting. Only meaningful on a process running
// the edge role; returns 503 otherwise.
func (d *Deps) HandleEdgeStatus(w http.ResponseWriter, r *http.Request) {
	if d.Outbox == nil {
		NewResponseWriter(w, r).ServiceUnavailable("this process has no edge outbox configured")
		return
	}
	status, err := d.Outbox.CurrentStatus(r.Context())
	if err != nil {
		WriteInternalError(w, r, "failed to read outbox status")
		return
	}
	NewResponseWriter(w, r).Success(map[string]any{
		"pending_count":   status.PendingCount,
		"exhausted_count": status.ExhaustedCount,
	})
}

// writeIngestError translates a typed ingest/store error into the
// appropriate REST status, per §7's error taxonomy.
func (d *Deps) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrAlreadyInside):
		NewResponseWriter(w, r).Conflict(err.Error())
	case errors.Is(err, store.ErrNoEntry), errors.Is(err, store.ErrNotFound):
		NewResponseWriter(w, r).NotFound(err.Error())
	case errors.Is(err, ingest.ErrUnsupportedTransition):
		WriteBadRequest(w, r, err.Error())
	default:
		WriteDatabaseError(w, r, err)
	}
}

// decodeAndValidate decodes r.Body as JSON into dst and runs struct
// validation tags, writing the appropriate error response and
// returning false on either failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, r, "invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		NewResponseWriter(w, r).ValidationError(apiErr.Message, verr.Errors())
		return false
	}
	return true
}

// unixMSOrNow converts a unix-millisecond timestamp to time.Time,
// substituting the current time when ms is zero (a locally observed
// event that never carried an explicit timestamp).
func unixMSOrNow(ms int64) time.Time {
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
