// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/store"
)

// HandleListHistory implements GET /api/parking/history, applying the
// filters named in §6: today_only, status, in_parking_only,
// entries_only, search, plus limit/offset pagination.
func (d *Deps) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.HistoryFilter{
		TodayOnly:     q.Get("today_only") == "true",
		Status:        q.Get("status"),
		InParkingOnly: q.Get("in_parking_only") == "true",
		EntriesOnly:   q.Get("entries_only") == "true",
		Search:        q.Get("search"),
		Limit:         atoiOr(q.Get("limit"), 100),
		Offset:        atoiOr(q.Get("offset"), 0),
	}

	rows, err := d.Store.ListHistory(r.Context(), f)
	if err != nil {
		WriteDatabaseError(w, r, err)
		return
	}

	NewResponseWriter(w, r).SuccessWithPagination(rows, &PaginationMeta{
		Count:   len(rows),
		Offset:  f.Offset,
		Limit:   f.Limit,
		HasMore: len(rows) == f.Limit,
	})
}

// HandleUpdateHistory implements PUT /api/parking/history/{id}: an
// admin edit that rewrites plate_id/plate_view, records a
// HistoryChange audit row (inside internal/store), and fans the
// mutation out as HISTORY_UPDATE to peers and edges.
func (d *Deps) HandleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	eventID, err := url.QueryUnescape(chi.URLParam(r, "id"))
	if err != nil || eventID == "" {
		WriteBadRequest(w, r, "missing history id")
		return
	}

	var req historyUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := d.Engine.Apply(r.Context(), ingest.Input{
		Type:          envelope.TypeHistoryUpdate,
		TargetEventID: eventID,
		NewPlateID:    req.PlateID,
		NewPlateView:  req.PlateView,
		ChangedBy:     req.ChangedBy,
	})
	if err != nil {
		d.writeIngestError(w, r, err)
		return
	}

	d.fanOutAdmin(r, envelope.TypeHistoryUpdate, adminPayload{
		EventID: eventID, NewPlateID: req.PlateID, NewPlateView: req.PlateView, ChangedBy: req.ChangedBy,
	})

	NewResponseWriter(w, r).Success(result.Row)
}

// HandleDeleteHistory implements DELETE /api/parking/history/{id}.
func (d *Deps) HandleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	eventID, err := url.QueryUnescape(chi.URLParam(r, "id"))
	if err != nil || eventID == "" {
		WriteBadRequest(w, r, "missing history id")
		return
	}

	changedBy := r.URL.Query().Get("changed_by")
	var body historyDeleteRequest
	if r.ContentLength > 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ChangedBy != "" {
			changedBy = body.ChangedBy
		}
	}

	result, err := d.Engine.Apply(r.Context(), ingest.Input{
		Type: envelope.TypeHistoryDelete, TargetEventID: eventID, ChangedBy: changedBy,
	})
	if err != nil {
		d.writeIngestError(w, r, err)
		return
	}

	d.fanOutAdmin(r, envelope.TypeHistoryDelete, adminPayload{EventID: eventID, ChangedBy: changedBy})

	NewResponseWriter(w, r).Success(map[string]string{"event_id": result.EventID, "plate_id": result.PlateID})
}

// HandleOccupancy implements GET /api/parking/occupancy: per lot,
// capacity/occupied/available plus the currently-in vehicle list.
func (d *Deps) HandleOccupancy(w http.ResponseWriter, r *http.Request) {
	lots, err := d.Store.ListParkingLots(r.Context())
	if err != nil {
		WriteDatabaseError(w, r, err)
		return
	}

	type lotOccupancy struct {
		LotID     string              `json:"lot_id"`
		Name      string              `json:"name"`
		Capacity  int                 `json:"capacity"`
		Occupied  int                 `json:"occupied"`
		Available int                 `json:"available"`
		Vehicles  []model.HistoryRow  `json:"vehicles"`
	}

	out := make([]lotOccupancy, 0, len(lots))
	for _, lot := range lots {
		occupied, err := d.Store.CountInParking(r.Context(), lot.LotID)
		if err != nil {
			WriteDatabaseError(w, r, err)
			return
		}
		vehicles, err := d.Store.ListHistory(r.Context(), store.HistoryFilter{InParkingOnly: true, Limit: lot.Capacity + 1})
		if err != nil {
			WriteDatabaseError(w, r, err)
			return
		}
		filtered := vehicles[:0]
		for _, v := range vehicles {
			if v.LotID == lot.LotID {
				filtered = append(filtered, v)
			}
		}
		available := lot.Capacity - occupied
		if available < 0 {
			available = 0
		}
		out = append(out, lotOccupancy{
			LotID: lot.LotID, Name: lot.Name, Capacity: lot.Capacity,
			Occupied: occupied, Available: available, Vehicles: filtered,
		})
	}

	NewResponseWriter(w, r).Success(out)
}

// HandleUpsertLot implements POST and PUT /api/parking/lots, restoring
// the local parking-lot capacity/config surface dropped by the
// distillation (original_source's parking_state.py), and propagates
// the change to peers as PARKING_LOT_CONFIG.
func (d *Deps) HandleUpsertLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lot := model.ParkingLot{
		LotID: req.LotID, Name: req.Name, Capacity: req.Capacity,
		FeeBase: req.FeeBase, FeePerHour: req.FeePerHour,
	}
	if err := d.Store.UpsertParkingLot(r.Context(), lot); err != nil {
		WriteDatabaseError(w, r, err)
		return
	}

	if d.PeerChannels != nil {
		data, err := json.Marshal(lot)
		if err == nil {
			env := envelope.Envelope{Type: envelope.TypeParkingLotConfig, SourceCentral: d.CentralID, Timestamp: time.Now().UnixMilli(), Data: data}
			d.PeerChannels.Broadcast(env, "")
		}
	}

	NewResponseWriter(w, r).Success(lot)
}

type adminPayload struct {
	EventID      string `json:"event_id"`
	NewPlateID   string `json:"new_plate_id,omitempty"`
	NewPlateView string `json:"new_plate_view,omitempty"`
	ChangedBy    string `json:"changed_by,omitempty"`
}

// fanOutAdmin re-broadcasts an admin mutation to peers and edges (but
// not back to the HTTP caller, which already has its response), the
// REST-origin counterpart to gossip.Manager's handleAdminUpdate/Delete.
func (d *Deps) fanOutAdmin(r *http.Request, t envelope.Type, payload adminPayload) {
	if d.Fanout == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := envelope.Envelope{Type: t, SourceCentral: d.CentralID, Timestamp: time.Now().UnixMilli(), EventID: payload.EventID, Data: data}
	if err := d.Fanout.PublishLocal(r.Context(), env); err != nil {
		logging.Warn().Err(err).Str("event_id", payload.EventID).Msg("api: fan-out of admin mutation failed")
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
