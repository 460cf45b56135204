// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package ingest implements the event ingestion state machine (C4): the
// single point where an (event_type, camera_type) pair is turned into a
// mutation of the persistent history store, under the dedup and
// IN-row-uniqueness invariants, and into a canonical envelope that C9
// fans out. Grounded on the reference event handler's dispatch table —
// translated here from a dict-of-callables into a Go switch over
// envelope.Type, the idiom the teacher's own router uses for message
// dispatch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/parkfabric/internal/conflict"
	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/fee"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/store"
)

// Store is the subset of *store.Store the engine needs, narrowed to an
// interface so this package can be unit tested against a fake.
type Store interface {
	AppendEntry(ctx context.Context, row model.HistoryRow) (model.HistoryRow, error)
	CompleteExit(ctx context.Context, plateID string, exitTime time.Time, durationSec int64, fee float64) (model.HistoryRow, bool, error)
	FindInParking(ctx context.Context, plateID string) (model.HistoryRow, error)
	FindByEventID(ctx context.Context, eventID string) (model.HistoryRow, error)
	EventExists(ctx context.Context, eventID string) (bool, error)
	UpdateLocation(ctx context.Context, plateID, location string, at time.Time) (bool, error)
	CreateFromParkingLot(ctx context.Context, eventID, plateID, lotID, location string, at time.Time) (model.HistoryRow, error)
	UpdateHistoryEntry(ctx context.Context, eventID, newPlateID, newPlateView, changedBy string) error
	DeleteHistoryEntry(ctx context.Context, eventID, changedBy string) error
	DeleteConflictLosingEntry(ctx context.Context, eventID string) error
}

// Input is one event offered to the engine, already decoded from an
// edge report, a peer gossip frame, or an admin API call.
type Input struct {
	Type       envelope.Type
	CameraID   string
	CameraType model.CameraType
	LotID      string
	PlateID    string
	PlateView  string
	Location   string
	At         time.Time
	EventID    string // optional; generated for ENTRY when empty

	SourceCentral string // set when the event arrived via peer gossip (C7)
	SourceEdge    string // set when the event arrived via an edge duplex channel (C8)

	// Admin-only fields, used by UPDATE/DELETE.
	TargetEventID string
	NewPlateID    string
	NewPlateView  string
	ChangedBy     string
}

// Result is the canonical outcome C9 fans out, and what callers use to
// decide whether a response indicates a fresh mutation or a no-op dedup.
type Result struct {
	Kind      envelope.Type
	EventID   string
	PlateID   string
	PlateView string
	LotID     string
	CameraID  string
	Row       model.HistoryRow
	Deduped   bool
}

// EventSink receives every successfully applied, non-deduped result,
// fire-and-forget, for an out-of-band consumer such as an audit log.
// Satisfied by a thin adapter over *bus.Bus.
type EventSink interface {
	PublishEvent(result Result)
}

// Engine is C4: the event ingestion state machine.
type Engine struct {
	store     Store
	fees      *fee.Cache
	centralID string
	sink      EventSink
}

// New constructs the ingestion engine for this central.
func New(st Store, fees *fee.Cache, centralID string) *Engine {
	return &Engine{store: st, fees: fees, centralID: centralID}
}

// SetEventSink attaches an out-of-band publish target; nil (the
// default) makes Apply a pure store mutation with no side channel.
func (e *Engine) SetEventSink(sink EventSink) {
	e.sink = sink
}

// Apply dispatches in on the (event_type, camera_type) transition table
// from §4.4 and returns the canonical result C9 fans out.
func (e *Engine) Apply(ctx context.Context, in Input) (Result, error) {
	result, err := e.apply(ctx, in)
	if err == nil && !result.Deduped && e.sink != nil {
		e.sink.PublishEvent(result)
	}
	return result, err
}

func (e *Engine) apply(ctx context.Context, in Input) (Result, error) {
	switch in.Type {
	case envelope.TypeVehicleEntryPending, envelope.TypeVehicleEntryConfirmed:
		if in.CameraType == model.CameraTypeParkingLot {
			return e.applyParkingLotSighting(ctx, in, false)
		}
		return e.applyEntry(ctx, in)
	case envelope.TypeLocationUpdate:
		return e.applyParkingLotSighting(ctx, in, true)
	case envelope.TypeVehicleExit:
		return e.applyExit(ctx, in)
	case envelope.TypeHistoryUpdate:
		return e.applyUpdate(ctx, in)
	case envelope.TypeHistoryDelete:
		return e.applyDelete(ctx, in)
	default:
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedTransition, in.Type, in.CameraType)
	}
}

func (e *Engine) applyEntry(ctx context.Context, in Input) (Result, error) {
	eventID := in.EventID
	if eventID == "" {
		eventID = envelope.NewEventID(e.centralID, in.At.UnixMilli(), in.PlateID)
	}

	if exists, err := e.store.EventExists(ctx, eventID); err != nil {
		return Result{}, err
	} else if exists {
		return Result{Kind: in.Type, EventID: eventID, PlateID: in.PlateID, Deduped: true}, nil
	}

	row := model.HistoryRow{
		EventID:       eventID,
		PlateID:       in.PlateID,
		PlateView:     firstNonEmpty(in.PlateView, in.PlateID),
		LotID:         in.LotID,
		CameraID:      in.CameraID,
		EntryTime:     in.At,
		SourceCentral: in.SourceCentral,
		EdgeID:        in.SourceEdge,
	}
	if in.SourceCentral != "" {
		row.SyncStatus = "SYNCED"
	}

	written, err := e.store.AppendEntry(ctx, row)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyInside) {
			resolved, resolveErr := e.resolveEntryConflict(ctx, in, eventID)
			if resolveErr != nil {
				return Result{}, resolveErr
			}
			if resolved {
				return e.applyEntry(ctx, in)
			}
			return Result{Kind: in.Type, EventID: eventID, PlateID: in.PlateID, Deduped: true}, nil
		}
		return Result{}, err
	}

	return Result{
		Kind: in.Type, EventID: written.EventID, PlateID: written.PlateID,
		PlateView: written.PlateView, LotID: written.LotID, CameraID: written.CameraID, Row: written,
	}, nil
}

// resolveEntryConflict applies C10's deterministic tie-break when two
// centrals independently opened an IN row for the same plate before
// gossip converged them. It returns true when the existing row was the
// loser and the caller should retry AppendEntry.
func (e *Engine) resolveEntryConflict(ctx context.Context, in Input, incomingEventID string) (bool, error) {
	existing, err := e.store.FindInParking(ctx, in.PlateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	outcome, err := conflict.Resolve(ctx, e.store, existing, incomingEventID)
	if err != nil {
		return false, err
	}
	return outcome == conflict.ReplaceWithIncoming, nil
}

func (e *Engine) applyParkingLotSighting(ctx context.Context, in Input, locationUpdateOnly bool) (Result, error) {
	existing, err := e.store.FindInParking(ctx, in.PlateID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	if err == nil {
		if ok, uerr := e.store.UpdateLocation(ctx, in.PlateID, in.Location, in.At); uerr != nil {
			return Result{}, uerr
		} else if ok {
			existing.LastLocation = in.Location
			existing.LastLocationTime = &in.At
			return Result{
				Kind: envelope.TypeLocationUpdate, EventID: existing.EventID, PlateID: in.PlateID,
				LotID: existing.LotID, CameraID: in.CameraID, Row: existing,
			}, nil
		}
	}

	if locationUpdateOnly {
		logging.Debug().Str("plate_id", in.PlateID).Msg("ingest: location update for plate not currently in parking, ignoring")
		return Result{Kind: envelope.TypeLocationUpdate, PlateID: in.PlateID, Deduped: true}, nil
	}

	eventID := in.EventID
	if eventID == "" {
		eventID = envelope.NewEventID(e.centralID, in.At.UnixMilli(), in.PlateID)
	}
	row, err := e.store.CreateFromParkingLot(ctx, eventID, in.PlateID, in.LotID, in.Location, in.At)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Kind: envelope.TypeVehicleEntryConfirmed, EventID: row.EventID, PlateID: row.PlateID,
		LotID: row.LotID, CameraID: in.CameraID, Row: row,
	}, nil
}

func (e *Engine) applyExit(ctx context.Context, in Input) (Result, error) {
	existing, err := e.findExitTarget(ctx, in)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, store.ErrNoEntry
		}
		return Result{}, err
	}

	params := fee.Params{BaseHours: 0.5, PerHour: 25000}
	if e.fees != nil {
		params = e.fees.Params(in.At)
	}
	durationSec, computedFee := fee.Compute(params, existing.EntryTime, in.At)

	row, ok, err := e.store.CompleteExit(ctx, in.PlateID, in.At, durationSec, computedFee)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, store.ErrNoEntry
	}

	return Result{
		Kind: envelope.TypeVehicleExit, EventID: row.EventID, PlateID: row.PlateID,
		LotID: row.LotID, CameraID: in.CameraID, Row: row,
	}, nil
}

// findExitTarget resolves the IN row an EXIT event applies to. A
// peer-relayed exit carries the original event_id, so it is tried
// first per §4.7; a locally observed exit has no event_id yet and
// falls straight through to the plate lookup.
func (e *Engine) findExitTarget(ctx context.Context, in Input) (model.HistoryRow, error) {
	if in.EventID != "" {
		if row, err := e.store.FindByEventID(ctx, in.EventID); err == nil {
			return row, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return model.HistoryRow{}, err
		}
	}
	return e.store.FindInParking(ctx, in.PlateID)
}

func (e *Engine) applyUpdate(ctx context.Context, in Input) (Result, error) {
	eventID, err := e.resolveTargetEventID(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if err := e.store.UpdateHistoryEntry(ctx, eventID, in.NewPlateID, firstNonEmpty(in.NewPlateView, in.NewPlateID), in.ChangedBy); err != nil {
		return Result{}, err
	}
	row, err := e.store.FindByEventID(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: envelope.TypeHistoryUpdate, EventID: eventID, PlateID: row.PlateID, LotID: row.LotID, Row: row}, nil
}

func (e *Engine) applyDelete(ctx context.Context, in Input) (Result, error) {
	eventID, err := e.resolveTargetEventID(ctx, in)
	if err != nil {
		return Result{}, err
	}
	row, err := e.store.FindByEventID(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if err := e.store.DeleteHistoryEntry(ctx, eventID, in.ChangedBy); err != nil {
		return Result{}, err
	}
	return Result{Kind: envelope.TypeHistoryDelete, EventID: eventID, PlateID: row.PlateID, LotID: row.LotID, Row: row}, nil
}

// resolveTargetEventID resolves an admin mutation's target row by
// event_id, since the API layer's history_id path param is mapped to
// event_id before the request ever reaches the engine.
func (e *Engine) resolveTargetEventID(_ context.Context, in Input) (string, error) {
	if in.TargetEventID == "" {
		return "", fmt.Errorf("%w: missing target event_id", ErrUnsupportedTransition)
	}
	return in.TargetEventID, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
