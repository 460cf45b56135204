// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package gossip implements the gossip manager (C7): the message
// catalog dispatch sitting between the duplex peer channels (C6) and
// the ingestion engine (C4), with loop suppression and a sync-request
// handshake for C11. Grounded on the reference event handler's message
// dispatch table, translated into a switch over envelope.Type the way
// the teacher's Watermill router dispatches on message metadata.
package gossip

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/cache"
	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
)

// seenCacheCapacity and seenCacheTTL bound the in-memory fast-path dedup
// cache: a full mesh of centrals (§4.5) re-delivers the same event_id to
// every peer, and checking store.EventExists for each one is a DuckDB
// round trip this cache mostly avoids.
const (
	seenCacheCapacity = 20000
	seenCacheTTL      = 5 * time.Minute
)

// Store is the subset of the persistent history store C7 touches
// directly, beyond what it hands off to ingest.Engine.
type Store interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	UpsertParkingLot(ctx context.Context, lot model.ParkingLot) error
	GetUnsyncedSince(ctx context.Context, sinceUnixMS int64, limit int) ([]model.HistoryRow, error)
	UpdateSyncState(ctx context.Context, peerID string, ts int64) error
}

// Sender delivers one envelope back to the peer a gossip frame arrived
// from — the outbound half of the duplex channel matching peerID.
type Sender interface {
	Send(peerID string, env envelope.Envelope)
}

// FanOut receives every successfully applied mutation so C9 can deliver
// it onward to frontends, edges and other peers (excluding origin).
type FanOut interface {
	Publish(ctx context.Context, env envelope.Envelope, originPeerID string) error
}

// Manager is C7. It owns no transport: p2pchannel.Handler calls
// Manager.Handle for every validated inbound frame.
type Manager struct {
	selfID string
	engine *ingest.Engine
	store  Store
	sender Sender
	fanout FanOut
	seen   *cache.LRUCache
}

// New constructs the gossip manager.
func New(selfID string, engine *ingest.Engine, st Store, sender Sender, fanout FanOut) *Manager {
	return &Manager{
		selfID: selfID, engine: engine, store: st, sender: sender, fanout: fanout,
		seen: cache.NewLRUCache(seenCacheCapacity, seenCacheTTL),
	}
}

// Handle dispatches one inbound envelope from peerID, per §4.7's
// message catalog. It is the Handler passed to p2pchannel.Channel.
func (m *Manager) Handle(ctx context.Context, peerID string, env envelope.Envelope) error {
	switch env.Type {
	case envelope.TypeVehicleEntryPending, envelope.TypeVehicleEntryConfirmed, envelope.TypeVehicleExit, envelope.TypeLocationUpdate:
		return m.handleVehicleEvent(ctx, peerID, env)
	case envelope.TypeHistoryUpdate:
		return m.handleAdminUpdate(ctx, peerID, env)
	case envelope.TypeHistoryDelete:
		return m.handleAdminDelete(ctx, peerID, env)
	case envelope.TypeParkingLotConfig:
		return m.handleLotConfig(ctx, env)
	case envelope.TypeHeartbeat:
		return nil // liveness only, no business effect
	case envelope.TypeSyncRequest:
		return m.handleSyncRequest(ctx, peerID, env)
	case envelope.TypeSyncResponse:
		return m.handleSyncResponse(ctx, peerID, env)
	case envelope.TypeError:
		logging.Warn().Str("peer_id", peerID).Bytes("data", env.Data).Msg("gossip: peer reported error envelope")
		return nil
	default:
		return fmt.Errorf("gossip: unhandled envelope type %q", env.Type)
	}
}

type vehiclePayload struct {
	PlateID   string `json:"plate_id"`
	PlateView string `json:"plate_view,omitempty"`
	LotID     string `json:"lot_id,omitempty"`
	CameraID  string `json:"camera_id,omitempty"`
	Location  string `json:"location,omitempty"`
	AtUnixMS  int64  `json:"at_unix_ms"`
}

func (m *Manager) handleVehicleEvent(ctx context.Context, peerID string, env envelope.Envelope) error {
	if env.EventID != "" {
		if m.seen.Contains(env.EventID) {
			return nil
		}
		exists, err := m.store.EventExists(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("gossip: dedup check: %w", err)
		}
		if exists {
			m.seen.Add(env.EventID, time.Now())
			return nil
		}
	}

	var payload vehiclePayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("gossip: decode vehicle payload: %w", err)
	}

	cameraType := model.CameraTypeEntry
	if env.Type == envelope.TypeVehicleExit {
		cameraType = model.CameraTypeExit
	} else if payload.CameraID == "" && payload.Location != "" {
		cameraType = model.CameraTypeParkingLot
	}

	result, err := m.engine.Apply(ctx, ingest.Input{
		Type:          env.Type,
		CameraID:      payload.CameraID,
		CameraType:    cameraType,
		LotID:         payload.LotID,
		PlateID:       payload.PlateID,
		PlateView:     payload.PlateView,
		Location:      payload.Location,
		At:            unixMSOrNow(payload.AtUnixMS),
		EventID:       env.EventID,
		SourceCentral: peerID,
	})
	if err != nil {
		return fmt.Errorf("gossip: apply vehicle event: %w", err)
	}
	if result.Deduped {
		return nil
	}

	return m.fanout.Publish(ctx, env, peerID)
}

type adminPayload struct {
	EventID      string `json:"event_id"`
	NewPlateID   string `json:"new_plate_id,omitempty"`
	NewPlateView string `json:"new_plate_view,omitempty"`
	ChangedBy    string `json:"changed_by,omitempty"`
}

func (m *Manager) handleAdminUpdate(ctx context.Context, peerID string, env envelope.Envelope) error {
	var payload adminPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("gossip: decode admin update: %w", err)
	}
	_, err := m.engine.Apply(ctx, ingest.Input{
		Type: envelope.TypeHistoryUpdate, TargetEventID: payload.EventID,
		NewPlateID: payload.NewPlateID, NewPlateView: payload.NewPlateView, ChangedBy: payload.ChangedBy,
	})
	if err != nil {
		return fmt.Errorf("gossip: apply admin update: %w", err)
	}
	return m.fanout.Publish(ctx, env, peerID)
}

func (m *Manager) handleAdminDelete(ctx context.Context, peerID string, env envelope.Envelope) error {
	var payload adminPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("gossip: decode admin delete: %w", err)
	}
	_, err := m.engine.Apply(ctx, ingest.Input{
		Type: envelope.TypeHistoryDelete, TargetEventID: payload.EventID, ChangedBy: payload.ChangedBy,
	})
	if err != nil {
		return fmt.Errorf("gossip: apply admin delete: %w", err)
	}
	return m.fanout.Publish(ctx, env, peerID)
}

func (m *Manager) handleLotConfig(ctx context.Context, env envelope.Envelope) error {
	var lot model.ParkingLot
	if err := json.Unmarshal(env.Data, &lot); err != nil {
		return fmt.Errorf("gossip: decode lot config: %w", err)
	}
	return m.store.UpsertParkingLot(ctx, lot)
}

type syncRequestPayload struct {
	SinceTimestamp int64 `json:"since_timestamp"`
}

type syncResponsePayload struct {
	Events []json.RawMessage `json:"events"`
}

// handleSyncRequest answers a peer's SYNC_REQUEST with the locally
// known rows updated after since_timestamp, oldest first, capped at 500
// rows by the limit passed to the store query.
func (m *Manager) handleSyncRequest(ctx context.Context, peerID string, env envelope.Envelope) error {
	var req syncRequestPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return fmt.Errorf("gossip: decode sync request: %w", err)
	}

	rows, err := m.store.GetUnsyncedSince(ctx, req.SinceTimestamp, 500)
	if err != nil {
		return fmt.Errorf("gossip: load sync rows: %w", err)
	}

	events := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		events = append(events, raw)
	}

	data, err := json.Marshal(syncResponsePayload{Events: events})
	if err != nil {
		return fmt.Errorf("gossip: encode sync response: %w", err)
	}

	m.sender.Send(peerID, envelope.Envelope{
		Type: envelope.TypeSyncResponse, SourceCentral: m.selfID, Timestamp: time.Now().UnixMilli(), Data: data,
	})
	return nil
}

// handleSyncResponse applies every event in a SYNC_RESPONSE straight
// through engine.Apply; handleVehicleEvent's seen cache is not
// consulted. An entry row that already exists locally is deduped by
// the engine's EventExists check. An exit row is applied as an EXIT and
// returns store.ErrNoEntry when no live IN row for its plate exists
// locally, which includes an exit that was already applied.
func (m *Manager) handleSyncResponse(ctx context.Context, peerID string, env envelope.Envelope) error {
	var resp syncResponsePayload
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return fmt.Errorf("gossip: decode sync response: %w", err)
	}

	var firstErr error
	var maxTS int64
	for _, raw := range resp.Events {
		var row model.HistoryRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		eventType := envelope.TypeVehicleEntryConfirmed
		if row.ExitTime != nil {
			eventType = envelope.TypeVehicleExit
		}
		at := rowTimestamp(row)
		_, err := m.engine.Apply(ctx, ingest.Input{
			Type: eventType, PlateID: row.PlateID, PlateView: row.PlateView, LotID: row.LotID,
			CameraID: row.CameraID, At: at, EventID: row.EventID, SourceCentral: peerID,
		})
		if err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		if ms := at.UnixMilli(); ms > maxTS {
			maxTS = ms
		}
	}
	if maxTS > 0 {
		if err := m.store.UpdateSyncState(ctx, peerID, maxTS); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gossip: update sync state: %w", err)
		}
	}
	return firstErr
}

func rowTimestamp(row model.HistoryRow) time.Time {
	if row.ExitTime != nil {
		return *row.ExitTime
	}
	return row.EntryTime
}

func unixMSOrNow(ms int64) time.Time {
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
