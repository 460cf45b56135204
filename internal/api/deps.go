// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package api wires §6's HTTP/WebSocket surface onto the domain
// packages: every handler in this package is a thin adapter from an
// HTTP request to a call against internal/store, internal/ingest,
// internal/wsfanout, internal/peerregistry or internal/outbox — no
// business logic is duplicated here.
package api

import (
	"context"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/parkfabric/internal/edgechannel"
	"github.com/tomtom215/parkfabric/internal/gossip"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/outbox"
	"github.com/tomtom215/parkfabric/internal/p2pchannel"
	"github.com/tomtom215/parkfabric/internal/peerregistry"
	"github.com/tomtom215/parkfabric/internal/store"
	"github.com/tomtom215/parkfabric/internal/websocket"
	"github.com/tomtom215/parkfabric/internal/wsfanout"
)

// Store is the subset of *store.Store the HTTP surface reads and writes
// directly, beyond what it hands off to ingest.Engine.
type Store interface {
	ListHistory(ctx context.Context, f store.HistoryFilter) ([]model.HistoryRow, error)
	UpdateHistoryEntry(ctx context.Context, eventID, newPlateID, newPlateView, changedBy string) error
	DeleteHistoryEntry(ctx context.Context, eventID, changedBy string) error
	FindByEventID(ctx context.Context, eventID string) (model.HistoryRow, error)
	UpsertCamera(ctx context.Context, cam model.Camera) error
	ListCameras(ctx context.Context) ([]model.Camera, error)
	ListParkingLots(ctx context.Context) ([]model.ParkingLot, error)
	GetParkingLot(ctx context.Context, lotID string) (model.ParkingLot, error)
	UpsertParkingLot(ctx context.Context, lot model.ParkingLot) error
	CountInParking(ctx context.Context, lotID string) (int, error)
	UpdateLocation(ctx context.Context, plateID, location string, at time.Time) (bool, error)
}

// Deps bundles every component a handler in this package may need.
// Fields that don't apply to a given process role (e.g. Outbox on a
// process with no edge role) may be left nil; handlers that need them
// check and respond 503 when absent.
type Deps struct {
	CentralID string

	Store  Store
	Engine *ingest.Engine
	Fanout *wsfanout.Broadcaster
	Gossip *gossip.Manager

	Peers        *peerregistry.Registry
	PeerChannels *p2pchannel.Registry
	EdgeChannels *edgechannel.Registry
	ChannelCfg   p2pchannel.Config
	EdgeCfg      edgechannel.Config

	// Outbox is non-nil only on a process also playing the edge role
	// (C12's drain loop lives on the edge side).
	Outbox *outbox.Drainer

	HistoryHub *websocket.Hub
	CameraHub  *websocket.Hub
	P2PHub     *websocket.Hub

	Upgrader gorillaws.Upgrader

	// DialPeer starts an outbound duplex channel to a newly discovered
	// peer (POST /api/p2p/add-peer), mirroring the dial wiring main()
	// performs for every configured peer at startup. It is nil when
	// this process was not given a dial context at construction time.
	DialPeer func(peerID, addr string)
}
