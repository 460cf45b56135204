// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package syncmgr implements the sync manager (C11): on every peer
// (re)connect it issues a SYNC_REQUEST since that peer's last known
// watermark, so the two centrals converge after a network partition
// without replaying the entire history table. The request/response
// wire protocol itself lives in internal/gossip, which already knows
// how to answer a SYNC_REQUEST and apply a SYNC_RESPONSE; this package
// only owns the connect-triggered handshake and its watermark lookup.
// Grounded on the reference session poller's connect-then-catch-up
// pattern, adapted from a polling loop into a one-shot per-connect
// handshake since C6 already tells us exactly when a peer is reachable.
package syncmgr

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
)

// Store is the subset of the persistent store C11 needs: the
// last-seen-from-peer watermark used to scope the catch-up request.
type Store interface {
	SyncState(ctx context.Context, peerID string) (int64, error)
}

// Sender delivers one envelope to a specific peer over its duplex
// channel, satisfied by internal/gossip.Sender / internal/p2pchannel.
type Sender interface {
	Send(peerID string, env envelope.Envelope)
}

// Manager is C11.
type Manager struct {
	selfID string
	store  Store
	sender Sender
}

// New constructs the sync manager.
func New(selfID string, st Store, sender Sender) *Manager {
	return &Manager{selfID: selfID, store: st, sender: sender}
}

// OnPeerHealthy is the internal/p2pchannel.StatusFunc hook: when a
// peer's channel transitions to healthy (initial connect or a
// reconnect after an outage), it requests everything that peer has
// seen since our last recorded watermark for it.
func (m *Manager) OnPeerHealthy(ctx context.Context, peerID string) {
	since, err := m.store.SyncState(ctx, peerID)
	if err != nil {
		logging.Warn().Str("peer_id", peerID).Err(err).Msg("syncmgr: failed to load sync watermark, requesting full history")
		since = 0
	}

	data, err := json.Marshal(syncRequestPayload{SinceTimestamp: since})
	if err != nil {
		logging.Warn().Str("peer_id", peerID).Err(err).Msg("syncmgr: failed to build sync request")
		return
	}

	m.sender.Send(peerID, envelope.Envelope{
		Type:          envelope.TypeSyncRequest,
		SourceCentral: m.selfID,
		Timestamp:     time.Now().UnixMilli(),
		Data:          data,
	})

	logging.Info().Str("peer_id", peerID).Int64("since", since).Msg("syncmgr: sent catch-up sync request")
}

type syncRequestPayload struct {
	SinceTimestamp int64 `json:"since_timestamp"`
}
