// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package wsfanout implements the fan-out broadcaster (C9): given one
// applied mutation and the channel it entered through, deliver it to
// frontend subscribers unconditionally, to every edge except the
// originating one, and to every peer except the originating one, gated
// on the event still being un-gossiped. Grounded on the reference
// websocket hub's BroadcastRaw/topic split, extended with the edge and
// peer registries the teacher never needed.
package wsfanout

import (
	"context"
	"fmt"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/websocket"
)

// Store is the dedup check C9 runs before re-gossiping to other peers,
// so a peer that already applied an event (via a parallel path) isn't
// handed it a second time.
type Store interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
}

// EdgeBroadcaster reaches every connected edge except one, implemented
// by internal/edgechannel.Registry.
type EdgeBroadcaster interface {
	Broadcast(env envelope.Envelope, excludeEdgeID string)
}

// PeerBroadcaster reaches every connected peer except one, implemented
// by internal/p2pchannel.Registry.
type PeerBroadcaster interface {
	Broadcast(env envelope.Envelope, excludePeerID string)
}

// Broadcaster is C9.
type Broadcaster struct {
	store      Store
	historyHub *websocket.Hub // /ws/history
	cameraHub  *websocket.Hub // /ws/cameras
	edges      EdgeBroadcaster
	peers      PeerBroadcaster
}

// New constructs the fan-out broadcaster. historyHub and cameraHub may
// be nil in tests; edges and peers may be nil, in which case that leg of
// the fan-out is skipped. cmd/central is the only caller and passes both.
func New(st Store, historyHub, cameraHub *websocket.Hub, edges EdgeBroadcaster, peers PeerBroadcaster) *Broadcaster {
	return &Broadcaster{store: st, historyHub: historyHub, cameraHub: cameraHub, edges: edges, peers: peers}
}

// Publish delivers env, which entered the fabric via a peer gossip
// frame from originPeerID. It satisfies internal/gossip.FanOut.
func (b *Broadcaster) Publish(ctx context.Context, env envelope.Envelope, originPeerID string) error {
	return b.deliver(ctx, env, envelope.Origin{Kind: envelope.OriginPeer, PeerID: originPeerID})
}

// PublishFromEdge delivers env, which entered the fabric via an edge
// duplex channel from originEdgeID.
func (b *Broadcaster) PublishFromEdge(ctx context.Context, env envelope.Envelope, originEdgeID string) error {
	return b.deliver(ctx, env, envelope.Origin{Kind: envelope.OriginEdge, EdgeID: originEdgeID})
}

// PublishLocal delivers env, which entered the fabric via this
// central's own admin API (no originating edge or peer to exclude).
func (b *Broadcaster) PublishLocal(ctx context.Context, env envelope.Envelope) error {
	return b.deliver(ctx, env, envelope.Origin{Kind: envelope.OriginLocal})
}

func (b *Broadcaster) deliver(ctx context.Context, env envelope.Envelope, origin envelope.Origin) error {
	raw, err := envelope.Marshal(env)
	if err != nil {
		return fmt.Errorf("wsfanout: marshal: %w", err)
	}

	if hub, msgType := b.hubFor(env.Type); hub != nil {
		hub.BroadcastRaw(msgType, raw)
	}

	if b.edges != nil {
		b.edges.Broadcast(env, origin.EdgeID)
	}

	if b.peers != nil {
		if b.shouldGossip(ctx, env) {
			b.peers.Broadcast(env, origin.PeerID)
		}
	}

	return nil
}

// shouldGossip reports whether env should still be relayed to other
// peers. Events without an event_id (admin config frames) always
// gossip; events with one only gossip while EventExists still reports
// true, avoiding a relay storm once every peer has converged.
func (b *Broadcaster) shouldGossip(ctx context.Context, env envelope.Envelope) bool {
	if env.EventID == "" {
		return true
	}
	exists, err := b.store.EventExists(ctx, env.EventID)
	if err != nil {
		logging.Warn().Err(err).Str("event_id", env.EventID).Msg("wsfanout: dedup check failed, gossiping anyway")
		return true
	}
	return exists
}

func (b *Broadcaster) hubFor(t envelope.Type) (*websocket.Hub, string) {
	switch t {
	case envelope.TypeVehicleEntryPending, envelope.TypeVehicleEntryConfirmed, envelope.TypeVehicleExit,
		envelope.TypeHistoryUpdate, envelope.TypeHistoryDelete:
		return b.historyHub, websocket.MessageTypeHistoryUpdate
	case envelope.TypeLocationUpdate:
		return b.cameraHub, websocket.MessageTypeLocationUpdate
	default:
		return nil, ""
	}
}
