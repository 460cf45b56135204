// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

import (
	"net/http"

	"github.com/tomtom215/parkfabric/internal/edgechannel"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/p2pchannel"
	"github.com/tomtom215/parkfabric/internal/websocket"
)

// HandleWSHistory implements GET /ws/history: a frontend subscriber
// receiving every history mutation, per the reference websocket hub's
// one-client-per-connection model.
func (d *Deps) HandleWSHistory(w http.ResponseWriter, r *http.Request) {
	d.serveHubSocket(w, r, d.HistoryHub)
}

// HandleWSCameras implements GET /ws/cameras: camera liveness and
// location-update subscribers.
func (d *Deps) HandleWSCameras(w http.ResponseWriter, r *http.Request) {
	d.serveHubSocket(w, r, d.CameraHub)
}

func (d *Deps) serveHubSocket(w http.ResponseWriter, r *http.Request, hub *websocket.Hub) {
	if hub == nil {
		http.Error(w, "websocket hub not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := d.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("api: websocket upgrade failed")
		return
	}
	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()
}

// HandleWSPeer implements GET /ws/p2p: the accept side of the duplex
// peer channel (C6), matching the outbound half every configured peer
// dials toward this central.
func (d *Deps) HandleWSPeer(w http.ResponseWriter, r *http.Request) {
	conn, err := d.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("api: websocket upgrade failed for /ws/p2p")
		return
	}
	if d.PeerChannels == nil || d.Gossip == nil {
		conn.Close()
		return
	}
	p2pchannel.Accept(r.Context(), conn, d.CentralID, d.ChannelCfg, d.PeerChannels, d.Gossip.Handle, func(peerID string, status model.PeerStatus) {
		if d.Peers != nil {
			d.Peers.SetPeerStatus(peerID, status)
		}
		if d.P2PHub != nil {
			d.P2PHub.BroadcastPeerStatus(peerID, string(status))
		}
	})
}

// HandleWSEdge implements GET /ws/edge: the accept side of the edge
// duplex channel (C8).
func (d *Deps) HandleWSEdge(w http.ResponseWriter, r *http.Request) {
	conn, err := d.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("api: websocket upgrade failed for /ws/edge")
		return
	}
	if d.EdgeChannels == nil || d.Gossip == nil {
		conn.Close()
		return
	}
	edgechannel.Accept(r.Context(), conn, d.EdgeCfg, d.EdgeChannels, d.Gossip.Handle)
}
