// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/peerregistry"
)

// HandleRegisterPeer implements POST /api/p2p/register-peer: a remote
// central announces itself to us, the receiving half of §4.5's
// bidirectional add-peer handshake.
func (d *Deps) HandleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerPeerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	d.Peers.AddPeer(model.PeerRecord{
		PeerID: req.PeerID, Host: req.Host, Port: req.Port,
		Status: model.PeerStatusConnecting, AddedAt: now, LastSeen: &now,
	})

	if d.DialPeer != nil && req.Host != "" {
		d.DialPeer(req.PeerID, "http://"+peerregistry.Addr(req.Host, req.Port))
	}

	selfID, _, _ := d.Peers.Self()
	NewResponseWriter(w, r).Success(map[string]string{"registered": req.PeerID, "self_id": selfID})
}

// HandleUnregisterPeer implements POST /api/p2p/unregister-peer.
func (d *Deps) HandleUnregisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerPeerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	d.Peers.RemovePeer(req.PeerID)
	if d.PeerChannels != nil {
		d.PeerChannels.Remove(req.PeerID)
	}
	NewResponseWriter(w, r).Success(map[string]string{"unregistered": req.PeerID})
}

// peerInfoResponse is both what GET /api/p2p/info returns and what
// HandleAddPeer parses back from the remote side's /info endpoint to
// learn its peer id before registering it.
type peerInfoResponse struct {
	SelfID        string             `json:"self_id"`
	SelfHost      string             `json:"self_host"`
	SelfPort      int                `json:"self_port"`
	ConnectedPeers int               `json:"connected_peers"`
	Peers         []model.PeerRecord `json:"peers"`
}

// HandleP2PInfo implements GET /api/p2p/info, restoring the original's
// richer status payload (connected-peer count, per-peer last-seen)
// beyond a bare self id/ip.
func (d *Deps) HandleP2PInfo(w http.ResponseWriter, r *http.Request) {
	selfID, selfIP, selfPort := d.Peers.Self()
	peers := d.Peers.Peers()
	connected := 0
	for _, p := range peers {
		if p.Status == model.PeerStatusHealthy {
			connected++
		}
	}
	NewResponseWriter(w, r).Success(peerInfoResponse{
		SelfID: selfID, SelfHost: selfIP, SelfPort: selfPort,
		ConnectedPeers: connected, Peers: peers,
	})
}

// HandleAddPeer implements POST /api/p2p/add-peer: given only a
// reachable host:port, this central resolves the remote's own peer id
// by calling its /api/p2p/info, registers it locally, dials an
// outbound duplex channel, and announces itself back via the remote's
// /api/p2p/register-peer — completing §4.5's bidirectional handshake
// from a single API call.
func (d *Deps) HandleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req addPeerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	addr := peerregistry.Addr(req.Host, req.Port)
	client := http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/api/p2p/info", addr))
	if err != nil {
		NewResponseWriter(w, r).ExternalServiceError("peer", err)
		return
	}
	defer resp.Body.Close()

	var wrapped struct {
		Data peerInfoResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		NewResponseWriter(w, r).ExternalServiceError("peer", err)
		return
	}
	remoteID := wrapped.Data.SelfID
	if remoteID == "" {
		WriteBadRequest(w, r, "peer did not return a self id")
		return
	}

	now := time.Now().UTC()
	d.Peers.AddPeer(model.PeerRecord{
		PeerID: remoteID, Host: req.Host, Port: req.Port,
		Status: model.PeerStatusConnecting, AddedAt: now, LastSeen: &now,
	})

	if d.DialPeer != nil {
		d.DialPeer(remoteID, "http://"+addr)
	}

	selfID, selfIP, selfPort := d.Peers.Self()
	payload, _ := json.Marshal(registerPeerRequest{PeerID: selfID, Host: selfIP, Port: selfPort})
	announceResp, err := client.Post(fmt.Sprintf("http://%s/api/p2p/register-peer", addr), "application/json", bytes.NewReader(payload))
	if err != nil {
		logging.Warn().Err(err).Str("peer_id", remoteID).Msg("api: failed to announce self to new peer")
	} else {
		announceResp.Body.Close()
	}

	NewResponseWriter(w, r).Success(map[string]string{"peer_id": remoteID, "addr": addr})
}
