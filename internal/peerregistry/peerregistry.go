// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package peerregistry implements the peer registry (C5): this central's
// own identity, the set of known peer centrals, self-IP auto-discovery,
// and the bidirectional add-peer handshake. Grounded on the reference
// P2PConfig's default-config/validate/save shape, translated from a
// JSON-file-backed config object into an in-memory registry fronted by
// internal/config for the on-disk layer.
package peerregistry

import (
	"fmt"
	"net"
	"sync"

	"github.com/tomtom215/parkfabric/internal/model"
)

// Registry holds this central's identity and the live peer set. It is
// safe for concurrent use. Nothing diffs it against a reloaded peer
// configuration: outbound channels are dialed at startup for the
// configured peers and for peers added at runtime.
type Registry struct {
	mu sync.RWMutex

	selfID   string
	selfIP   string
	selfPort int

	peers map[string]model.PeerRecord
}

// New constructs a registry for this central's identity.
func New(selfID, selfIP string, selfPort int) *Registry {
	return &Registry{
		selfID:   selfID,
		selfIP:   selfIP,
		selfPort: selfPort,
		peers:    make(map[string]model.PeerRecord),
	}
}

// Self returns this central's identity tuple.
func (r *Registry) Self() (id, ip string, port int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfID, r.selfIP, r.selfPort
}

// Peers returns a snapshot of all known peers.
func (r *Registry) Peers() []model.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PeerRecord, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Peer returns one peer record by id.
func (r *Registry) Peer(peerID string) (model.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// AddPeer registers (or updates) a peer record, keyed by peer id. This is
// invoked both when a peer is added locally (by IP, after resolving its
// id from /info) and when a remote central calls our /register-peer.
func (r *Registry) AddPeer(p model.PeerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.PeerID] = p
}

// RemovePeer drops a peer from the registry (unregister-peer).
func (r *Registry) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}

// SetPeerStatus updates the liveness status of a known peer, used by C6
// on connect/disconnect/heartbeat-timeout transitions.
func (r *Registry) SetPeerStatus(peerID string, status model.PeerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		p.Status = status
		r.peers[peerID] = p
	}
}

// DiscoverSelfIP dials a UDP socket toward a public address (no packet is
// actually sent) and reads back the local address the kernel selected, a
// zero-cost way to learn the outbound-facing interface IP. It falls back
// to loopback if the dial fails, e.g. in a fully offline sandbox.
func DiscoverSelfIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// Addr renders a peer's base HTTP address for REST calls (/info,
// /register-peer) and as the dial target for C6.
func Addr(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}
