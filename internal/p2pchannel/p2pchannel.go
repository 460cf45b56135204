// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package p2pchannel implements the duplex peer channel (C6): one
// long-lived bidirectional message stream per peer, with an
// identification handshake, application-level heartbeats, transport
// keepalive pings, and fixed-interval reconnect. Grounded on the
// reference PlexWebSocketClient's connect/listen/pingLoop/reconnect
// split, with one deliberate departure: the teacher backs off
// exponentially (1s doubling to 32s) on reconnect, but §4.6 specifies a
// fixed 10-second backoff for peer reconnection, which this package
// follows instead.
package p2pchannel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
)

// Config controls channel liveness timing, sourced from
// internal/config's ChannelConfig.
type Config struct {
	HeartbeatInterval    time.Duration
	KeepaliveTimeout     time.Duration
	ReconnectBackoff     time.Duration
	MissedBeatsUnhealthy int
}

// identFrame is the very first message sent on a freshly dialed
// connection, ahead of any envelope traffic.
type identFrame struct {
	PeerID string `json:"peer_id"`
}

// Handler processes one inbound envelope from a peer. Returning an
// error does not close the channel; the caller logs it and continues,
// per §7's in-band error propagation policy.
type Handler func(ctx context.Context, peerID string, env envelope.Envelope) error

// StatusFunc is notified of peer status transitions, so the caller (C5)
// can update the peer registry without p2pchannel importing it.
type StatusFunc func(peerID string, status model.PeerStatus)

// Channel manages one peer connection's full lifecycle: dial, identify,
// read/write pumps, heartbeat, reconnect.
type Channel struct {
	selfID string
	peerID string
	dialURL string
	cfg    Config

	handler      Handler
	onStatus     StatusFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan envelope.Envelope
	missedBeats int
}

// NewOutbound constructs a channel that dials peerURL and identifies
// itself as selfID. Run must be called to start the connection loop.
func NewOutbound(selfID, peerID, peerURL string, cfg Config, handler Handler, onStatus StatusFunc) *Channel {
	return &Channel{
		selfID:  selfID,
		peerID:  peerID,
		dialURL: peerURL,
		cfg:     cfg,
		handler: handler,
		onStatus: onStatus,
		send:    make(chan envelope.Envelope, 64),
	}
}

// Send enqueues an envelope for delivery to the peer. Frames queue in a
// 64-slot buffer whether or not the channel is connected, and are
// dropped only when that buffer is full.
func (c *Channel) Send(env envelope.Envelope) {
	select {
	case c.send <- env:
	default:
		logging.Warn().Str("peer_id", c.peerID).Msg("p2pchannel: send buffer full, dropping frame")
	}
}

// Healthy reports whether the channel currently has a live connection.
func (c *Channel) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run drives the connect/identify/pump/reconnect loop until ctx is
// canceled.
func (c *Channel) Run(ctx context.Context) {
	c.setStatus(model.PeerStatusConnecting)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectOnce(ctx); err != nil {
			logging.Warn().Str("peer_id", c.peerID).Err(err).Msg("p2pchannel: connect failed, will retry")
			c.setStatus(model.PeerStatusUnhealthy)
			select {
			case <-time.After(c.cfg.ReconnectBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		// connectOnce blocks for the connection's lifetime; when it
		// returns the connection has already been torn down.
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectBackoff):
		}
	}
}

func (c *Channel) connectOnce(ctx context.Context) error {
	wsURL, err := toWebSocketURL(c.dialURL)
	if err != nil {
		return fmt.Errorf("p2pchannel: build url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ReconnectBackoff}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("p2pchannel: dial %s: %w", wsURL, err)
	}

	ident := identFrame{PeerID: c.selfID}
	raw, err := json.Marshal(ident)
	if err != nil {
		conn.Close()
		return fmt.Errorf("p2pchannel: marshal ident: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return fmt.Errorf("p2pchannel: send ident: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.missedBeats = 0
	c.mu.Unlock()
	c.setStatus(model.PeerStatusHealthy)

	logging.Info().Str("peer_id", c.peerID).Msg("p2pchannel: connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readPump(ctx, conn) }()
	go func() { defer wg.Done(); c.writePump(ctx, conn) }()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setStatus(model.PeerStatusDisconnected)
	return nil
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.missedBeats = 0
		c.mu.Unlock()
		return conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Info().Str("peer_id", c.peerID).Err(err).Msg("p2pchannel: read pump ending")
			}
			conn.Close()
			return
		}

		env, err := envelope.Unmarshal(data)
		if err != nil {
			// Malformed JSON: per §7 this is the one case the channel
			// is torn down rather than answered in-band.
			logging.Warn().Str("peer_id", c.peerID).Err(err).Msg("p2pchannel: malformed frame, closing")
			conn.Close()
			return
		}
		if verr := env.Validate(); verr != nil {
			errEnv, _ := envelope.NewErrorEnvelope(c.selfID, env.EventID, "invalid_envelope", verr.Error(), time.Now().UnixMilli())
			c.Send(errEnv)
			continue
		}

		if c.handler != nil {
			if err := c.handler(ctx, c.peerID, env); err != nil {
				logging.Warn().Str("peer_id", c.peerID).Str("type", string(env.Type)).Err(err).Msg("p2pchannel: handler error")
			}
		}
	}
}

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.send:
			if !ok {
				return
			}
			raw, err := envelope.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-heartbeat.C:
			hb := envelope.Envelope{Type: envelope.TypeHeartbeat, SourceCentral: c.selfID, Timestamp: time.Now().UnixMilli()}
			raw, _ := envelope.Marshal(hb)
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

			c.mu.Lock()
			c.missedBeats++
			unhealthy := c.missedBeats > c.cfg.MissedBeatsUnhealthy
			c.mu.Unlock()
			if unhealthy {
				c.setStatus(model.PeerStatusUnhealthy)
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.KeepaliveTimeout)); err != nil {
				return
			}
		}
	}
}

// Registry tracks live outbound peer channels by peer_id, so C9's
// fan-out broadcaster can reach "every peer except the originating one"
// without owning dial state itself.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry constructs an empty peer channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Set registers (or replaces) the channel for peerID.
func (r *Registry) Set(peerID string, c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[peerID] = c
}

// Remove drops peerID's channel from the registry.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, peerID)
}

// Broadcast sends env to every registered peer except excludePeerID.
func (r *Registry) Broadcast(env envelope.Envelope, excludePeerID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.channels {
		if id == excludePeerID {
			continue
		}
		c.Send(env)
	}
}

// Send delivers env to exactly one peer, dropping it silently if that
// peer has no live channel. It satisfies internal/gossip.Sender, used
// to answer a SYNC_REQUEST back to the peer that issued it.
func (r *Registry) Send(peerID string, env envelope.Envelope) {
	r.mu.RLock()
	c, ok := r.channels[peerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	c.Send(env)
}

// Accept upgrades an already-upgraded inbound *websocket.Conn into a
// running duplex channel: since peers dial every other configured peer
// (§4.5's full mesh), each central must also accept the connections its
// peers open toward it. Grounded on edgechannel.Accept's identify/ack/
// register/pump-until-closed shape, adapted to register into this
// package's Channel/Registry instead of edgechannel's Conn.
func Accept(ctx context.Context, conn *websocket.Conn, selfID string, cfg Config, reg *Registry, handler Handler, onStatus StatusFunc) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(cfg.KeepaliveTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logging.Warn().Err(err).Msg("p2pchannel: failed to read identification frame")
		return
	}
	var ident identFrame
	if err := json.Unmarshal(data, &ident); err != nil || ident.PeerID == "" {
		logging.Warn().Err(err).Msg("p2pchannel: invalid identification frame")
		return
	}

	ack := envelope.Envelope{Type: envelope.TypeConnected, SourceCentral: selfID, Timestamp: time.Now().UnixMilli()}
	raw, _ := envelope.Marshal(ack)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return
	}

	c := &Channel{selfID: selfID, peerID: ident.PeerID, cfg: cfg, handler: handler, onStatus: onStatus, send: make(chan envelope.Envelope, 64), conn: conn}
	reg.Set(ident.PeerID, c)
	c.setStatus(model.PeerStatusHealthy)
	logging.Info().Str("peer_id", ident.PeerID).Msg("p2pchannel: accepted inbound connection")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readPump(ctx, conn) }()
	go func() { defer wg.Done(); c.writePump(ctx, conn) }()
	wg.Wait()

	reg.Remove(ident.PeerID)
	c.setStatus(model.PeerStatusDisconnected)
	logging.Info().Str("peer_id", ident.PeerID).Msg("p2pchannel: inbound connection closed")
}

func (c *Channel) setStatus(status model.PeerStatus) {
	if c.onStatus != nil {
		c.onStatus(c.peerID, status)
	}
}

// toWebSocketURL converts an http(s) base address to its ws(s) /ws/p2p
// peer endpoint.
func toWebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/p2p", scheme, u.Host), nil
}
