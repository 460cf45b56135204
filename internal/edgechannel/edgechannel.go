// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package edgechannel implements the edge duplex channel (C8): the
// server side of the connection an edge node opens to its central.
// Edges identify themselves with `{edge_id}`; Central ACKs with
// `{type:"connected"}`. Payloads after that share C6's envelope shape,
// scoped to the one edge. Grounded on the same reference
// read/write-pump split as internal/p2pchannel, adapted here for the
// accept side rather than the dial side.
package edgechannel

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
)

// Config controls channel liveness timing, shared with C6's.
type Config struct {
	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
}

type identFrame struct {
	EdgeID string `json:"edge_id"`
}

// Handler processes one inbound envelope from an edge.
type Handler func(ctx context.Context, edgeID string, env envelope.Envelope) error

// Registry tracks live edge connections by edge_id, so C9's fan-out
// broadcaster can reach "every edge except the originating one"
// without holding channel references itself.
type Registry struct {
	mu    sync.RWMutex
	edges map[string]*Conn
}

// NewRegistry constructs an empty edge connection registry.
func NewRegistry() *Registry {
	return &Registry{edges: make(map[string]*Conn)}
}

// Broadcast sends env to every registered edge except excludeEdgeID.
func (r *Registry) Broadcast(env envelope.Envelope, excludeEdgeID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.edges {
		if id == excludeEdgeID {
			continue
		}
		c.Send(env)
	}
}

// Count returns the number of currently connected edges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.edges)
}

func (r *Registry) add(id string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[id] = c
}

func (r *Registry) remove(id string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.edges[id]; ok && existing == c {
		delete(r.edges, id)
	}
}

// Conn wraps one accepted edge websocket connection.
type Conn struct {
	edgeID string
	conn   *websocket.Conn
	send   chan envelope.Envelope
}

// Accept upgrades an already-accepted *websocket.Conn into a running
// edge channel: it reads the identification frame, ACKs, registers the
// connection, and runs its read/write pumps until the socket closes or
// ctx is canceled. Accept blocks for the connection's lifetime; call it
// from its own goroutine per connection, the way the reference
// websocket hub accepts one goroutine pair per client.
func Accept(ctx context.Context, conn *websocket.Conn, cfg Config, reg *Registry, handler Handler) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(cfg.KeepaliveTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		logging.Warn().Err(err).Msg("edgechannel: failed to read identification frame")
		return
	}
	var ident identFrame
	if err := json.Unmarshal(data, &ident); err != nil || ident.EdgeID == "" {
		logging.Warn().Err(err).Msg("edgechannel: invalid identification frame")
		return
	}

	ack := envelope.Envelope{Type: envelope.TypeConnected, Timestamp: time.Now().UnixMilli()}
	raw, _ := envelope.Marshal(ack)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return
	}

	c := &Conn{edgeID: ident.EdgeID, conn: conn, send: make(chan envelope.Envelope, 64)}
	reg.add(ident.EdgeID, c)
	defer reg.remove(ident.EdgeID, c)

	logging.Info().Str("edge_id", ident.EdgeID).Msg("edgechannel: edge connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readPump(ctx, cfg, handler) }()
	go func() { defer wg.Done(); c.writePump(ctx, cfg) }()
	wg.Wait()

	logging.Info().Str("edge_id", ident.EdgeID).Msg("edgechannel: edge disconnected")
}

// Send enqueues an envelope for delivery to this edge, dropping it if
// the send buffer is full.
func (c *Conn) Send(env envelope.Envelope) {
	select {
	case c.send <- env:
	default:
		logging.Warn().Str("edge_id", c.edgeID).Msg("edgechannel: send buffer full, dropping frame")
	}
}

func (c *Conn) readPump(ctx context.Context, cfg Config, handler Handler) {
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.KeepaliveTimeout))
	})

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.KeepaliveTimeout))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.conn.Close()
			return
		}

		env, err := envelope.Unmarshal(data)
		if err != nil {
			logging.Warn().Str("edge_id", c.edgeID).Err(err).Msg("edgechannel: malformed frame, closing")
			c.conn.Close()
			return
		}

		if env.Type == envelope.TypeHeartbeat {
			pong := envelope.Envelope{Type: envelope.TypePong, Timestamp: time.Now().UnixMilli()}
			c.Send(pong)
			continue
		}

		if verr := env.Validate(); verr != nil {
			errEnv, _ := envelope.NewErrorEnvelope("", env.EventID, "invalid_envelope", verr.Error(), time.Now().UnixMilli())
			c.Send(errEnv)
			continue
		}

		if handler != nil {
			if err := handler(ctx, c.edgeID, env); err != nil {
				logging.Warn().Str("edge_id", c.edgeID).Str("type", string(env.Type)).Err(err).Msg("edgechannel: handler error")
			}
		}
	}
}

func (c *Conn) writePump(ctx context.Context, cfg Config) {
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.Close()
			return
		case env, ok := <-c.send:
			if !ok {
				return
			}
			raw, err := envelope.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.KeepaliveTimeout)); err != nil {
				return
			}
		}
	}
}
