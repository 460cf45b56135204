// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package edgechannel

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
)

// ClientConfig controls the edge-side dial loop. ReconnectBackoff has no
// counterpart on the accept side, which never initiates a connection.
type ClientConfig struct {
	Config
	ReconnectBackoff time.Duration
}

// Client is the edge-side half of the duplex channel: it dials its
// central's /ws/edge endpoint, identifies itself, and keeps the
// connection alive across drops. Grounded on internal/p2pchannel.Channel,
// the near-identical dial/identify/pump/reconnect loop a central runs
// toward its peers — this is the same shape run by an edge toward its
// one central instead of toward N peers.
type Client struct {
	edgeID     string
	centralURL string
	cfg        ClientConfig
	handler    Handler

	mu   sync.Mutex
	conn *websocket.Conn
	send chan envelope.Envelope
}

// NewClient constructs a dialer for this edge. Run must be called to
// start the connection loop.
func NewClient(edgeID, centralURL string, cfg ClientConfig, handler Handler) *Client {
	return &Client{
		edgeID:     edgeID,
		centralURL: centralURL,
		cfg:        cfg,
		handler:    handler,
		send:       make(chan envelope.Envelope, 64),
	}
}

// Send enqueues an envelope for delivery to central on a 64-frame
// buffer, which fills while the channel is disconnected; a frame that
// arrives when the buffer is full is dropped and logged.
func (c *Client) Send(env envelope.Envelope) {
	select {
	case c.send <- env:
	default:
		logging.Warn().Str("edge_id", c.edgeID).Msg("edgechannel: client send buffer full, dropping frame")
	}
}

// Healthy reports whether the channel currently has a live connection,
// satisfying internal/outbox.Sender.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run drives the connect/identify/pump/reconnect loop until ctx is
// canceled.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectOnce(ctx); err != nil {
			logging.Warn().Str("central_url", c.centralURL).Err(err).Msg("edgechannel: connect failed, will retry")
			select {
			case <-time.After(c.cfg.ReconnectBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectBackoff):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	wsURL, err := toWebSocketURL(c.centralURL)
	if err != nil {
		return fmt.Errorf("edgechannel: build url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ReconnectBackoff}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("edgechannel: dial %s: %w", wsURL, err)
	}

	ident := identFrame{EdgeID: c.edgeID}
	raw, err := json.Marshal(ident)
	if err != nil {
		conn.Close()
		return fmt.Errorf("edgechannel: marshal ident: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		conn.Close()
		return fmt.Errorf("edgechannel: send ident: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	logging.Info().Str("central_url", c.centralURL).Msg("edgechannel: connected to central")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readPump(ctx, conn) }()
	go func() { defer wg.Done(); c.writePump(ctx, conn) }()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Info().Err(err).Msg("edgechannel: client read pump ending")
			}
			conn.Close()
			return
		}

		env, err := envelope.Unmarshal(data)
		if err != nil {
			logging.Warn().Err(err).Msg("edgechannel: client received malformed frame, closing")
			conn.Close()
			return
		}
		if env.Type == envelope.TypeConnected || env.Type == envelope.TypePong {
			continue
		}

		if c.handler != nil {
			if err := c.handler(ctx, "", env); err != nil {
				logging.Warn().Str("type", string(env.Type)).Err(err).Msg("edgechannel: client handler error")
			}
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
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
			hb := envelope.Envelope{Type: envelope.TypeHeartbeat, SourceEdge: c.edgeID, Timestamp: time.Now().UnixMilli()}
			raw, _ := envelope.Marshal(hb)
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.KeepaliveTimeout)); err != nil {
				return
			}
		}
	}
}

func toWebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws/edge", scheme, u.Host), nil
}
