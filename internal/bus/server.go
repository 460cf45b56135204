// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package bus is the intra-process event bus that carries a
// best-effort audit stream: the ingestion engine (C4) publishes each
// applied event through EventSink, and cmd/central's audit subscriber
// logs it. The gossip manager (C7) and the fan-out broadcaster (C9) are
// called directly by their callers and do not subscribe to the bus.
// Grounded on the reference EmbeddedServer and
// Watermill NATS publisher/subscriber, simplified from the teacher's
// JetStream-backed, replay-capable stream down to a plain core-NATS bus:
// this fabric's consumers are transient in-process subscribers with no
// replay requirement, so there is no stream to provision or retain.
package bus

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Config controls the embedded NATS core server backing the bus.
type Config struct {
	Host            string
	Port            int
	MaxPayloadBytes int32
}

// DefaultConfig returns sane defaults for a single-process deployment.
// Port 0 asks the OS for an ephemeral port, since the bus never needs
// to be reachable from outside this process.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            0,
		MaxPayloadBytes: 1 << 20, // 1MB: envelopes are small JSON frames
	}
}

// EmbeddedServer wraps a core NATS server (no JetStream) started
// in-process. It exists purely to give internal/bus's publisher and
// subscriber a connection URL without requiring an external NATS
// deployment.
type EmbeddedServer struct {
	server    *natsserver.Server
	clientURL string
}

// NewEmbeddedServer starts and waits for an embedded NATS server.
func NewEmbeddedServer(cfg Config) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		ServerName: "parkfabric-bus",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  false,
		DontListen: false,
		NoLog:      true,
		MaxPayload: cfg.MaxPayloadBytes,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("bus: create embedded nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("bus: embedded nats server not ready within timeout")
	}

	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for publishers and subscribers.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the embedded server, waiting for in-flight connections
// to drain or ctx to expire.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.server.WaitForShutdown()
		return nil
	}
}
