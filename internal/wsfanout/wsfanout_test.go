// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package wsfanout

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeStore struct {
	exists bool
	err    error
}

func (f *fakeStore) EventExists(context.Context, string) (bool, error) { return f.exists, f.err }

type fakeBroadcaster struct {
	mu       sync.Mutex
	sent     []envelope.Envelope
	excluded []string
}

func (f *fakeBroadcaster) Broadcast(env envelope.Envelope, exclude string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	f.excluded = append(f.excluded, exclude)
}

func TestPublishFromPeerExcludesOrigin(t *testing.T) {
	edges := &fakeBroadcaster{}
	peers := &fakeBroadcaster{}
	b := New(&fakeStore{exists: true}, nil, nil, edges, peers)

	env := envelope.Envelope{Type: envelope.TypeVehicleExit, EventID: "evt-1"}
	if err := b.Publish(context.Background(), env, "central-2"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(edges.sent) != 1 || edges.excluded[0] != "" {
		t.Fatalf("expected edge broadcast with no exclusion, got %+v", edges)
	}
	if len(peers.sent) != 1 || peers.excluded[0] != "central-2" {
		t.Fatalf("expected peer broadcast excluding origin, got %+v", peers)
	}
}

func TestPublishSkipsPeerGossipOnceConverged(t *testing.T) {
	peers := &fakeBroadcaster{}
	b := New(&fakeStore{exists: false}, nil, nil, &fakeBroadcaster{}, peers)

	env := envelope.Envelope{Type: envelope.TypeVehicleExit, EventID: "evt-1"}
	if err := b.Publish(context.Background(), env, "central-2"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(peers.sent) != 0 {
		t.Fatalf("expected no further peer gossip once EventExists is false, got %+v", peers.sent)
	}
}

func TestPublishFromEdgeExcludesOriginEdge(t *testing.T) {
	edges := &fakeBroadcaster{}
	b := New(&fakeStore{exists: true}, nil, nil, edges, &fakeBroadcaster{})

	env := envelope.Envelope{Type: envelope.TypeVehicleEntryConfirmed, EventID: "evt-2"}
	if err := b.PublishFromEdge(context.Background(), env, "edge-7"); err != nil {
		t.Fatalf("PublishFromEdge: %v", err)
	}

	if len(edges.sent) != 1 || edges.excluded[0] != "edge-7" {
		t.Fatalf("expected edge broadcast excluding edge-7, got %+v", edges)
	}
}

func TestPublishLocalAlwaysGossipsConfigFrames(t *testing.T) {
	peers := &fakeBroadcaster{}
	b := New(&fakeStore{exists: false}, nil, nil, &fakeBroadcaster{}, peers)

	env := envelope.Envelope{Type: envelope.TypeParkingLotConfig}
	if err := b.PublishLocal(context.Background(), env); err != nil {
		t.Fatalf("PublishLocal: %v", err)
	}

	if len(peers.sent) != 1 {
		t.Fatalf("expected config frame without event_id to gossip unconditionally, got %+v", peers.sent)
	}
}
