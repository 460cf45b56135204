// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package outbox

import (
	"context"
	"io"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/wal"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*wal.Entry
	next    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*wal.Entry)}
}

func (f *fakeStore) Write(_ context.Context, event interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := "id-" + string(rune('0'+f.next))
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	f.entries[id] = &wal.Entry{ID: id, Payload: payload}
	return id, nil
}

func (f *fakeStore) GetPending(context.Context) ([]*wal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wal.Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) TryClaimEntryDurable(_ context.Context, id, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok, nil
}

func (f *fakeStore) ReleaseLeaseDurable(context.Context, string) error { return nil }

func (f *fakeStore) UpdateAttempt(_ context.Context, id, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[id]; ok {
		e.Attempts++
		e.LastError = lastErr
	}
	return nil
}

func (f *fakeStore) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *fakeStore) Stats() wal.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wal.Stats{PendingCount: int64(len(f.entries))}
}

func (f *fakeStore) Close() error { return nil }

type fakeSender struct {
	healthy bool
	sent    []envelope.Envelope
}

func (f *fakeSender) Healthy() bool { return f.healthy }
func (f *fakeSender) Send(env envelope.Envelope) {
	f.sent = append(f.sent, env)
}

func TestDrainDeliversViaDuplexChannelWhenHealthy(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{healthy: true}
	d := New(store, sender, Config{BatchSize: 10})

	ctx := context.Background()
	if _, err := d.Enqueue(ctx, "edge-1", envelope.Envelope{Type: envelope.TypeVehicleExit, EventID: "evt-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d.drainOnce(ctx)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 delivery via duplex channel, got %d", len(sender.sent))
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected entry retired after successful delivery, %d remain", len(store.entries))
	}
}

func TestDrainStopsRetryingPastRetryCap(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{healthy: false}
	d := New(store, sender, Config{BatchSize: 10})

	ctx := context.Background()
	id, err := d.Enqueue(ctx, "edge-1", envelope.Envelope{Type: envelope.TypeVehicleExit, EventID: "evt-2"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < MaxRetries+2; i++ {
		d.drainOnce(ctx)
	}

	entry := store.entries[id]
	if entry == nil {
		t.Fatalf("expected exhausted entry to remain for status surfacing, got none")
	}
	if entry.Attempts < MaxRetries {
		t.Fatalf("expected attempts to reach retry cap, got %d", entry.Attempts)
	}

	status, err := d.CurrentStatus(ctx)
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}
	if status.ExhaustedCount != 1 {
		t.Fatalf("expected 1 exhausted entry reported, got %d", status.ExhaustedCount)
	}
}
