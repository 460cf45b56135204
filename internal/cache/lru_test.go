// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package cache

import (
	"testing"
	"time"
)

func TestLRUCache_AddAndGet(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	now := time.Now()
	c.Add("central-1_1700000000000_abc123", now)

	got, ok := c.Get("central-1_1700000000000_abc123")
	if !ok {
		t.Fatal("expected hit for known event_id")
	}
	if !got.Equal(now) {
		t.Errorf("value = %v, want %v", got, now)
	}

	if _, ok := c.Get("central-1_1700000000000_unknown"); ok {
		t.Error("expected miss for unknown event_id")
	}
}

func TestLRUCache_IsDuplicate(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	eventID := "central-1_1700000000000_abc123"
	if c.IsDuplicate(eventID) {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !c.IsDuplicate(eventID) {
		t.Error("second sighting of the same event_id should be a duplicate")
	}
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c := NewLRUCache(10, 20*time.Millisecond)

	eventID := "central-1_1700000000000_abc123"
	c.Add(eventID, time.Now())

	if !c.Contains(eventID) {
		t.Fatal("expected entry present before TTL elapses")
	}

	time.Sleep(40 * time.Millisecond)

	if c.Contains(eventID) {
		t.Error("expected entry expired after TTL elapses")
	}
	if c.IsDuplicate(eventID) {
		t.Error("expired entry should not be reported as a duplicate")
	}
}

func TestLRUCache_EvictsOldestOverCapacity(t *testing.T) {
	c := NewLRUCache(2, time.Minute)

	c.Add("a", time.Now())
	c.Add("b", time.Now())
	c.Add("c", time.Now())

	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
	if c.Contains("a") {
		t.Error("expected oldest entry evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Error("expected the two most recent entries retained")
	}
}

func TestLRUCache_RemoveAndClear(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Add("a", time.Now())
	c.Add("b", time.Now())

	if !c.Remove("a") {
		t.Error("expected Remove to report found")
	}
	if c.Remove("a") {
		t.Error("expected second Remove of the same key to report not found")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after Clear, got %d", c.Len())
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache(10, 10*time.Millisecond)
	c.Add("a", time.Now())
	c.Add("b", time.Now())

	time.Sleep(30 * time.Millisecond)
	c.Add("c", time.Now()) // fresh entry, should survive

	removed := c.CleanupExpired()
	if removed != 2 {
		t.Errorf("expected 2 expired entries removed, got %d", removed)
	}
	if !c.Contains("c") {
		t.Error("expected fresh entry to survive cleanup")
	}
}

func TestLRUCache_Stats(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Add("a", time.Now())

	c.Get("a")
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats() = (%d, %d, %d), want (1, 1, 1)", hits, misses, size)
	}
}
