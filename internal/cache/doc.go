// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

/*
Package cache provides the LRU, TTL-bounded deduplication cache the gossip
manager (C7) uses as a fast path in front of the history store's event_id
uniqueness check.

# Usage

	seen := cache.NewLRUCache(10000, 5*time.Minute)
	if seen.Contains(eventID) {
	    return // already applied, skip the store round trip
	}
	// ... apply, then record it
	seen.Add(eventID, time.Now())

IsDuplicate combines the check-and-record into one call for callers that
don't need to distinguish the two steps.
*/
package cache
