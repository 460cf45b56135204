// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

//go:build wal

package main

import (
	"github.com/tomtom215/parkfabric/internal/supervisor"
	"github.com/tomtom215/parkfabric/internal/supervisor/services"
	"github.com/tomtom215/parkfabric/internal/wal"
)

// wireCompactor attaches the BadgerDB compactor to the data-layer
// supervisor so expired, already-delivered outbox rows get reclaimed.
// The outbox drain loop retires rows itself via DeleteEntry on
// successful delivery, so the compactor's only remaining job here is
// EntryTTL-based cleanup of rows that exhausted their retry budget.
func wireCompactor(tree *supervisor.SupervisorTree, store *wal.BadgerWAL) {
	tree.AddDataService(services.NewWALCompactorService(wal.NewCompactor(store)))
}
