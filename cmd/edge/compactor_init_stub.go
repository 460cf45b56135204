// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

//go:build !wal

package main

import (
	"github.com/tomtom215/parkfabric/internal/supervisor"
	"github.com/tomtom215/parkfabric/internal/wal"
)

// wireCompactor is a no-op on the default build: NoOpWAL has nothing to
// compact.
func wireCompactor(tree *supervisor.SupervisorTree, store *wal.NoOpWAL) {}
