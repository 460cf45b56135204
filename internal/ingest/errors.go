// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package ingest

import "errors"

// ErrUnsupportedTransition is returned when (event_type, camera_type)
// does not match any row in the transition table (§4.4). Entry and exit
// state errors themselves are store.ErrAlreadyInside and
// store.ErrNoEntry, propagated unchanged so callers compare against one
// error taxonomy instead of two.
var ErrUnsupportedTransition = errors.New("ingest: unsupported event_type/camera_type combination")
