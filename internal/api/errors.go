// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package api provides HTTP handlers for the Parkfabric application.
//
// errors.go - Common API error definitions
//
// This file contains sentinel errors for common API error conditions.
package api

import "errors"

// Common API errors
var (
	// ErrEdgeUnknown indicates a request referenced an edge ID not present in the peer registry.
	ErrEdgeUnknown = errors.New("unknown edge id")

	// ErrCameraUnknown indicates a request referenced a camera ID not present in the registry.
	ErrCameraUnknown = errors.New("unknown camera id")

	// ErrLotUnknown indicates a request referenced a parking lot ID that has not been configured.
	ErrLotUnknown = errors.New("unknown parking lot id")

	// ErrHistoryRowNotFound indicates an admin operation targeted a history row that does not exist.
	ErrHistoryRowNotFound = errors.New("history row not found")
)
