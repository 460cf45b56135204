// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

/*
Package websocket provides real-time bidirectional communication for live updates.

This package implements WebSocket support for broadcasting parking history
changes, camera location updates, and p2p/edge connection status to connected
frontend clients. It uses the gorilla/websocket library with a hub-client
architecture for efficient message broadcasting.

Key Components:

  - Hub: Central message broker that manages client connections and broadcasts
  - Client: Represents a single WebSocket connection with read/write goroutines
  - Message: Typed message structure for different event types

Architecture:

The package implements a hub-and-spoke pattern:

	┌──────────┐
	│   Hub    │ ← Broadcasts to all clients
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│          │         │         │
	│ Client1  │ Client2 │ Client3 │ Client4
	│          │         │         │
	└──────────┴─────────┴─────────┘

Each client has two goroutines:
  - readPump: Reads from WebSocket, handles pings
  - writePump: Writes queued messages (including pong replies), sends pings

A single Hub carries one topic. cmd/central creates three hubs (history,
cameras, p2p); internal/api serves two of them to frontends, and
internal/wsfanout feeds those two:

  - /ws/history: history_update (entry, exit, update, delete)
  - /ws/cameras: location_update, plus edge_status from internal/api's
    edge camera heartbeat handler

The p2p hub receives peer_status broadcasts; no endpoint attaches clients
to it. /ws/p2p and /ws/edge are the accept sides of the peer and edge
duplex channels (internal/p2pchannel, internal/edgechannel), not hubs.

Usage Example - Server:

	import (
	    gorillaws "github.com/gorilla/websocket"
	    "github.com/tomtom215/parkfabric/internal/websocket"
	    "net/http"
	)

	// Create hub
	hub := websocket.NewHub()
	go hub.Run()

	// WebSocket upgrade endpoint
	upgrader := gorillaws.Upgrader{}
	http.HandleFunc("/ws/history", func(w http.ResponseWriter, r *http.Request) {
	    conn, err := upgrader.Upgrade(w, r, nil)
	    if err != nil {
	        return
	    }
	    client := websocket.NewClient(hub, conn)
	    hub.Register <- client
	    client.Start()
	})

	// Broadcast a history change
	hub.BroadcastHistoryUpdate(entry)

	// Broadcast a peer status change
	hub.BroadcastPeerStatus("central-2", "connected")

Usage Example - Client (JavaScript):

	// Connect to WebSocket
	const ws = new WebSocket('ws://localhost:3857/ws/history');

	ws.onmessage = (event) => {
	    const msg = JSON.parse(event.data);

	    if (msg.type === 'history_update') {
	        refreshHistoryTable(msg.data);
	    }
	};

Performance Characteristics:

  - Broadcast latency: <10ms for typical payloads
  - Max clients: no limit is enforced by the hub
  - Ping interval: 54 seconds (9/10 of pongWait; keeps connection alive)
  - Write deadline: 10 seconds per message
  - Message size limit: 512KB (maxMessageSize constant)

Connection Lifecycle:

1. Client connects via HTTP upgrade
2. Hub registers client
3. Client starts read/write goroutines
4. Hub broadcasts messages to all clients
5. Client disconnects (network error or explicit close)
6. Hub unregisters client and cleans up

Thread Safety:

The package is fully thread-safe:
  - Hub uses mutex for client map access
  - Channels coordinate goroutine communication
  - Each client has separate read/write goroutines
  - No shared mutable state between clients

Error Handling:

The package handles:
  - Connection upgrades failures: Returns HTTP 400
  - Read errors: Closes connection gracefully
  - Write errors: Removes client from hub
  - Ping/pong timeout: Detects dead connections (60s timeout)

Configuration:

WebSocket settings:
  - writeWait: 10 seconds (time allowed to write message)
  - pongWait: 60 seconds (time allowed to read pong)
  - pingPeriod: 54 seconds (ping interval, must be < pongWait)
  - maxMessageSize: 512 KB (max message size)

See Also:

  - github.com/gorilla/websocket: Underlying WebSocket library
  - internal/api: WebSocket endpoint handlers
  - internal/wsfanout: Fan-out broadcaster feeding the history and cameras hubs
*/
package websocket
