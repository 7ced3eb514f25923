// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

/*
Package websocket streams sync outcomes and engine state to connected
clients.

The package uses a hub-and-spoke layout. A single Hub owns the client set
and fans every message out to each client's send channel; each Client runs
a readPump that keeps the connection alive and a writePump that drains its
send channel onto the socket.

	events.Bus ──> Bridge ──> Hub ──┬──> Client 1
	                                ├──> Client 2
	                                └──> Client 3

Message types:

  - outcome: one models.Outcome from a drain pass
  - sync_state: the engine's models.SyncState after a change
  - ping / pong: application level keepalive

A client that cannot keep up has its send channel closed and is dropped.
Delivery is best effort: the local store stays the source of truth.

Both Hub.RunWithContext and Bridge.Serve block until their context is done
and are meant to run under the supervisor tree.
*/
package websocket
