// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package main is the entry point for the Outpost daemon.
//
// Outpost keeps a local copy of records in BadgerDB, accepts writes while the
// system of record is unreachable, and replays them in order once
// connectivity returns.
//
// # Application Architecture
//
// Components are created in this order:
//
//  1. Configuration: defaults, config.yaml and environment (Koanf v2)
//  2. Store: BadgerDB with the record, queue and sync-state keyspaces
//  3. Remote client: REST or in-process, optionally behind a circuit breaker
//  4. Connectivity monitor, outcome bus and sync engine
//  5. Operation layer and the outcome WebSocket hub
//  6. Local HTTP API
//
// Long-running components run under a suture supervisor tree with data, sync
// and api layers.
//
// # Subcommands
//
//	outpost                 run the daemon
//	outpost serve-remote    run an in-memory system of record on OUTPOST_SERVER_PORT
//
// # Example Usage
//
//	export OUTPOST_STORE_PATH=/var/lib/outpost
//	export OUTPOST_REMOTE_BASE_URL=https://records.example.com/api
//	export OUTPOST_REMOTE_TOKEN=...
//	export OUTPOST_CONNECTIVITY_PROBE_URL=https://records.example.com/healthz
//	./outpost
//
// Local demo against an in-process remote:
//
//	OUTPOST_REMOTE_MODE=memory OUTPOST_STORE_IN_MEMORY=true ./outpost
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context. The supervisor stops the API,
// then the sync layer, then store maintenance; the store is closed last.
package main
