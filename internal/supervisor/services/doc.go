// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

/*
Package services adapts Outpost components to suture's Serve(ctx) error
lifecycle.

  - HTTPServerService binds a listener and serves an *http.Server, shutting
    it down gracefully when the context ends.
  - CompactorService starts a StartStopper (the store compactor) and stops
    it on shutdown.
  - RunnerService wraps any blocking func(ctx) error such as
    (*engine.Engine).Run, (*connectivity.Monitor).Run,
    (*websocket.Hub).RunWithContext and (*websocket.Bridge).Serve.

Every service implements fmt.Stringer so suture's event log names it.
*/
package services
