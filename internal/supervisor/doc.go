// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

/*
Package supervisor runs Outpost's long-lived components under a suture v4
supervisor tree.

The tree has three layers so a failure in one does not restart the others:

	RootSupervisor ("outpost")
	├── DataSupervisor ("data-layer")
	│   └── CompactorService (store value log GC)
	├── SyncSupervisor ("sync-layer")
	│   ├── RunnerService "connectivity-monitor"
	│   ├── RunnerService "sync-engine"
	│   ├── WebSocketHubService
	│   └── RunnerService "outcome-bridge"
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Supervisor events are logged through sutureslog into the zerolog-backed
slog logger from the logging package.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewCompactorService(store.NewCompactor(s)))
	tree.AddSyncService(services.NewRunnerService("sync-engine", eng.Run))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
