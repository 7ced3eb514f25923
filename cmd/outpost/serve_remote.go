// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/outpost/internal/config"
	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/supervisor/services"
)

// serveRemote runs an in-memory system of record speaking the REST protocol
// the HTTP client expects. Tokens are verified when OUTPOST_REMOTE_TOKEN_SECRET is set.
func serveRemote(ctx context.Context, cfg *config.Config) error {
	var tokens *remote.TokenManager
	if cfg.Remote.TokenSecret != "" {
		tm, err := remote.NewTokenManager(cfg.Remote.TokenSecret, cfg.Remote.DeviceID, cfg.Remote.TokenTTL)
		if err != nil {
			return fmt.Errorf("token manager: %w", err)
		}
		tokens = tm
	} else {
		logging.Warn().Msg("Remote server running without authentication (OUTPOST_REMOTE_TOKEN_SECRET unset)")
	}

	server := &http.Server{
		Handler:           remote.NewServer(remote.NewMemory(), tokens).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	svc := services.NewHTTPServerService(server, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Starting in-memory remote server")

	if err := svc.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
