// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package main

import (
	"fmt"

	"github.com/tomtom215/outpost/internal/config"
	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/store"
)

func storeConfig(c config.StoreConfig) store.Config {
	sc := store.DefaultConfig()
	sc.Path = c.Path
	sc.InMemory = c.InMemory
	sc.SyncWrites = c.SyncWrites
	sc.MemTableSize = c.MemTableSize
	sc.ValueLogFileSize = c.ValueLogFileSize
	sc.GCInterval = c.GCInterval
	sc.GCDiscardRatio = c.GCDiscardRatio
	return sc
}

// buildRemote returns the client the engine and operation layer share. The
// breaker is returned separately so the API can report its state; it is nil
// when disabled.
func buildRemote(cfg *config.Config) (remote.Client, *remote.BreakerClient, error) {
	var client remote.Client

	switch cfg.Remote.Mode {
	case "memory":
		logging.Warn().Msg("Remote mode is 'memory': confirmed writes are lost on restart")
		client = remote.NewMemory()

	default:
		tokens, err := tokenSource(cfg.Remote)
		if err != nil {
			return nil, nil, err
		}
		httpClient, err := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL: cfg.Remote.BaseURL,
			Timeout: cfg.Remote.Timeout,
			Tokens:  tokens,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("http remote: %w", err)
		}
		client = httpClient
	}

	if !cfg.Breaker.Enabled {
		return client, nil, nil
	}
	breaker := remote.NewBreakerClient(client, remote.BreakerConfig{
		Name:         "remote",
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	})
	return breaker, breaker, nil
}

func tokenSource(c config.RemoteConfig) (remote.TokenSource, error) {
	switch {
	case c.Token != "":
		return remote.StaticToken(c.Token), nil
	case c.TokenSecret != "":
		tm, err := remote.NewTokenManager(c.TokenSecret, c.DeviceID, c.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("token manager: %w", err)
		}
		return tm, nil
	default:
		logging.Warn().Msg("No remote credentials configured, requests are sent unauthenticated")
		return nil, nil
	}
}
