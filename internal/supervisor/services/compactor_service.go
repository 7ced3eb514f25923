// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package services

import (
	"context"
	"fmt"
)

// StartStopper is a component with a background goroutine managed through
// Start and Stop. *store.Compactor implements it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// CompactorService runs the store compactor under supervision. Stop blocks
// until the compactor goroutine has exited, so a restart never overlaps a
// running pass.
type CompactorService struct {
	compactor StartStopper
	name      string
}

// NewCompactorService creates a new compactor service wrapper.
func NewCompactorService(compactor StartStopper) *CompactorService {
	return &CompactorService{compactor: compactor, name: "store-compactor"}
}

// Serve implements suture.Service.
func (s *CompactorService) Serve(ctx context.Context) error {
	if err := s.compactor.Start(ctx); err != nil {
		return fmt.Errorf("store compactor start failed: %w", err)
	}
	<-ctx.Done()
	s.compactor.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's event log.
func (s *CompactorService) String() string {
	return s.name
}
