// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// RunFunc blocks until ctx is done or the component fails.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a RunFunc.
type RunnerService struct {
	name string
	run  RunFunc
}

// NewRunnerService creates a service named name around run.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{name: name, run: run}
}

// Serve implements suture.Service. A RunFunc that returns nil while ctx is
// still live is reported as a failure so the supervisor restarts it.
func (r *RunnerService) Serve(ctx context.Context) error {
	err := r.run(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		return fmt.Errorf("%s exited unexpectedly", r.name)
	case errors.Is(err, suture.ErrDoNotRestart), errors.Is(err, suture.ErrTerminateSupervisorTree):
		return err
	default:
		return fmt.Errorf("%s failed: %w", r.name, err)
	}
}

// String implements fmt.Stringer for suture's event log.
func (r *RunnerService) String() string {
	return r.name
}
