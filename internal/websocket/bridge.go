// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package websocket

import (
	"context"
	"time"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/models"
)

// OutcomeSource delivers sync outcomes. *events.Bus implements it.
type OutcomeSource interface {
	Subscribe(ctx context.Context) (<-chan models.Outcome, error)
}

// StateSource reports the current engine state. *engine.Engine implements it.
type StateSource interface {
	State() models.SyncState
}

// DefaultStatePollInterval is how often the bridge checks the engine state.
const DefaultStatePollInterval = time.Second

// Bridge forwards outcomes from the event bus and engine state changes to
// the hub.
type Bridge struct {
	hub      *Hub
	outcomes OutcomeSource
	state    StateSource
	interval time.Duration
}

// NewBridge creates a bridge. state may be nil, in which case only outcomes
// are forwarded.
func NewBridge(hub *Hub, outcomes OutcomeSource, state StateSource, interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = DefaultStatePollInterval
	}
	return &Bridge{hub: hub, outcomes: outcomes, state: state, interval: interval}
}

// Serve forwards until ctx is done. It implements suture.Service.
func (b *Bridge) Serve(ctx context.Context) error {
	ch, err := b.outcomes.Subscribe(ctx)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	var last models.SyncState
	if b.state != nil {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		tick = ticker.C
		last = b.state.State()
	}

	logging.Debug().Msg("websocket bridge started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case o, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			b.hub.BroadcastOutcome(o)

		case <-tick:
			current := b.state.State()
			if stateChanged(last, current) {
				b.hub.BroadcastSyncState(current)
				last = current
			}
		}
	}
}

func stateChanged(a, b models.SyncState) bool {
	return a.Status != b.Status ||
		a.PendingCount != b.PendingCount ||
		a.LastError != b.LastError ||
		!timeEqual(a.LastSyncedAt, b.LastSyncedAt) ||
		!timeEqual(a.NextAttemptAt, b.NextAttemptAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
