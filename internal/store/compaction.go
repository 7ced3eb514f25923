// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/outpost/internal/logging"
)

// Compactor periodically reclaims value log space and refreshes the store
// gauges. Deleted records and drained queue entries leave garbage in the
// value log until GC rewrites it.
type Compactor struct {
	store    *Store
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// NewCompactor creates a compactor using the store's GCInterval.
func NewCompactor(s *Store) *Compactor {
	return &Compactor{store: s, interval: s.Config().GCInterval}
}

// Start begins the background loop. A zero interval makes Start a no-op.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.interval <= 0 {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.wg.Add(1)
	go c.run()

	logging.Info().Dur("interval", c.interval).Msg("Store compactor started")
	return nil
}

// Stop ends the loop and waits for it to exit.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("Store compactor stopped")
}

// IsRunning reports whether the loop is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastRun returns when the last compaction finished.
func (c *Compactor) LastRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

func (c *Compactor) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Compact(c.ctx)
		}
	}
}

// Compact runs one GC cycle and refreshes the store gauges.
func (c *Compactor) Compact(ctx context.Context) {
	start := time.Now()

	if err := c.store.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Store GC failed")
	}
	stats, err := c.store.Stats(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Store stats failed")
	}

	c.mu.Lock()
	c.lastRun = time.Now()
	c.mu.Unlock()

	logging.Debug().
		Dur("duration", time.Since(start)).
		Int64("records", stats.Records).
		Int64("size_bytes", stats.SizeBytes).
		Msg("Store compaction complete")
}
