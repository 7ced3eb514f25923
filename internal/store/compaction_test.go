// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package store

import (
	"context"
	"testing"
	"time"
)

func TestCompactor_StartStop(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.GCInterval = 10 * time.Millisecond
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	c := NewCompactor(s)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRunning() {
		t.Fatal("compactor should be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.LastRun().IsZero() {
		t.Error("compactor never ran")
	}

	c.Stop()
	if c.IsRunning() {
		t.Error("compactor should be stopped")
	}
	c.Stop()
}

func TestCompactor_DisabledInterval(t *testing.T) {
	s := setupStore(t)

	c := NewCompactor(s)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.IsRunning() {
		t.Error("compactor with zero interval should not run")
	}
}

func TestCompactor_Compact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, task("r1", "A")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c := NewCompactor(s)
	c.Compact(ctx)

	if c.LastRun().IsZero() {
		t.Error("LastRun not recorded")
	}
}
