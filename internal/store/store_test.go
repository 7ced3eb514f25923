// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tomtom215/outpost/internal/models"
)

func createTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "store")
	cfg.SyncWrites = false
	cfg.ValueLogFileSize = 16 << 20
	cfg.GCInterval = 0
	return cfg
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(createTestConfig(t))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func task(id, title string) *models.Record {
	return &models.Record{
		ID:         id,
		EntityType: "task",
		Payload:    models.Payload{"title": title},
		Confirmed:  !models.IsTempID(id),
	}
}

func TestStore_PutGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, task("r1", "A")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "task", "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload["title"] != "A" {
		t.Errorf("title = %v, want A", got.Payload["title"])
	}
	if got.LocalVersion != 1 {
		t.Errorf("LocalVersion = %d, want 1", got.LocalVersion)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestStore_PutIncrementsVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, task("r1", "A")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, err := s.Get(ctx, "task", "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LocalVersion != 3 {
		t.Errorf("LocalVersion = %d, want 3", got.LocalVersion)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "task", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = s.Lookup(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from Lookup, got %v", err)
	}
}

func TestStore_Lookup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	note := &models.Record{ID: "n1", EntityType: "note", Payload: models.Payload{"body": "x"}}
	if err := s.Put(ctx, note); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Lookup(ctx, "n1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.EntityType != "note" {
		t.Errorf("EntityType = %q, want note", got.EntityType)
	}
}

func TestStore_LookupFollowsAlias(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tempID := models.NewTempID()

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutRecord(task("r1", "Paint")); err != nil {
			return err
		}
		return tx.PutAlias(tempID, "r1")
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Lookup(ctx, tempID)
	if err != nil {
		t.Fatalf("Lookup by temp id: %v", err)
	}
	if got.ID != "r1" {
		t.Errorf("ID = %q, want r1", got.ID)
	}

	if err := s.Delete(ctx, "task", "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Lookup(ctx, tempID); !errors.Is(err, ErrNotFound) {
		t.Errorf("alias to a deleted record: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Lookup(ctx, models.NewTempID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown temp id: expected ErrNotFound, got %v", err)
	}
}

func TestStore_TypeMismatch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, task("x1", "A")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := s.Put(ctx, &models.Record{ID: "x1", EntityType: "note"})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestStore_InvalidRecord(t *testing.T) {
	s := setupStore(t)

	err := s.Put(context.Background(), &models.Record{ID: "a", EntityType: "Bad Type"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, task("r1", "A")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "task", "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Lookup(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("id index not cleared: %v", err)
	}
	if err := s.Delete(ctx, "task", "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}

	// The id is free for another type once deleted.
	if err := s.Put(ctx, &models.Record{ID: "r1", EntityType: "note"}); err != nil {
		t.Errorf("reuse id: %v", err)
	}
}

func TestStore_List(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	recs := []*models.Record{
		{ID: "r2", EntityType: "task", Payload: models.Payload{"status": "open"}, Confirmed: true},
		{ID: "r1", EntityType: "task", Payload: models.Payload{"status": "done"}, Confirmed: true},
		{ID: models.NewTempID(), EntityType: "task", Payload: models.Payload{"status": "open"}},
		{ID: "n1", EntityType: "note", Payload: models.Payload{"status": "open"}, Confirmed: true},
	}
	for _, r := range recs {
		if err := s.Put(ctx, r); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	confirmed := true
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all tasks", Filter{}, 3},
		{"open tasks", Filter{Match: map[string]any{"status": "open"}}, 2},
		{"confirmed tasks", Filter{Confirmed: &confirmed}, 2},
		{"confirmed open", Filter{Confirmed: &confirmed, Match: map[string]any{"status": "open"}}, 1},
		{"limit", Filter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, "task", tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}

	all, err := s.List(ctx, "task", Filter{Confirmed: &confirmed})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if all[0].ID != "r1" || all[1].ID != "r2" {
		t.Errorf("expected id order r1, r2; got %s, %s", all[0].ID, all[1].ID)
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutRecord(task("r1", "A")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.Get(ctx, "task", "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record written despite failed transaction: %v", err)
	}
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	s := setupStore(t)

	err := s.View(context.Background(), func(tx *Tx) error {
		return tx.PutRecord(task("r1", "A"))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestStore_NextSequence(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	key := []byte("meta/test-seq")

	var got []uint64
	for i := 0; i < 3; i++ {
		err := s.Update(ctx, func(tx *Tx) error {
			n, err := tx.NextSequence(key)
			if err != nil {
				return err
			}
			got = append(got, n)
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("sequence = %v, want [1 2 3]", got)
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(ctx, task(models.NewTempID(), "x")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Put: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Records != 20 {
		t.Errorf("Records = %d, want 20", st.Records)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	cfg := createTestConfig(t)
	ctx := context.Background()

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(ctx, task("r1", "persisted")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.SaveSyncState(ctx, models.SyncState{Status: models.StatusBackoff, PendingCount: 4}); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "task", "r1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Payload["title"] != "persisted" {
		t.Errorf("title = %v", got.Payload["title"])
	}
	state, err := s.LoadSyncState(ctx)
	if err != nil {
		t.Fatalf("LoadSyncState: %v", err)
	}
	if state.PendingCount != 4 || state.Status != models.StatusBackoff {
		t.Errorf("state = %+v", state)
	}
}

func TestStore_LoadSyncStateDefault(t *testing.T) {
	s := setupStore(t)

	state, err := s.LoadSyncState(context.Background())
	if err != nil {
		t.Fatalf("LoadSyncState: %v", err)
	}
	if state.Status != models.StatusIdle || state.LastSyncedAt != nil {
		t.Errorf("unexpected default state %+v", state)
	}
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(createTestConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Put(context.Background(), task("r1", "A")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.RunGC(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from RunGC, got %v", err)
	}
}

func TestStore_InMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.Path = ""
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put(context.Background(), task("r1", "A")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.RunGC(); err != nil {
		t.Errorf("RunGC in memory: %v", err)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Put(ctx, task("r1", "A")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"no path", func(c *Config) { c.Path = "" }, true},
		{"in memory without path", func(c *Config) { c.Path = ""; c.InMemory = true }, false},
		{"small memtable", func(c *Config) { c.MemTableSize = 1024 }, true},
		{"one compactor", func(c *Config) { c.NumCompactors = 1 }, true},
		{"ratio one", func(c *Config) { c.GCDiscardRatio = 1 }, true},
		{"negative retries", func(c *Config) { c.ConflictRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
