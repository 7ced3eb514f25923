// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package ops

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/outpost/internal/engine"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/store"
)

type fakeConn struct{ online atomic.Bool }

func (c *fakeConn) Online() bool { return c.online.Load() }

type fixture struct {
	ctx      context.Context
	store    *store.Store
	mem      *remote.Memory
	conn     *fakeConn
	svc      *Service
	triggers atomic.Int32
}

func setup(t *testing.T, online bool) *fixture {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "store")
	cfg.SyncWrites = false
	cfg.ValueLogFileSize = 16 << 20
	cfg.GCInterval = 0
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{ctx: context.Background(), store: s, mem: remote.NewMemory(), conn: &fakeConn{}}
	f.conn.online.Store(online)
	f.svc = New(s, f.mem, f.conn, WithTrigger(func() { f.triggers.Add(1) }))
	return f
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := f.svc.Pending(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCreateRecord_Offline(t *testing.T) {
	f := setup(t, false)

	rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if !models.IsTempID(rec.ID) || rec.Confirmed {
		t.Errorf("record = %+v, want unconfirmed temp record", rec)
	}
	if f.mem.CallCount("") != 0 {
		t.Error("offline create reached the remote")
	}
	if f.pending(t) != 1 {
		t.Errorf("pending = %d, want 1", f.pending(t))
	}
	if f.triggers.Load() != 0 {
		t.Error("offline enqueue triggered a drain")
	}
	if has, err := f.svc.HasPending(f.ctx, rec.ID); err != nil || !has {
		t.Errorf("HasPending() = %v, %v; want true", has, err)
	}

	got, err := f.svc.GetRecord(f.ctx, rec.ID)
	if err != nil || got.Payload["title"] != "A" {
		t.Errorf("GetRecord = %+v, %v", got, err)
	}
	list, err := f.svc.ListRecords(f.ctx, "task", store.Filter{})
	if err != nil || len(list) != 1 {
		t.Errorf("ListRecords = %d records, %v", len(list), err)
	}
}

func TestCreateRecord_OnlineDirect(t *testing.T) {
	f := setup(t, true)

	rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if rec.ID != "r1" || !rec.Confirmed {
		t.Errorf("record = %+v, want confirmed r1", rec)
	}
	if f.pending(t) != 0 {
		t.Errorf("pending = %d, want 0", f.pending(t))
	}
	if cached, err := f.store.Get(f.ctx, "task", "r1"); err != nil || cached.Payload["title"] != "A" {
		t.Errorf("cached = %+v, %v", cached, err)
	}
}

func TestCreateRecord_QueuesBehindPendingActions(t *testing.T) {
	f := setup(t, false)
	if _, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"}); err != nil {
		t.Fatal(err)
	}

	f.conn.online.Store(true)
	rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "B"})
	if err != nil {
		t.Fatal(err)
	}
	if !models.IsTempID(rec.ID) {
		t.Errorf("id = %s, want temp id while the queue is not empty", rec.ID)
	}
	if f.mem.CallCount("") != 0 {
		t.Error("create jumped ahead of queued actions")
	}
	if f.triggers.Load() != 1 {
		t.Errorf("triggers = %d, want 1", f.triggers.Load())
	}
}

func TestCreateRecord_TransientFallsBack(t *testing.T) {
	f := setup(t, true)
	f.mem.FailNext("create", remote.StatusTransient, 1)

	rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if !models.IsTempID(rec.ID) || f.pending(t) != 1 {
		t.Errorf("record = %+v, pending = %d", rec, f.pending(t))
	}
	if f.triggers.Load() != 1 {
		t.Errorf("triggers = %d, want 1", f.triggers.Load())
	}
}

func TestCreateRecord_ValidationReturned(t *testing.T) {
	f := setup(t, true)
	f.mem.Validate = func(string, models.Payload) error { return errors.New("title required") }

	_, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{})
	if !errors.Is(err, ErrRejected) || !errors.Is(err, remote.ErrValidation) {
		t.Fatalf("err = %v, want ErrRejected wrapping a validation error", err)
	}
	if f.pending(t) != 0 {
		t.Error("rejected create was queued")
	}
	if list, _ := f.svc.ListRecords(f.ctx, "task", store.Filter{}); len(list) != 0 {
		t.Error("rejected create was stored")
	}
}

func TestCreateRecord_InvalidType(t *testing.T) {
	f := setup(t, false)
	if _, err := f.svc.CreateRecord(f.ctx, "Bad Type", nil); !errors.Is(err, ErrInvalidType) {
		t.Errorf("err = %v, want ErrInvalidType", err)
	}
}

func TestUpdateRecord(t *testing.T) {
	t.Run("offline merges locally", func(t *testing.T) {
		f := setup(t, false)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A", "note": "x"})

		updated, err := f.svc.UpdateRecord(f.ctx, rec.ID, models.Payload{"title": "B", "note": nil})
		if err != nil {
			t.Fatalf("UpdateRecord: %v", err)
		}
		if updated.Payload["title"] != "B" {
			t.Errorf("title = %v", updated.Payload["title"])
		}
		if _, ok := updated.Payload["note"]; ok {
			t.Error("null patch value should remove the key")
		}
		if updated.LocalVersion != 2 {
			t.Errorf("LocalVersion = %d, want 2", updated.LocalVersion)
		}
		if f.pending(t) != 2 {
			t.Errorf("pending = %d, want 2", f.pending(t))
		}
	})

	t.Run("online direct", func(t *testing.T) {
		f := setup(t, true)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})

		updated, err := f.svc.UpdateRecord(f.ctx, rec.ID, models.Payload{"done": true})
		if err != nil {
			t.Fatalf("UpdateRecord: %v", err)
		}
		if updated.Payload["done"] != true || updated.Payload["title"] != "A" {
			t.Errorf("payload = %v", updated.Payload)
		}
		if p, _ := f.mem.Record("task", rec.ID); p["done"] != true {
			t.Errorf("remote = %v", p)
		}
		if f.pending(t) != 0 {
			t.Errorf("pending = %d, want 0", f.pending(t))
		}
	})

	t.Run("online but unconfirmed queues", func(t *testing.T) {
		f := setup(t, false)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
		f.conn.online.Store(true)

		if _, err := f.svc.UpdateRecord(f.ctx, rec.ID, models.Payload{"done": true}); err != nil {
			t.Fatal(err)
		}
		if f.mem.CallCount("") != 0 || f.pending(t) != 2 {
			t.Errorf("calls = %d, pending = %d", f.mem.CallCount(""), f.pending(t))
		}
	})

	t.Run("remote not found removes local", func(t *testing.T) {
		f := setup(t, true)
		if err := f.store.Put(f.ctx, &models.Record{ID: "r7", EntityType: "task", Payload: models.Payload{}, Confirmed: true}); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.UpdateRecord(f.ctx, "r7", models.Payload{"a": 1})
		if !errors.Is(err, ErrRejected) || !errors.Is(err, remote.ErrNotFound) {
			t.Errorf("err = %v", err)
		}
		if _, err := f.svc.GetRecord(f.ctx, "r7"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRecord = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		f := setup(t, false)
		if _, err := f.svc.UpdateRecord(f.ctx, "nope", models.Payload{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteRecord(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		f := setup(t, false)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})

		if err := f.svc.DeleteRecord(f.ctx, rec.ID); err != nil {
			t.Fatalf("DeleteRecord: %v", err)
		}
		if _, err := f.svc.GetRecord(f.ctx, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRecord = %v, want ErrNotFound", err)
		}
		if f.pending(t) != 2 {
			t.Errorf("pending = %d, want 2", f.pending(t))
		}
	})

	t.Run("online direct", func(t *testing.T) {
		f := setup(t, true)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})

		if err := f.svc.DeleteRecord(f.ctx, rec.ID); err != nil {
			t.Fatalf("DeleteRecord: %v", err)
		}
		if f.mem.Len("task") != 0 {
			t.Error("remote record not deleted")
		}
		if _, err := f.svc.GetRecord(f.ctx, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRecord = %v, want ErrNotFound", err)
		}
	})

	t.Run("conflict returned", func(t *testing.T) {
		f := setup(t, true)
		rec, _ := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
		f.mem.FailNext("delete", remote.StatusConflict, 1)

		if err := f.svc.DeleteRecord(f.ctx, rec.ID); !errors.Is(err, ErrRejected) {
			t.Errorf("err = %v, want ErrRejected", err)
		}
		if _, err := f.svc.GetRecord(f.ctx, rec.ID); err != nil {
			t.Errorf("record should remain: %v", err)
		}
	})
}

// TestOfflineSession covers an offline create, edit and delete followed by
// a reconnect.
func TestOfflineSession(t *testing.T) {
	f := setup(t, false)
	f.mem.Seed("task", "b1", models.Payload{"title": "B"})
	if err := f.store.Put(f.ctx, &models.Record{ID: "b1", EntityType: "task", Payload: models.Payload{"title": "B"}, Confirmed: true}); err != nil {
		t.Fatal(err)
	}

	rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateRecord(f.ctx, rec.ID, models.Payload{"title": "A edited"}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteRecord(f.ctx, "b1"); err != nil {
		t.Fatal(err)
	}

	eng, err := engine.New(engine.DefaultConfig(), f.store, f.mem)
	if err != nil {
		t.Fatal(err)
	}
	f.conn.online.Store(true)
	if _, err := eng.Drain(f.ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if got := f.mem.CallCount(""); got != 2 {
		t.Errorf("remote calls = %d, want 2", got)
	}
	synced, err := f.svc.GetRecord(f.ctx, "r1")
	if err != nil || synced.Payload["title"] != "A edited" || !synced.Confirmed {
		t.Errorf("r1 = %+v, %v", synced, err)
	}
	if _, err := f.svc.GetRecord(f.ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b1 = %v, want ErrNotFound", err)
	}

	// Back online with an empty queue, mutations go straight through.
	if _, err := f.svc.UpdateRecord(f.ctx, "r1", models.Payload{"done": true}); err != nil {
		t.Fatal(err)
	}
	if f.pending(t) != 0 || f.mem.CallCount("update") != 1 {
		t.Errorf("pending = %d, updates = %d", f.pending(t), f.mem.CallCount("update"))
	}
}

// cancelingClient cancels the caller's context once the remote has
// answered, as when a request is abandoned right after the write landed.
type cancelingClient struct {
	*remote.Memory
	cancel context.CancelFunc
}

func (c *cancelingClient) Create(ctx context.Context, entityType string, payload models.Payload) (remote.Result, error) {
	defer c.cancel()
	return c.Memory.Create(ctx, entityType, payload)
}

func (c *cancelingClient) Update(ctx context.Context, entityType, id string, patch models.Payload) (remote.Result, error) {
	defer c.cancel()
	return c.Memory.Update(ctx, entityType, id, patch)
}

func (c *cancelingClient) Delete(ctx context.Context, entityType, id string) error {
	defer c.cancel()
	return c.Memory.Delete(ctx, entityType, id)
}

func TestDirectPath_CachesAfterCancel(t *testing.T) {
	tests := []struct {
		name  string
		run   func(ctx context.Context, svc *Service) error
		check func(t *testing.T, f *fixture)
	}{
		{
			name: "create",
			run: func(ctx context.Context, svc *Service) error {
				_, err := svc.CreateRecord(ctx, "task", models.Payload{"title": "A"})
				return err
			},
			check: func(t *testing.T, f *fixture) {
				rec, err := f.svc.GetRecord(f.ctx, "r2")
				if err != nil || rec.Payload["title"] != "A" || !rec.Confirmed {
					t.Errorf("r2 = %+v, %v", rec, err)
				}
			},
		},
		{
			name: "update",
			run: func(ctx context.Context, svc *Service) error {
				_, err := svc.UpdateRecord(ctx, "r1", models.Payload{"done": true})
				return err
			},
			check: func(t *testing.T, f *fixture) {
				rec, err := f.svc.GetRecord(f.ctx, "r1")
				if err != nil || rec.Payload["done"] != true {
					t.Errorf("r1 = %+v, %v", rec, err)
				}
			},
		},
		{
			name: "delete",
			run: func(ctx context.Context, svc *Service) error {
				return svc.DeleteRecord(ctx, "r1")
			},
			check: func(t *testing.T, f *fixture) {
				if _, err := f.svc.GetRecord(f.ctx, "r1"); !errors.Is(err, ErrNotFound) {
					t.Errorf("GetRecord = %v, want ErrNotFound", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, true)
			if _, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "seed"}); err != nil {
				t.Fatal(err)
			}

			ctx, cancel := context.WithCancel(f.ctx)
			defer cancel()
			svc := New(f.store, &cancelingClient{Memory: f.mem, cancel: cancel}, f.conn)
			if err := tt.run(ctx, svc); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			tt.check(t, f)
		})
	}
}

func TestMutationsByTempIDAfterSync(t *testing.T) {
	tests := []struct {
		name   string
		online bool
	}{
		{name: "online direct", online: true},
		{name: "offline queued", online: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, false)
			rec, err := f.svc.CreateRecord(f.ctx, "task", models.Payload{"title": "A"})
			if err != nil {
				t.Fatal(err)
			}
			eng, err := engine.New(engine.DefaultConfig(), f.store, f.mem)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := eng.Drain(f.ctx); err != nil {
				t.Fatalf("Drain: %v", err)
			}
			f.conn.online.Store(tt.online)

			updated, err := f.svc.UpdateRecord(f.ctx, rec.ID, models.Payload{"done": true})
			if err != nil {
				t.Fatalf("UpdateRecord(%s): %v", rec.ID, err)
			}
			if updated.ID != "r1" || updated.Payload["done"] != true {
				t.Errorf("updated = %+v", updated)
			}
			if err := f.svc.DeleteRecord(f.ctx, rec.ID); err != nil {
				t.Fatalf("DeleteRecord(%s): %v", rec.ID, err)
			}
			if _, err := f.svc.GetRecord(f.ctx, "r1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRecord(r1) = %v, want ErrNotFound", err)
			}

			if tt.online {
				if f.mem.Len("task") != 0 {
					t.Error("remote record not deleted")
				}
				return
			}
			queued, err := eng.Queue().DequeueBatch(f.ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(queued) != 2 {
				t.Fatalf("queued = %+v, want update and delete", queued)
			}
			for _, a := range queued {
				if a.TargetID != "r1" {
					t.Errorf("queued %s targets %s, want r1", a.Kind, a.TargetID)
				}
			}
		})
	}
}
