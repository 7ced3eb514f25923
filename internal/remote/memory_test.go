// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/tomtom215/outpost/internal/models"
)

func TestMemory_CRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	res, err := m.Create(ctx, "task", models.Payload{"title": "A"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID != "r1" {
		t.Errorf("first id = %q, want r1", res.ID)
	}
	res2, _ := m.Create(ctx, "task", models.Payload{"title": "B"})
	if res2.ID != "r2" {
		t.Errorf("second id = %q, want r2", res2.ID)
	}

	upd, err := m.Update(ctx, "task", "r1", models.Payload{"done": true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.Payload["title"] != "A" || upd.Payload["done"] != true {
		t.Errorf("merged payload = %v", upd.Payload)
	}

	got, err := m.Get(ctx, "task", "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload["done"] != true {
		t.Errorf("Get payload = %v", got.Payload)
	}

	if err := m.Delete(ctx, "task", "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.Len("task") != 1 {
		t.Errorf("Len = %d, want 1", m.Len("task"))
	}
	if m.CallCount("") != 5 {
		t.Errorf("CallCount = %d, want 5", m.CallCount(""))
	}
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Update(ctx, "task", "missing", models.Payload{"a": 1}); StatusOf(err) != StatusNotFound {
		t.Errorf("Update missing = %v, want not_found", err)
	}
	if err := m.Delete(ctx, "task", "missing"); StatusOf(err) != StatusNotFound {
		t.Errorf("Delete missing = %v, want not_found", err)
	}
	if _, err := m.Get(ctx, "task", "missing"); StatusOf(err) != StatusNotFound {
		t.Errorf("Get missing = %v, want not_found", err)
	}
}

func TestMemory_FailNext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.FailNext("create", StatusTransient, 2)

	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, "task", nil); StatusOf(err) != StatusTransient {
			t.Fatalf("attempt %d: err = %v, want transient", i, err)
		}
	}
	res, err := m.Create(ctx, "task", nil)
	if err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if res.ID != "r1" {
		t.Errorf("id = %q, failed attempts must not consume ids", res.ID)
	}
	if m.CallCount("create") != 3 {
		t.Errorf("create calls = %d, want 3", m.CallCount("create"))
	}

	m.FailNext("update", StatusConflict, 1)
	m.FailNext("update", StatusConflict, 0)
	if _, err := m.Update(ctx, "task", "r1", models.Payload{"a": 1}); err != nil {
		t.Errorf("cleared fault still applied: %v", err)
	}
}

func TestMemory_Validate(t *testing.T) {
	m := NewMemory()
	m.Validate = func(_ string, p models.Payload) error {
		if _, ok := p["title"]; !ok {
			return errors.New("title required")
		}
		return nil
	}
	ctx := context.Background()

	_, err := m.Create(ctx, "task", models.Payload{"done": false})
	if StatusOf(err) != StatusValidation {
		t.Fatalf("err = %v, want validation", err)
	}
	if m.Len("task") != 0 {
		t.Error("rejected create was stored")
	}

	m.Seed("task", "r9", models.Payload{"title": "seeded"})
	if _, err := m.Update(ctx, "task", "r9", models.Payload{"title": nil}); StatusOf(err) != StatusValidation {
		t.Errorf("patch removing title = %v, want validation", err)
	}
	p, _ := m.Record("task", "r9")
	if p["title"] != "seeded" {
		t.Errorf("rejected patch changed record: %v", p)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Create(ctx, "task", nil); StatusOf(err) != StatusTransient {
		t.Errorf("err = %v, want transient", err)
	}
	if m.Len("task") != 0 {
		t.Error("canceled create was stored")
	}
}
