// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"context"
	"strconv"
	"sync"

	"github.com/tomtom215/outpost/internal/models"
)

// Call is one request observed by Memory.
type Call struct {
	Op         string
	EntityType string
	ID         string
	Payload    models.Payload
}

type fault struct {
	status Status
	times  int
}

// Memory is an in-process system of record. It assigns canonical ids
// "r1", "r2", ... and supports fault injection per operation, which makes
// it the backend for tests and for running the agent without a server.
type Memory struct {
	mu      sync.Mutex
	records map[string]map[string]models.Payload
	nextID  int
	calls   []Call
	faults  map[string]*fault

	// Validate, when set, rejects creates and updates with a validation
	// error. It sees the full merged payload.
	Validate func(entityType string, payload models.Payload) error
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[string]models.Payload),
		faults:  make(map[string]*fault),
	}
}

// Seed stores a record under a fixed id without counting a call.
func (m *Memory) Seed(entityType, id string, payload models.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(entityType)[id] = payload.Clone()
}

// FailNext makes the next times calls of op ("create", "update", "delete",
// "get") fail with status. A non-positive times clears the fault.
func (m *Memory) FailNext(op string, status Status, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if times <= 0 {
		delete(m.faults, op)
		return
	}
	m.faults[op] = &fault{status: status, times: times}
}

// Calls returns a copy of every call received, in order. Injected failures
// are included.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls of op, or of all ops when op is empty.
func (m *Memory) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op == "" {
		return len(m.calls)
	}
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Record returns the stored payload for a record.
func (m *Memory) Record(entityType, id string) (models.Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[entityType][id]
	return p.Clone(), ok
}

// Len returns the number of records of entityType.
func (m *Memory) Len(entityType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[entityType])
}

// Create implements Client.
func (m *Memory) Create(ctx context.Context, entityType string, payload models.Payload) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "create", entityType, "", payload); err != nil {
		return Result{}, err
	}
	if m.Validate != nil {
		if err := m.Validate(entityType, payload); err != nil {
			return Result{}, &Error{Status: StatusValidation, Message: err.Error(), Err: err}
		}
	}
	m.nextID++
	id := "r" + strconv.Itoa(m.nextID)
	stored := payload.Clone()
	if stored == nil {
		stored = models.Payload{}
	}
	m.table(entityType)[id] = stored
	return Result{ID: id, Payload: stored.Clone()}, nil
}

// Update implements Client.
func (m *Memory) Update(ctx context.Context, entityType, id string, patch models.Payload) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "update", entityType, id, patch); err != nil {
		return Result{}, err
	}
	current, ok := m.records[entityType][id]
	if !ok {
		return Result{}, NewError(StatusNotFound, "record not found")
	}
	merged := current.Merge(patch)
	if m.Validate != nil {
		if err := m.Validate(entityType, merged); err != nil {
			return Result{}, &Error{Status: StatusValidation, Message: err.Error(), Err: err}
		}
	}
	m.records[entityType][id] = merged
	return Result{ID: id, Payload: merged.Clone()}, nil
}

// Delete implements Client.
func (m *Memory) Delete(ctx context.Context, entityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete", entityType, id, nil); err != nil {
		return err
	}
	if _, ok := m.records[entityType][id]; !ok {
		return NewError(StatusNotFound, "record not found")
	}
	delete(m.records[entityType], id)
	return nil
}

// Get implements Fetcher.
func (m *Memory) Get(ctx context.Context, entityType, id string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "get", entityType, id, nil); err != nil {
		return Result{}, err
	}
	p, ok := m.records[entityType][id]
	if !ok {
		return Result{}, NewError(StatusNotFound, "record not found")
	}
	return Result{ID: id, Payload: p.Clone()}, nil
}

// begin records the call and applies context cancellation and injected
// faults. Callers hold m.mu.
func (m *Memory) begin(ctx context.Context, op, entityType, id string, payload models.Payload) error {
	m.calls = append(m.calls, Call{Op: op, EntityType: entityType, ID: id, Payload: payload.Clone()})
	if err := ctx.Err(); err != nil {
		return &Error{Status: StatusTransient, Message: "request canceled", Err: err}
	}
	if f, ok := m.faults[op]; ok {
		f.times--
		if f.times <= 0 {
			delete(m.faults, op)
		}
		return NewError(f.status, "injected "+string(f.status)+" failure")
	}
	return nil
}

func (m *Memory) table(entityType string) map[string]models.Payload {
	t, ok := m.records[entityType]
	if !ok {
		t = make(map[string]models.Payload)
		m.records[entityType] = t
	}
	return t
}
