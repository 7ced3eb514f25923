// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package queue is the durable action queue.
//
// Actions live in the same Badger database as the records they mutate,
// under zero-padded sequence keys:
//
//	q/00000000000000000042   JSON models.QueuedAction
//	meta/seq                 last assigned sequence number
//
// Because keys sort by sequence, a prefix scan after a restart yields the
// actions in exactly the order they were enqueued; no in-memory state is
// needed to rebuild ordering.
//
// Every operation comes in two forms. The Tx form (EnqueueTx, RemapTx...)
// joins a transaction the caller already holds so it commits atomically with
// a correlated record write. The Queue methods open their own transaction.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/store"
	"github.com/tomtom215/outpost/internal/validation"
)

var (
	// ErrActionNotFound is returned when no action has the given sequence.
	ErrActionNotFound = errors.New("queued action not found")

	// ErrInvalidAction wraps action validation failures.
	ErrInvalidAction = errors.New("invalid action")
)

const prefixAction = "q/"

var keySequence = []byte("meta/seq")

func actionKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixAction, seq))
}

// EnqueueTx validates a, assigns the next sequence number and appends it.
// a.Sequence, a.EnqueuedAt (when zero) and a.Attempts are set in place.
func EnqueueTx(tx *store.Tx, a *models.QueuedAction) (uint64, error) {
	if err := validation.ValidateStruct(a); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}

	seq, err := tx.NextSequence(keySequence)
	if err != nil {
		return 0, fmt.Errorf("assign sequence: %w", err)
	}
	a.Sequence = seq
	a.Attempts = 0
	a.LastError = ""
	a.LastAttemptAt = nil
	a.Ack = nil
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = time.Now().UTC()
	}

	if err := tx.SetJSON(actionKey(seq), a); err != nil {
		return 0, fmt.Errorf("write action: %w", err)
	}
	return seq, nil
}

// PeekTx returns up to n actions from the head of the queue in sequence
// order. A non-positive n returns every action.
func PeekTx(tx *store.Tx, n int) ([]*models.QueuedAction, error) {
	var out []*models.QueuedAction
	err := scan(tx, func(a *models.QueuedAction) bool {
		out = append(out, a)
		return n <= 0 || len(out) < n
	})
	return out, err
}

// GetTx returns the action with seq.
func GetTx(tx *store.Tx, seq uint64) (*models.QueuedAction, error) {
	a := &models.QueuedAction{}
	if err := tx.GetJSON(actionKey(seq), a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("seq %d: %w", seq, ErrActionNotFound)
		}
		return nil, err
	}
	return a, nil
}

// PutTx overwrites an existing action, keeping its position.
func PutTx(tx *store.Tx, a *models.QueuedAction) error {
	if _, err := GetTx(tx, a.Sequence); err != nil {
		return err
	}
	return tx.SetJSON(actionKey(a.Sequence), a)
}

// RemoveTx deletes the action with seq.
func RemoveTx(tx *store.Tx, seq uint64) error {
	if _, err := GetTx(tx, seq); err != nil {
		return err
	}
	return tx.DeleteKey(actionKey(seq))
}

// ForTargetTx returns the actions targeting id, in sequence order.
func ForTargetTx(tx *store.Tx, id string) ([]*models.QueuedAction, error) {
	var out []*models.QueuedAction
	err := scan(tx, func(a *models.QueuedAction) bool {
		if a.TargetID == id {
			out = append(out, a)
		}
		return true
	})
	return out, err
}

// RemapTx rewrites every queued action that references oldID, either as its
// target or as a string value anywhere in its payload, to newID. It returns
// the number of actions rewritten. Sequence numbers are unchanged.
func RemapTx(tx *store.Tx, oldID, newID string) (int, error) {
	var changed []*models.QueuedAction
	err := scan(tx, func(a *models.QueuedAction) bool {
		dirty := false
		if a.TargetID == oldID {
			a.TargetID = newID
			dirty = true
		}
		if p, ok := a.Payload.ReplaceString(oldID, newID); ok {
			a.Payload = p
			dirty = true
		}
		if dirty {
			changed = append(changed, a)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	for _, a := range changed {
		if err := tx.SetJSON(actionKey(a.Sequence), a); err != nil {
			return 0, fmt.Errorf("rewrite seq %d: %w", a.Sequence, err)
		}
	}
	return len(changed), nil
}

// VoidTargetTx removes every action targeting id and returns them.
func VoidTargetTx(tx *store.Tx, id string) ([]*models.QueuedAction, error) {
	voided, err := ForTargetTx(tx, id)
	if err != nil {
		return nil, err
	}
	for _, a := range voided {
		if err := tx.DeleteKey(actionKey(a.Sequence)); err != nil {
			return nil, err
		}
	}
	return voided, nil
}

// LenTx returns the number of queued actions.
func LenTx(tx *store.Tx) (int, error) {
	return tx.Count([]byte(prefixAction))
}

func scan(tx *store.Tx, fn func(a *models.QueuedAction) bool) error {
	return tx.Scan([]byte(prefixAction), func(key, val []byte) (bool, error) {
		a := &models.QueuedAction{}
		if err := decodeAction(val, a); err != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(a), nil
	})
}

// Queue is the action queue bound to a store.
type Queue struct {
	store *store.Store
}

// New returns the queue kept in s.
func New(s *store.Store) *Queue {
	return &Queue{store: s}
}

// Store returns the backing store.
func (q *Queue) Store() *store.Store {
	return q.store
}

// Enqueue appends a and returns its sequence number once the write is durable.
func (q *Queue) Enqueue(ctx context.Context, a *models.QueuedAction) (uint64, error) {
	var seq uint64
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		seq, err = EnqueueTx(tx, a)
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.QueueEnqueued.WithLabelValues(string(a.Kind)).Inc()
	q.refreshPending(ctx)
	return seq, nil
}

// DequeueBatch returns up to n actions from the head of the queue without
// removing them. Actions leave the queue through MarkSucceeded or the
// engine's drop rules.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]*models.QueuedAction, error) {
	var out []*models.QueuedAction
	err := q.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = PeekTx(tx, n)
		return err
	})
	return out, err
}

// MarkSucceeded removes the action with seq.
func (q *Queue) MarkSucceeded(ctx context.Context, seq uint64) error {
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		return RemoveTx(tx, seq)
	})
	if err == nil {
		q.refreshPending(ctx)
	}
	return err
}

// MarkFailed keeps the action queued, increments its attempts and records
// cause. It returns the updated action.
func (q *Queue) MarkFailed(ctx context.Context, seq uint64, cause error) (*models.QueuedAction, error) {
	var updated *models.QueuedAction
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		a, err := GetTx(tx, seq)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		a.Attempts++
		a.LastAttemptAt = &now
		if cause != nil {
			a.LastError = cause.Error()
		}
		updated = a
		return PutTx(tx, a)
	})
	return updated, err
}

// Remap rewrites references to oldID in the queue. See RemapTx.
func (q *Queue) Remap(ctx context.Context, oldID, newID string) (int, error) {
	var n int
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = RemapTx(tx, oldID, newID)
		return err
	})
	if err == nil {
		metrics.QueueRemapped.Add(float64(n))
	}
	return n, err
}

// VoidTarget drops every action targeting id.
func (q *Queue) VoidTarget(ctx context.Context, id string) ([]*models.QueuedAction, error) {
	var voided []*models.QueuedAction
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		voided, err = VoidTargetTx(tx, id)
		return err
	})
	if err == nil {
		q.refreshPending(ctx)
	}
	return voided, err
}

// ForTarget returns the actions targeting id.
func (q *Queue) ForTarget(ctx context.Context, id string) ([]*models.QueuedAction, error) {
	var out []*models.QueuedAction
	err := q.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = ForTargetTx(tx, id)
		return err
	})
	return out, err
}

// Len returns the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = LenTx(tx)
		return err
	})
	if err == nil {
		metrics.QueuePending.Set(float64(n))
	}
	return n, err
}

func (q *Queue) refreshPending(ctx context.Context) {
	// Len updates the gauge; a failure here only leaves it stale.
	_, _ = q.Len(ctx)
}

func decodeAction(data []byte, a *models.QueuedAction) error {
	return json.Unmarshal(data, a)
}
