// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package ops is the operation layer the application calls to read and
// mutate records.
//
// Mutations take one of two paths. When the device is online and nothing
// is queued, the remote is called directly and the confirmed result is
// cached locally. Otherwise the record is written optimistically and the
// matching action is enqueued in the same transaction, and the call returns
// at once; the sync engine replays the action later.
package ops

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/queue"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/store"
	"github.com/tomtom215/outpost/internal/validation"
)

var (
	// ErrNotFound is returned for ids unknown to the local store.
	ErrNotFound = store.ErrNotFound

	// ErrRejected wraps a validation or conflict answer from the remote on
	// the direct path.
	ErrRejected = errors.New("rejected by remote")

	// ErrInvalidType is returned for malformed entity type names.
	ErrInvalidType = errors.New("invalid entity type")
)

// Connectivity reports the last known connectivity. *connectivity.Monitor
// implements it.
type Connectivity interface {
	Online() bool
}

// Option configures a Service.
type Option func(*Service)

// WithTrigger sets a function called after an action is queued while
// online, typically (*engine.Engine).Trigger.
func WithTrigger(trigger func()) Option {
	return func(s *Service) { s.trigger = trigger }
}

// Service implements the record operations.
type Service struct {
	store   *store.Store
	queue   *queue.Queue
	client  remote.Client
	conn    Connectivity
	trigger func()
}

// New returns a Service. A nil client or conn makes every mutation take
// the queued path.
func New(s *store.Store, client remote.Client, conn Connectivity, opts ...Option) *Service {
	svc := &Service{
		store:  s,
		queue:  queue.New(s),
		client: client,
		conn:   conn,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// GetRecord returns the local view of a record: the last confirmed remote
// state with every pending action applied.
func (s *Service) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	return s.store.Lookup(ctx, id)
}

// ListRecords returns the local records of entityType matching filter.
func (s *Service) ListRecords(ctx context.Context, entityType string, filter store.Filter) ([]*models.Record, error) {
	if !validation.ValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, entityType)
	}
	return s.store.List(ctx, entityType, filter)
}

// Pending returns the number of queued actions.
func (s *Service) Pending(ctx context.Context) (int, error) {
	return s.queue.Len(ctx)
}

// HasPending reports whether any queued action targets id.
func (s *Service) HasPending(ctx context.Context, id string) (bool, error) {
	actions, err := s.queue.ForTarget(ctx, id)
	if err != nil {
		return false, err
	}
	return len(actions) > 0, nil
}

// CreateRecord creates a record. The returned record carries a canonical
// id when the remote was reached and a temp id otherwise.
func (s *Service) CreateRecord(ctx context.Context, entityType string, payload models.Payload) (*models.Record, error) {
	if !validation.ValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, entityType)
	}
	if payload == nil {
		payload = models.Payload{}
	}

	if s.direct(ctx) {
		res, err := s.client.Create(ctx, entityType, payload)
		switch remote.StatusOf(err) {
		case remote.StatusOK:
			body := res.Payload
			if body == nil {
				body = payload
			}
			rec := &models.Record{ID: res.ID, EntityType: entityType, Payload: body, Confirmed: true}
			if err := s.store.Put(context.WithoutCancel(ctx), rec); err != nil {
				return nil, fmt.Errorf("cache confirmed record: %w", err)
			}
			return rec, nil
		case remote.StatusValidation, remote.StatusConflict, remote.StatusNotFound:
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		default:
			s.fallback(ctx, "create", err)
		}
	}

	rec := &models.Record{ID: models.NewTempID(), EntityType: entityType, Payload: payload.Clone()}
	err := s.enqueue(ctx, &models.QueuedAction{
		Kind:       models.ActionCreate,
		TargetType: entityType,
		TargetID:   rec.ID,
		Payload:    payload.Clone(),
	}, func(tx *store.Tx) error {
		return tx.PutRecord(rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecord applies a merge patch to the record with id. A temp id keeps
// working after its record is confirmed.
func (s *Service) UpdateRecord(ctx context.Context, id string, patch models.Payload) (*models.Record, error) {
	current, err := s.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	id = current.ID

	if current.Confirmed && s.direct(ctx) {
		res, err := s.client.Update(ctx, current.EntityType, id, patch)
		switch remote.StatusOf(err) {
		case remote.StatusOK:
			body := res.Payload
			if body == nil {
				body = current.Payload.Merge(patch)
			}
			rec := &models.Record{ID: id, EntityType: current.EntityType, Payload: body, Confirmed: true}
			cctx := context.WithoutCancel(ctx)
			if err := s.store.Put(cctx, rec); err != nil {
				return nil, fmt.Errorf("cache confirmed record: %w", err)
			}
			return s.store.Get(cctx, current.EntityType, id)
		case remote.StatusNotFound:
			s.forget(context.WithoutCancel(ctx), current)
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		case remote.StatusValidation, remote.StatusConflict:
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		default:
			s.fallback(ctx, "update", err)
		}
	}

	var updated *models.Record
	err = s.enqueue(ctx, &models.QueuedAction{
		Kind:       models.ActionUpdate,
		TargetType: current.EntityType,
		TargetID:   id,
		Payload:    patch.Clone(),
	}, func(tx *store.Tx) error {
		rec, err := tx.GetRecord(current.EntityType, id)
		if err != nil {
			return err
		}
		rec.Payload = rec.Payload.Merge(patch)
		if err := tx.PutRecord(rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRecord deletes the record with id.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	current, err := s.store.Lookup(ctx, id)
	if err != nil {
		return err
	}
	id = current.ID

	if current.Confirmed && s.direct(ctx) {
		err := s.client.Delete(ctx, current.EntityType, id)
		switch remote.StatusOf(err) {
		case remote.StatusOK, remote.StatusNotFound:
			return s.store.Delete(context.WithoutCancel(ctx), current.EntityType, id)
		case remote.StatusValidation, remote.StatusConflict:
			return fmt.Errorf("%w: %w", ErrRejected, err)
		default:
			s.fallback(ctx, "delete", err)
		}
	}

	return s.enqueue(ctx, &models.QueuedAction{
		Kind:       models.ActionDelete,
		TargetType: current.EntityType,
		TargetID:   id,
	}, func(tx *store.Tx) error {
		return tx.DeleteRecord(current.EntityType, id)
	})
}

// direct reports whether a mutation may go straight to the remote: the
// device is online and no earlier action is waiting to be replayed.
func (s *Service) direct(ctx context.Context) bool {
	if s.client == nil || s.conn == nil || !s.conn.Online() {
		return false
	}
	n, err := s.queue.Len(ctx)
	return err == nil && n == 0
}

// enqueue commits the optimistic local write and the action together.
func (s *Service) enqueue(ctx context.Context, a *models.QueuedAction, write func(tx *store.Tx) error) error {
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		if err := write(tx); err != nil {
			return err
		}
		_, err := queue.EnqueueTx(tx, a)
		return err
	})
	if err != nil {
		return err
	}

	metrics.QueueEnqueued.WithLabelValues(string(a.Kind)).Inc()
	_, _ = s.queue.Len(ctx)
	logging.Debug().
		Uint64("seq", a.Sequence).
		Str("kind", string(a.Kind)).
		Str("target_id", a.TargetID).
		Msg("Action queued")

	if s.trigger != nil && s.conn != nil && s.conn.Online() {
		s.trigger()
	}
	return nil
}

func (s *Service) fallback(ctx context.Context, op string, err error) {
	logging.Ctx(ctx).Debug().Err(err).Str("op", op).Msg("Remote unavailable, queueing instead")
}

func (s *Service) forget(ctx context.Context, rec *models.Record) {
	if err := s.store.Delete(ctx, rec.EntityType, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Ctx(ctx).Warn().Err(err).Str("id", rec.ID).Msg("Failed to remove record missing remotely")
	}
}
