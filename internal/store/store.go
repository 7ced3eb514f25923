// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package store is the durable local record store, backed by BadgerDB.
//
// One keyed collection is kept per entity type, alongside an id index and a
// small metadata area. Other packages (the action queue) keep their own
// collections in the same database so that a queue mutation and the record
// write it belongs to can commit in one transaction:
//
//	err := st.Update(ctx, func(tx *store.Tx) error {
//	    if err := tx.PutRecord(rec); err != nil {
//	        return err
//	    }
//	    _, err := queue.EnqueueTx(tx, action)
//	    return err
//	})
//
// Key layout:
//
//	rec/<type>/<id>   JSON models.Record
//	ids/<id>          entity type of the record with that id
//	meta/syncstate    JSON models.SyncState
//
// Writes are fsynced before Update returns when SyncWrites is enabled.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
)

var (
	// ErrClosed is returned for any operation on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrNotFound is returned when a record or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTypeMismatch is returned when an id is already used by a record of
	// another entity type.
	ErrTypeMismatch = errors.New("id already used by another entity type")

	// ErrInvalidRecord wraps record validation failures.
	ErrInvalidRecord = errors.New("invalid record")
)

const (
	prefixRecord = "rec/"
	prefixID     = "ids/"
	prefixAlias  = "alias/"
	keySyncState = "meta/syncstate"
)

// Store is the Badger-backed local store.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumCompactors = cfg.NumCompactors
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// Update runs fn in a read-write transaction and commits it. fn may be run
// more than once if the commit loses a write conflict, so it must not keep
// side effects outside the transaction.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	var err error
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&Tx{txn: txn, ctx: ctx})
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		metrics.StoreWrites.WithLabelValues("conflict_retry").Inc()
		logging.Debug().Int("attempt", attempt+1).Msg("Store transaction conflict, retrying")
	}

	if err != nil {
		metrics.StoreWrites.WithLabelValues("error").Inc()
		return err
	}
	metrics.StoreWrites.WithLabelValues("ok").Inc()
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, ctx: ctx, readOnly: true})
	})
}

// Get returns the record of entityType with id.
func (s *Store) Get(ctx context.Context, entityType, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.GetRecord(entityType, id)
		return err
	})
	return rec, err
}

// Lookup returns the record with id regardless of its entity type.
// A confirmed record is also found by the temp id it was created under.
func (s *Store) Lookup(ctx context.Context, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		rec, err = tx.LookupRecord(id)
		return err
	})
	return rec, err
}

// List returns the records of entityType that match filter, ordered by id.
func (s *Store) List(ctx context.Context, entityType string, filter Filter) ([]*models.Record, error) {
	var recs []*models.Record
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		recs, err = tx.ListRecords(entityType, filter)
		return err
	})
	return recs, err
}

// Put upserts rec. LocalVersion and UpdatedAt are assigned by the store.
func (s *Store) Put(ctx context.Context, rec *models.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutRecord(rec)
	})
}

// Delete removes the record of entityType with id.
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteRecord(entityType, id)
	})
}

// LoadSyncState returns the persisted sync state, or the zero state with
// StatusIdle if none has been saved.
func (s *Store) LoadSyncState(ctx context.Context) (models.SyncState, error) {
	state := models.SyncState{Status: models.StatusIdle}
	err := s.View(ctx, func(tx *Tx) error {
		err := tx.GetJSON([]byte(keySyncState), &state)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	return state, err
}

// SaveSyncState persists state.
func (s *Store) SaveSyncState(ctx context.Context, state models.SyncState) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.SetJSON([]byte(keySyncState), state)
	})
}

// Stats describes the store contents.
type Stats struct {
	Records   int64
	SizeBytes int64
}

// Stats counts records and reports the on-disk size, updating the gauges.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.View(ctx, func(tx *Tx) error {
		n, err := tx.Count([]byte(prefixRecord))
		st.Records = int64(n)
		return err
	})
	if err != nil {
		return Stats{}, err
	}

	lsm, vlog := s.db.Size()
	st.SizeBytes = lsm + vlog

	metrics.StoreRecords.Set(float64(st.Records))
	metrics.StoreSizeBytes.Set(float64(st.SizeBytes))
	return st, nil
}

// RunGC runs value log garbage collection until Badger reports nothing left
// to rewrite.
func (s *Store) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.cfg.InMemory {
		return nil
	}

	rewrites := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			metrics.StoreGCRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("run value log GC: %w", err)
		}
		rewrites++
	}

	if rewrites > 0 {
		metrics.StoreGCRuns.WithLabelValues("rewritten").Inc()
	} else {
		metrics.StoreGCRuns.WithLabelValues("no_rewrite").Inc()
	}
	return nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Close flushes and closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	timeout := s.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

func recordKey(entityType, id string) []byte {
	return []byte(prefixRecord + entityType + "/" + id)
}

func idKey(id string) []byte {
	return []byte(prefixID + id)
}

func aliasKey(tempID string) []byte {
	return []byte(prefixAlias + tempID)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
