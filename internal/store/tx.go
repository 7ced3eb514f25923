// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/validation"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("write in read-only transaction")

// Tx is one Badger transaction. It is only valid inside the Update or View
// callback that produced it.
type Tx struct {
	txn      *badger.Txn
	ctx      context.Context
	readOnly bool
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Confirmed *bool
	Stale     *bool

	// Match requires equality on top-level payload fields.
	Match map[string]any

	// Limit caps the number of results when positive.
	Limit int
}

func (f Filter) matches(r *models.Record) bool {
	if f.Confirmed != nil && r.Confirmed != *f.Confirmed {
		return false
	}
	if f.Stale != nil && r.Stale != *f.Stale {
		return false
	}
	return r.Payload.Matches(f.Match)
}

// GetRecord returns the record of entityType with id, or ErrNotFound.
func (tx *Tx) GetRecord(entityType, id string) (*models.Record, error) {
	rec := &models.Record{}
	if err := tx.GetJSON(recordKey(entityType, id), rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("record %s/%s: %w", entityType, id, ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

// LookupRecord resolves id through the id index. A temp id with no record
// of its own follows its alias to the canonical record.
func (tx *Tx) LookupRecord(id string) (*models.Record, error) {
	entityType, err := tx.typeOf(id)
	if errors.Is(err, ErrNotFound) && models.IsTempID(id) {
		canonical, aerr := tx.aliasOf(id)
		if aerr != nil {
			return nil, err
		}
		if entityType, err = tx.typeOf(canonical); err != nil {
			return nil, err
		}
		id = canonical
	}
	if err != nil {
		return nil, err
	}
	return tx.GetRecord(entityType, id)
}

// PutAlias makes tempID resolve to the canonical id in LookupRecord.
func (tx *Tx) PutAlias(tempID, id string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if err := tx.txn.Set(aliasKey(tempID), []byte(id)); err != nil {
		return fmt.Errorf("write alias: %w", err)
	}
	return nil
}

func (tx *Tx) aliasOf(tempID string) (string, error) {
	item, err := tx.txn.Get(aliasKey(tempID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("alias %s: %w", tempID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read alias: %w", err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("read alias: %w", err)
	}
	return string(v), nil
}

func (tx *Tx) typeOf(id string) (string, error) {
	item, err := tx.txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read id index: %w", err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("read id index: %w", err)
	}
	return string(v), nil
}

// PutRecord upserts rec. It sets rec.LocalVersion to one past the stored
// version and stamps rec.UpdatedAt.
func (tx *Tx) PutRecord(rec *models.Record) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if err := validation.ValidateStruct(rec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	existingType, err := tx.typeOf(rec.ID)
	switch {
	case err == nil && existingType != rec.EntityType:
		return fmt.Errorf("record %s is a %s: %w", rec.ID, existingType, ErrTypeMismatch)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	var version uint64
	if prev, err := tx.GetRecord(rec.EntityType, rec.ID); err == nil {
		version = prev.LocalVersion
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	rec.LocalVersion = version + 1
	rec.UpdatedAt = time.Now().UTC()

	if err := tx.SetJSON(recordKey(rec.EntityType, rec.ID), rec); err != nil {
		return err
	}
	if err := tx.txn.Set(idKey(rec.ID), []byte(rec.EntityType)); err != nil {
		return fmt.Errorf("write id index: %w", err)
	}
	return nil
}

// DeleteRecord removes the record and its id index entry, or returns
// ErrNotFound.
func (tx *Tx) DeleteRecord(entityType, id string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	key := recordKey(entityType, id)
	if _, err := tx.txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("record %s/%s: %w", entityType, id, ErrNotFound)
		}
		return fmt.Errorf("read record: %w", err)
	}
	if err := tx.txn.Delete(key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := tx.txn.Delete(idKey(id)); err != nil {
		return fmt.Errorf("delete id index: %w", err)
	}
	return nil
}

// ListRecords returns the records of entityType matching filter, ordered by id.
func (tx *Tx) ListRecords(entityType string, filter Filter) ([]*models.Record, error) {
	var out []*models.Record
	err := tx.Scan([]byte(prefixRecord+entityType+"/"), func(_, val []byte) (bool, error) {
		rec := &models.Record{}
		if err := decode(val, rec); err != nil {
			return false, fmt.Errorf("decode record: %w", err)
		}
		if filter.matches(rec) {
			out = append(out, rec)
		}
		return filter.Limit <= 0 || len(out) < filter.Limit, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetJSON decodes the value at key into v, or returns ErrNotFound.
func (tx *Tx) GetJSON(key []byte, v any) error {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := decode(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// SetJSON encodes v and stores it at key.
func (tx *Tx) SetJSON(key []byte, v any) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := tx.txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// DeleteKey removes key. Deleting a missing key is not an error.
func (tx *Tx) DeleteKey(key []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if err := tx.txn.Delete(key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan calls fn for every key with prefix in ascending key order until fn
// returns false or an error. fn must not write through tx; collect the keys
// and write after Scan returns.
func (tx *Tx) Scan(prefix []byte, fn func(key, val []byte) (bool, error)) error {
	it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := tx.ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		key := item.KeyCopy(nil)
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		more, err := fn(key, val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Count returns the number of keys with prefix.
func (tx *Tx) Count(prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := tx.ctx.Err(); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// NextSequence increments the big-endian counter at key and returns the new
// value. The first call returns 1.
func (tx *Tx) NextSequence(key []byte) (uint64, error) {
	if tx.readOnly {
		return 0, ErrReadOnly
	}
	var current uint64
	item, err := tx.txn.Get(key)
	switch {
	case err == nil:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return 0, fmt.Errorf("read sequence: %w", err)
		}
		if len(val) != 8 {
			return 0, fmt.Errorf("corrupt sequence at %s: %d bytes", key, len(val))
		}
		current = binary.BigEndian.Uint64(val)
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, fmt.Errorf("read sequence: %w", err)
	}

	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := tx.txn.Set(key, buf); err != nil {
		return 0, fmt.Errorf("write sequence: %w", err)
	}
	return next, nil
}
