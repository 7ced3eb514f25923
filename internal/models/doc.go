// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package models defines the data types shared by the store, the action
// queue, the sync engine and the operation layer.
//
// # Records
//
// A Record is one domain entity held in the local store. Its ID is either a
// temp id (see NewTempID) for a record that only exists locally, or the
// canonical id assigned by the remote system of record. The payload a
// caller sees is always the last confirmed remote snapshot with every
// still-queued action for that id applied in sequence order.
//
// # Actions
//
// A QueuedAction is one pending mutation. Sequence numbers are assigned
// inside the same transaction that persists the action, so the queue can be
// rebuilt in order from storage alone after a restart.
//
// # Payloads
//
// Payloads are JSON objects. Updates carry a shallow merge patch: each key
// overwrites the stored value and a null value removes the key.
package models
