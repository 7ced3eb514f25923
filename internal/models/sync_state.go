// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package models

import "time"

// EngineStatus is the sync engine state.
type EngineStatus string

const (
	StatusIdle         EngineStatus = "idle"
	StatusDraining     EngineStatus = "draining"
	StatusBackoff      EngineStatus = "backoff"
	StatusAuthRequired EngineStatus = "auth_required"
)

// SyncState summarizes the engine for status reporting. It is persisted so a
// restarted process can report when it last synced.
type SyncState struct {
	LastSyncedAt  *time.Time   `json:"last_synced_at,omitempty"`
	PendingCount  int          `json:"pending_count"`
	Status        EngineStatus `json:"status"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
}
