// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package models

import "time"

// OutcomeKind classifies a terminal result for a queued action.
type OutcomeKind string

const (
	// OutcomeSynced means the remote accepted the action.
	OutcomeSynced OutcomeKind = "synced"
	// OutcomeConflict means the remote reported not-found or a version
	// conflict and the local store was reconciled.
	OutcomeConflict OutcomeKind = "conflict"
	// OutcomeRejected means the remote rejected the payload as invalid.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeVoided means the action was dropped because the create it
	// depended on failed.
	OutcomeVoided OutcomeKind = "voided"
	// OutcomeCancelled means a local create and delete cancelled each other.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is published for every action that leaves the queue.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Sequence    uint64      `json:"seq"`
	ActionKind  ActionKind  `json:"action_kind"`
	TargetType  string      `json:"target_type"`
	TargetID    string      `json:"target_id"`
	CanonicalID string      `json:"canonical_id,omitempty"`
	Message     string      `json:"message,omitempty"`

	// UserFacing marks outcomes the application must show to the user.
	UserFacing bool      `json:"user_facing"`
	At         time.Time `json:"at"`
}
