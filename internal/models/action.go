// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package models

import "time"

// ActionKind is the mutation a QueuedAction carries.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// QueuedAction is one pending mutation waiting to be replayed against the
// remote system of record.
type QueuedAction struct {
	Sequence   uint64     `json:"seq"`
	Kind       ActionKind `json:"kind" validate:"required,oneof=create update delete"`
	TargetType string     `json:"target_type" validate:"required,entitytype"`
	TargetID   string     `json:"target_id" validate:"required"`

	// Payload is the full body for a create and a merge patch for an update.
	Payload Payload `json:"payload,omitempty"`

	EnqueuedAt    time.Time  `json:"enqueued_at"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// Ack is set on a create the remote accepted whose local confirmation
	// has not been committed. Replaying it confirms locally without a
	// second remote call.
	Ack *CreateAck `json:"ack,omitempty"`
}

// CreateAck is the remote's answer to a create, kept until it is applied.
type CreateAck struct {
	ID      string  `json:"id"`
	Payload Payload `json:"payload,omitempty"`

	// Folded lists the sequences of updates sent as part of the create.
	Folded []uint64 `json:"folded,omitempty"`
}
