// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids generated locally for records the remote has not
// confirmed yet.
const TempIDPrefix = "tmp_"

// NewTempID returns a globally unique temp id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Record is a domain entity held in the local store.
type Record struct {
	ID         string  `json:"id" validate:"required"`
	EntityType string  `json:"entity_type" validate:"required,entitytype"`
	Payload    Payload `json:"payload"`

	// LocalVersion increments on every local write.
	LocalVersion uint64 `json:"local_version"`

	// Confirmed is false while the record only exists locally.
	Confirmed bool `json:"confirmed"`

	// Stale is set when the remote rejected a local edit with a version
	// conflict and the server view could not be reloaded.
	Stale bool `json:"stale,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = r.Payload.Clone()
	return &c
}
