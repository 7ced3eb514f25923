// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package store

import (
	"time"
)

// Config holds local store settings.
type Config struct {
	// Path is the Badger data directory.
	Path string

	// InMemory keeps all data in memory. Path is ignored.
	InMemory bool

	// SyncWrites fsyncs on every commit. Required for durability before
	// acknowledgment; disable only in tests.
	// Default: true
	SyncWrites bool

	// Compression enables Snappy compression of table blocks.
	// Default: true
	Compression bool

	// MemTableSize is the Badger memtable size in bytes.
	// Default: 16MB
	MemTableSize int64

	// ValueLogFileSize is the maximum size of one value log file.
	// Default: 64MB
	ValueLogFileSize int64

	// NumCompactors is the number of Badger LSM compaction workers (minimum 2).
	// Default: 2
	NumCompactors int

	// GCInterval is how often the Compactor runs value log GC.
	// Default: 10m
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	// Default: 0.5
	GCDiscardRatio float64

	// ConflictRetries is how many times Update reruns a transaction that
	// lost a write conflict.
	// Default: 3
	ConflictRetries int

	// CloseTimeout bounds how long Close waits for Badger.
	// Default: 30s
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/outpost",
		SyncWrites:       true,
		Compression:      true,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		ConflictRetries:  3,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return &ConfigError{Field: "Path", Message: "required unless InMemory is set"}
	}
	if c.MemTableSize < 1<<20 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1<<20 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2"}
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return &ConfigError{Field: "GCDiscardRatio", Message: "must be between 0 and 1 exclusive"}
	}
	if c.ConflictRetries < 0 {
		return &ConfigError{Field: "ConflictRetries", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a store configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "store config error: " + e.Field + " " + e.Message
}
