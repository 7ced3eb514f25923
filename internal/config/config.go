// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package config loads Outpost configuration.
//
// Configuration is layered with Koanf v2:
//  1. Defaults from defaultConfig
//  2. An optional YAML file (CONFIG_PATH, outpost.yaml, /etc/outpost/config.yaml)
//  3. Environment variables, which win over everything else
//
// Environment variables use the OUTPOST_ prefix followed by the section and
// key, for example OUTPOST_ENGINE_BACKOFF_BASE=2s or OUTPOST_REMOTE_BASE_URL.
// LOG_LEVEL, LOG_FORMAT and LOG_CALLER are accepted without the prefix.
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Store        StoreConfig        `koanf:"store"`
	Engine       EngineConfig       `koanf:"engine"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Remote       RemoteConfig       `koanf:"remote"`
	Breaker      BreakerConfig      `koanf:"breaker"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// StoreConfig configures the Badger-backed local store.
type StoreConfig struct {
	// Path is the Badger data directory.
	Path string `koanf:"path" validate:"required_without=InMemory"`

	// InMemory runs Badger without a data directory. Nothing survives a restart.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every commit. Disabling it trades durability for speed.
	SyncWrites bool `koanf:"sync_writes"`

	MemTableSize     int64 `koanf:"mem_table_size" validate:"gte=1048576"`
	ValueLogFileSize int64 `koanf:"value_log_file_size" validate:"gte=1048576"`

	// GCInterval is how often the value log GC runs. Zero disables it.
	GCInterval     time.Duration `koanf:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// EngineConfig configures the synchronization engine.
type EngineConfig struct {
	// BatchSize is how many queued actions are read per batch.
	BatchSize int `koanf:"batch_size" validate:"gte=1,lte=1000"`

	// BackoffBase is multiplied by 2^attempts after a transient failure.
	BackoffBase time.Duration `koanf:"backoff_base" validate:"gt=0"`

	// BackoffMax caps the backoff delay.
	BackoffMax time.Duration `koanf:"backoff_max" validate:"gt=0"`

	// Coalesce folds queued updates for an unconfirmed record into its create.
	Coalesce bool `koanf:"coalesce"`

	// DrainOnStart runs one drain pass when the engine starts.
	DrainOnStart bool `koanf:"drain_on_start"`
}

// ConnectivityConfig configures the connectivity monitor.
type ConnectivityConfig struct {
	// ProbeURL is polled to detect connectivity. Empty disables probing and
	// leaves the monitor driven by explicit reports.
	ProbeURL      string        `koanf:"probe_url" validate:"omitempty,url"`
	ProbeInterval time.Duration `koanf:"probe_interval" validate:"gt=0"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout" validate:"gt=0"`

	// Debounce is how long connectivity must stay online before a sync trigger.
	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`

	// AssumeOnline is the connectivity reported before the first probe.
	AssumeOnline bool `koanf:"assume_online"`
}

// RemoteConfig configures the remote system of record.
type RemoteConfig struct {
	// Mode selects the client: "http" or "memory" (in-process, for demos).
	Mode    string        `koanf:"mode" validate:"oneof=http memory"`
	BaseURL string        `koanf:"base_url" validate:"omitempty,url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// TokenSecret signs short-lived device tokens when no static Token is set.
	TokenSecret string        `koanf:"token_secret" validate:"omitempty,min=32"`
	DeviceID    string        `koanf:"device_id"`
	TokenTTL    time.Duration `koanf:"token_ttl" validate:"gte=0"`
}

// BreakerConfig configures the circuit breaker around the remote client.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval     time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"gte=1"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

// ServerConfig configures the local API server.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ConfigError describes an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
