// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"outpost.yaml",
	"outpost.yml",
	"/etc/outpost/config.yaml",
	"/etc/outpost/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is the prefix for section-scoped environment variables.
const EnvPrefix = "OUTPOST_"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:             "/data/outpost",
			SyncWrites:       true,
			MemTableSize:     16 << 20,
			ValueLogFileSize: 64 << 20,
			GCInterval:       10 * time.Minute,
			GCDiscardRatio:   0.5,
		},
		Engine: EngineConfig{
			BatchSize:    50,
			BackoffBase:  time.Second,
			BackoffMax:   5 * time.Minute,
			Coalesce:     true,
			DrainOnStart: true,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
			Debounce:      2 * time.Second,
		},
		Remote: RemoteConfig{
			Mode:     "http",
			Timeout:  10 * time.Second,
			DeviceID: "outpost",
			TokenTTL: time.Hour,
		},
		Breaker: BreakerConfig{
			Enabled:      true,
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:*", "http://127.0.0.1:*"},
			RateLimit:       100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, the optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sections lists the top-level keys that OUTPOST_<SECTION>_<KEY> may address.
var sections = []string{"store", "engine", "connectivity", "remote", "breaker", "server", "logging"}

// envTransformFunc maps an environment variable name to a koanf path, or ""
// to ignore it.
//
//	OUTPOST_ENGINE_BACKOFF_BASE -> engine.backoff_base
//	OUTPOST_REMOTE_BASE_URL     -> remote.base_url
//	LOG_LEVEL                   -> logging.level
func envTransformFunc(key string) string {
	switch key {
	case "LOG_LEVEL":
		return "logging.level"
	case "LOG_FORMAT":
		return "logging.format"
	case "LOG_CALLER":
		return "logging.caller"
	}

	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, s := range sections {
		if strings.HasPrefix(rest, s+"_") && len(rest) > len(s)+1 {
			return s + "." + rest[len(s)+1:]
		}
	}
	return ""
}
