// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package config

import (
	"github.com/tomtom215/outpost/internal/validation"
)

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if c.Engine.BackoffMax < c.Engine.BackoffBase {
		return &ConfigError{Field: "engine.backoff_max", Message: "must not be smaller than engine.backoff_base"}
	}
	if c.Remote.Mode == "http" && c.Remote.BaseURL == "" {
		return &ConfigError{Field: "remote.base_url", Message: "is required when remote.mode is http"}
	}
	if c.Remote.Token != "" && c.Remote.TokenSecret != "" {
		return &ConfigError{Field: "remote.token_secret", Message: "must not be set together with remote.token"}
	}
	if c.Connectivity.ProbeURL != "" && c.Connectivity.ProbeTimeout > c.Connectivity.ProbeInterval {
		return &ConfigError{Field: "connectivity.probe_timeout", Message: "must not exceed connectivity.probe_interval"}
	}
	return nil
}
