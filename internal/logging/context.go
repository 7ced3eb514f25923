// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	passIDKey contextKey = "pass_id"
	loggerKey contextKey = "logger"
)

// NewPassID returns a short identifier for one drain pass.
func NewPassID() string {
	return uuid.New().String()[:8]
}

// ContextWithPassID tags ctx with a drain pass identifier.
func ContextWithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passIDKey, id)
}

// PassIDFromContext returns the drain pass identifier, or "".
func PassIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(passIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger stores a logger in ctx.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns a logger carrying the context's pass id, falling back to the
// global logger when ctx holds none.
//
//	logging.Ctx(ctx).Debug().Uint64("seq", a.Sequence).Msg("Sending action")
func Ctx(ctx context.Context) *zerolog.Logger {
	logger, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		logger = Logger()
	}
	if id := PassIDFromContext(ctx); id != "" {
		logger = logger.With().Str("pass_id", id).Logger()
	}
	return &logger
}
