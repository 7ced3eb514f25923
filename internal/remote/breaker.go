// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
)

// ErrCircuitOpen is wrapped in the transient *Error returned while the
// breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig configures BreakerClient.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// MinRequests and FailureRatio decide when to open.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "remote",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerClient wraps a Client with a circuit breaker. Only transient
// failures count against the breaker; a 400 or 409 is a healthy remote
// answering. While open, calls fail fast with a transient error so the
// engine backs off without touching the network.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[Result]
	name  string
}

// NewBreakerClient wraps inner.
func NewBreakerClient(inner Client, cfg BreakerConfig) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("Opening remote circuit breaker")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return StatusOf(err) != StatusTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &BreakerClient{inner: inner, cb: cb, name: cfg.Name}
}

// State returns the breaker state as "closed", "half-open" or "open".
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerClient) execute(fn func() (Result, error)) (Result, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return Result{}, &Error{Status: StatusTransient, Message: err.Error(), Err: ErrCircuitOpen}
	case StatusOf(err) == StatusTransient:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	}
	return res, err
}

// Create implements Client.
func (b *BreakerClient) Create(ctx context.Context, entityType string, payload models.Payload) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.inner.Create(ctx, entityType, payload)
	})
}

// Update implements Client.
func (b *BreakerClient) Update(ctx context.Context, entityType, id string, patch models.Payload) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.inner.Update(ctx, entityType, id, patch)
	})
}

// Delete implements Client.
func (b *BreakerClient) Delete(ctx context.Context, entityType, id string) error {
	_, err := b.execute(func() (Result, error) {
		return Result{}, b.inner.Delete(ctx, entityType, id)
	})
	return err
}

// Get implements Fetcher when the wrapped client does.
func (b *BreakerClient) Get(ctx context.Context, entityType, id string) (Result, error) {
	f, ok := b.inner.(Fetcher)
	if !ok {
		return Result{}, ErrUnsupported
	}
	return b.execute(func() (Result, error) {
		return f.Get(ctx, entityType, id)
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
