// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package engine drains the action queue against the remote.
//
// States:
//
//	idle ──trigger──▶ draining ──queue empty──▶ idle
//	                     │
//	                     ├──transient failure──▶ backoff ──timer or online──▶ draining
//	                     └──401/403──▶ auth_required ──Reauthenticated──▶ draining
//
// At most one pass runs at a time. A pass replays actions in sequence order;
// every store change that follows a remote acknowledgment (removing the
// action, writing the confirmed record, remapping temp ids) commits in one
// transaction.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/outpost/internal/connectivity"
	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/queue"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/store"
)

var (
	// ErrDrainInProgress is returned by Drain while another pass runs.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrAuthRequired is returned while the engine waits for Reauthenticated.
	ErrAuthRequired = errors.New("remote authentication required")
)

// Config configures the engine.
type Config struct {
	// BatchSize is how many actions are read from the queue at a time.
	BatchSize int

	// BackoffBase and BackoffMax bound the retry delay: base * 2^attempts,
	// capped at max.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Coalesce folds queued updates of a not-yet-created record into the
	// create payload.
	Coalesce bool

	// DrainOnStart runs a pass as soon as Run starts.
	DrainOnStart bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		BackoffBase:  time.Second,
		BackoffMax:   5 * time.Minute,
		Coalesce:     true,
		DrainOnStart: true,
	}
}

// Publisher receives sync outcomes. *events.Bus implements it.
type Publisher interface {
	Publish(o models.Outcome) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPublisher sets where outcomes are published.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithMonitor makes Run drain on every debounced online transition.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the synchronization engine.
type Engine struct {
	cfg     Config
	store   *store.Store
	queue   *queue.Queue
	client  remote.Client
	fetcher remote.Fetcher
	pub     Publisher
	monitor *connectivity.Monitor
	now     func() time.Time

	// drainMu is held for the whole of a pass.
	drainMu sync.Mutex

	mu    sync.Mutex
	state models.SyncState

	triggers chan struct{}
}

// New creates an engine over s replaying against client. When client also
// implements remote.Fetcher, the server view is reloaded after conflicts.
func New(cfg Config, s *store.Store, client remote.Client, opts ...Option) (*Engine, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}

	e := &Engine{
		cfg:      cfg,
		store:    s,
		queue:    queue.New(s),
		client:   client,
		now:      time.Now,
		triggers: make(chan struct{}, 1),
	}
	if f, ok := client.(remote.Fetcher); ok {
		e.fetcher = f
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx := context.Background()
	state, err := s.LoadSyncState(ctx)
	if err != nil {
		return nil, err
	}
	// A new process starts idle: a pass or backoff timer from a previous
	// run is gone, and credentials are reloaded at startup.
	state.Status = models.StatusIdle
	state.NextAttemptAt = nil
	if n, err := e.queue.Len(ctx); err == nil {
		state.PendingCount = n
	}
	e.state = state
	metrics.SetEngineStatus(string(state.Status))

	return e, nil
}

// Queue returns the queue the engine drains.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// State returns a copy of the current sync state.
func (e *Engine) State() models.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Trigger requests a drain without blocking. Requests made while one is
// already pending are merged.
func (e *Engine) Trigger() {
	select {
	case e.triggers <- struct{}{}:
	default:
	}
}

// Reauthenticated clears auth_required and requests a drain, which resumes
// from the action that failed.
func (e *Engine) Reauthenticated() {
	e.mu.Lock()
	wasBlocked := e.state.Status == models.StatusAuthRequired
	if wasBlocked {
		e.state.Status = models.StatusIdle
		e.state.LastError = ""
	}
	state := e.state
	e.mu.Unlock()

	if wasBlocked {
		logging.Info().Msg("Credentials refreshed, resuming sync")
		metrics.SetEngineStatus(string(state.Status))
		e.persist(context.Background(), state)
	}
	e.Trigger()
}

// Run is the engine loop. It drains on explicit triggers, on debounced
// online transitions from the monitor and when a backoff timer fires.
// It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	var online <-chan struct{}
	if e.monitor != nil {
		ch, cancel := e.monitor.Subscribe()
		defer cancel()
		online = ch
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	pass := func() {
		stopTimer()
		report, err := e.Drain(ctx)
		switch {
		case errors.Is(err, ErrDrainInProgress), errors.Is(err, ErrAuthRequired):
			return
		case err != nil && ctx.Err() == nil:
			logging.Error().Err(err).Msg("Sync pass failed")
		}
		if report != nil && report.Backoff > 0 {
			timer = time.NewTimer(report.Backoff)
			timerC = timer.C
		}
	}

	if e.cfg.DrainOnStart && (e.monitor == nil || e.monitor.Online()) {
		pass()
	}

	logging.Info().Msg("Sync engine started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync engine stopped")
			return ctx.Err()

		case <-online:
			if e.State().Status == models.StatusAuthRequired {
				logging.Debug().Msg("Ignoring online trigger until reauthenticated")
				continue
			}
			pass()

		case <-e.triggers:
			pass()

		case <-timerC:
			timer = nil
			timerC = nil
			pass()
		}
	}
}

func (e *Engine) setState(ctx context.Context, update func(s *models.SyncState)) models.SyncState {
	e.mu.Lock()
	update(&e.state)
	state := e.state
	e.mu.Unlock()

	metrics.SetEngineStatus(string(state.Status))
	e.persist(ctx, state)
	return state
}

func (e *Engine) persist(ctx context.Context, state models.SyncState) {
	if err := e.store.SaveSyncState(context.WithoutCancel(ctx), state); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist sync state")
	}
}

func (e *Engine) publish(ctx context.Context, r *PassReport, o models.Outcome) {
	o.At = e.now().UTC()
	r.Outcomes = append(r.Outcomes, o)
	metrics.EngineOutcomes.WithLabelValues(string(o.Kind)).Inc()

	logging.Ctx(ctx).Debug().
		Str("outcome", string(o.Kind)).
		Uint64("seq", o.Sequence).
		Str("action", string(o.ActionKind)).
		Str("target_id", o.TargetID).
		Msg("Action outcome")

	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(o); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish sync outcome")
	}
}
