// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package connectivity tracks whether the remote system of record is
// reachable and emits a debounced trigger on every offline to online
// transition.
//
// Connectivity is reported either by the host platform through Report or by
// polling a Prober from Run. The monitor keeps nothing but the last known
// state; consumers subscribe instead of reading a shared flag:
//
//	triggers, cancel := mon.Subscribe()
//	defer cancel()
//	for range triggers {
//	    eng.Trigger()
//	}
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
)

// Config holds monitor settings.
type Config struct {
	// ProbeInterval is the delay between probes when a Prober is set.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// Debounce is how long connectivity must stay online before subscribers
	// are triggered. Zero triggers immediately.
	Debounce time.Duration

	// InitialOnline is the state assumed before the first report.
	InitialOnline bool
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Debounce:      2 * time.Second,
	}
}

// Monitor holds the last known connectivity and fans out sync triggers.
type Monitor struct {
	cfg    Config
	prober Prober

	mu         sync.Mutex
	online     bool
	timer      *time.Timer
	generation uint64
	subs       map[int]chan struct{}
	nextSub    int
}

// NewMonitor creates a monitor. prober may be nil when connectivity is only
// reported through Report.
func NewMonitor(cfg Config, prober Prober) *Monitor {
	def := DefaultConfig()
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	metrics.SetConnectivity(cfg.InitialOnline)
	return &Monitor{
		cfg:    cfg,
		prober: prober,
		online: cfg.InitialOnline,
		subs:   make(map[int]chan struct{}),
	}
}

// Online returns the last known connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel that receives a value after every debounced
// offline to online transition. The channel holds at most one pending
// trigger. cancel unsubscribes and closes the channel.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan struct{}, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Report records observed connectivity. Repeated reports of the same state
// are ignored.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}
	m.online = online
	m.generation++
	metrics.SetConnectivity(online)

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if !online {
		logging.Info().Msg("Connectivity lost")
		return
	}

	logging.Info().Dur("debounce", m.cfg.Debounce).Msg("Connectivity restored")
	if m.cfg.Debounce <= 0 {
		m.notifyLocked()
		return
	}
	gen := m.generation
	m.timer = time.AfterFunc(m.cfg.Debounce, func() { m.fire(gen) })
}

// fire runs when a debounce window closes. A later transition bumps the
// generation and makes the stale timer a no-op.
func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || !m.online {
		return
	}
	m.timer = nil
	m.notifyLocked()
}

func (m *Monitor) notifyLocked() {
	metrics.ConnectivityTriggers.Inc()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run polls the prober until ctx is canceled. Without a prober it only
// waits for cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.stopTimer()

	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	m.probe(ctx)
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	online := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	m.Report(online)
}

func (m *Monitor) stopTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
