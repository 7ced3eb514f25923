// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/queue"
	"github.com/tomtom215/outpost/internal/remote"
)

// Pass results, also used as the drain pass metric label.
const (
	ResultSuccess      = "success"
	ResultBackoff      = "backoff"
	ResultAuthRequired = "auth_required"
	ResultCanceled     = "canceled"
)

// PassReport summarizes one drain pass.
type PassReport struct {
	PassID string
	Result string

	// RemoteCalls counts replayed create, update and delete calls.
	RemoteCalls int

	// Outcomes lists every outcome published during the pass, in order.
	Outcomes []models.Outcome

	// Backoff is the delay before the next attempt when Result is backoff.
	Backoff time.Duration

	Duration time.Duration
}

// Count returns how many outcomes of kind the pass produced.
func (r *PassReport) Count(kind models.OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// actionError is a failure that stops the pass at action.
type actionError struct {
	action *models.QueuedAction
	err    error
}

func (e *actionError) Error() string {
	return fmt.Sprintf("seq %d (%s %s/%s): %v", e.action.Sequence, e.action.Kind, e.action.TargetType, e.action.TargetID, e.err)
}

func (e *actionError) Unwrap() error {
	return e.err
}

// Drain runs one pass over the queue. It returns ErrDrainInProgress if a
// pass is already running and ErrAuthRequired if the remote rejected the
// credentials, now or in an earlier pass. A transient failure ends the pass
// in backoff with a nil error; the report carries the delay.
func (e *Engine) Drain(ctx context.Context) (*PassReport, error) {
	if !e.drainMu.TryLock() {
		return nil, ErrDrainInProgress
	}
	defer e.drainMu.Unlock()

	if e.State().Status == models.StatusAuthRequired {
		return nil, ErrAuthRequired
	}

	passID := logging.NewPassID()
	ctx = logging.ContextWithPassID(ctx, passID)
	log := logging.Ctx(ctx)
	start := e.now()
	report := &PassReport{PassID: passID}

	e.setState(ctx, func(s *models.SyncState) {
		s.Status = models.StatusDraining
		s.NextAttemptAt = nil
	})
	log.Debug().Msg("Sync pass started")

	err := e.drain(ctx, report)
	finished := e.now()
	report.Duration = finished.Sub(start)
	pending, lenErr := e.queue.Len(context.WithoutCancel(ctx))
	if lenErr != nil {
		log.Warn().Err(lenErr).Msg("Failed to count pending actions")
	}

	var aerr *actionError
	errors.As(err, &aerr)

	switch {
	case err == nil:
		report.Result = ResultSuccess
		e.setState(ctx, func(s *models.SyncState) {
			s.Status = models.StatusIdle
			s.LastSyncedAt = &finished
			s.PendingCount = pending
			s.LastError = ""
		})

	case ctx.Err() != nil:
		report.Result = ResultCanceled
		e.setState(ctx, func(s *models.SyncState) {
			s.Status = models.StatusIdle
			s.PendingCount = pending
		})
		err = ctx.Err()

	case remote.StatusOf(err) == remote.StatusAuth && aerr != nil:
		report.Result = ResultAuthRequired
		e.setState(ctx, func(s *models.SyncState) {
			s.Status = models.StatusAuthRequired
			s.PendingCount = pending
			s.LastError = err.Error()
		})
		log.Warn().Err(err).Msg("Remote rejected credentials, sync paused until reauthenticated")
		err = ErrAuthRequired

	default:
		attempts := 1
		if aerr != nil {
			updated, markErr := e.queue.MarkFailed(context.WithoutCancel(ctx), aerr.action.Sequence, aerr.err)
			switch {
			case markErr != nil:
				log.Warn().Err(markErr).Uint64("seq", aerr.action.Sequence).Msg("Failed to record attempt")
			default:
				attempts = updated.Attempts
			}
		}
		report.Result = ResultBackoff
		report.Backoff = e.calculateBackoff(attempts)
		next := finished.Add(report.Backoff)
		e.setState(ctx, func(s *models.SyncState) {
			s.Status = models.StatusBackoff
			s.NextAttemptAt = &next
			s.PendingCount = pending
			s.LastError = err.Error()
		})
		metrics.EngineBackoffSeconds.Set(report.Backoff.Seconds())
		log.Warn().
			Err(err).
			Int("attempts", attempts).
			Dur("backoff", report.Backoff).
			Msg("Sync pass interrupted, backing off")

		// Remote failures are expected offline; only local failures are
		// returned to the caller.
		if aerr != nil && remote.StatusOf(aerr.err) == remote.StatusTransient && isRemote(aerr.err) {
			err = nil
		}
	}

	metrics.RecordDrainPass(report.Result, report.Duration)
	log.Info().
		Str("result", report.Result).
		Int("remote_calls", report.RemoteCalls).
		Int("outcomes", len(report.Outcomes)).
		Int("pending", pending).
		Dur("duration", report.Duration).
		Msg("Sync pass finished")

	return report, err
}

func (e *Engine) drain(ctx context.Context, report *PassReport) error {
	for {
		batch, err := e.queue.DequeueBatch(ctx, e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("read queue: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, head := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Earlier actions in the batch may have removed or remapped this one.
			a, err := e.current(ctx, head.Sequence)
			if errors.Is(err, queue.ErrActionNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := e.process(ctx, a, report); err != nil {
				return &actionError{action: a, err: err}
			}
		}
	}
}

// calculateBackoff returns base * 2^attempts, capped at BackoffMax.
func (e *Engine) calculateBackoff(attempts int) time.Duration {
	if attempts > 50 {
		return e.cfg.BackoffMax
	}
	backoff := float64(e.cfg.BackoffBase) * math.Pow(2, float64(attempts))
	if backoff > float64(e.cfg.BackoffMax) {
		return e.cfg.BackoffMax
	}
	return time.Duration(backoff)
}

// isRemote reports whether err came back from the remote client rather
// than the local store.
func isRemote(err error) bool {
	var rerr *remote.Error
	return errors.As(err, &rerr)
}
