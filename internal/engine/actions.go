// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/metrics"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/queue"
	"github.com/tomtom215/outpost/internal/remote"
	"github.com/tomtom215/outpost/internal/store"
)

func (e *Engine) current(ctx context.Context, seq uint64) (*models.QueuedAction, error) {
	var a *models.QueuedAction
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		a, err = queue.GetTx(tx, seq)
		return err
	})
	return a, err
}

// process replays one action. A nil return means the action left the
// queue; any error stops the pass with the action still queued.
func (e *Engine) process(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	switch a.Kind {
	case models.ActionCreate:
		return e.processCreate(ctx, a, r)
	case models.ActionUpdate:
		return e.processUpdate(ctx, a, r)
	case models.ActionDelete:
		return e.processDelete(ctx, a, r)
	default:
		logging.Ctx(ctx).Error().Str("kind", string(a.Kind)).Uint64("seq", a.Sequence).Msg("Dropping action of unknown kind")
		if err := e.commit(ctx, func(tx *store.Tx) error { return queue.RemoveTx(tx, a.Sequence) }); err != nil {
			return err
		}
		e.publish(ctx, r, outcomeFor(a, models.OutcomeRejected, "unknown action kind"))
		return nil
	}
}

func (e *Engine) processCreate(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	if a.Ack != nil {
		return e.replayAck(ctx, a, r)
	}

	pending, err := e.queue.ForTarget(ctx, a.TargetID)
	if err != nil {
		return err
	}
	later := after(pending, a.Sequence)

	for _, p := range later {
		if p.Kind == models.ActionDelete {
			return e.cancelCreate(ctx, a, r)
		}
	}

	payload := a.Payload.Clone()
	if payload == nil {
		payload = models.Payload{}
	}
	var folded []*models.QueuedAction
	if e.cfg.Coalesce {
		payload, folded, err = e.coalesce(ctx, payload, later)
		if err != nil {
			return err
		}
	}

	r.RemoteCalls++
	res, err := e.client.Create(ctx, a.TargetType, payload)
	switch remote.StatusOf(err) {
	case remote.StatusOK:
		if res.ID == "" {
			return remote.NewError(remote.StatusTransient, "create returned no id")
		}
		ack := &models.CreateAck{ID: res.ID, Payload: res.Payload, Folded: sequences(folded)}
		if ack.Payload == nil {
			ack.Payload = payload
		}
		return e.applyAck(ctx, a, ack, folded, r)
	case remote.StatusValidation, remote.StatusConflict, remote.StatusNotFound:
		return e.voidCreate(ctx, a, err, r)
	default:
		return classify(err)
	}
}

// coalesce folds the queued updates for a temp id into the create payload,
// in order. It stops at the first update that refers to a record whose
// create is still queued: that reference has to be remapped before it can
// reach the remote.
func (e *Engine) coalesce(ctx context.Context, payload models.Payload, later []*models.QueuedAction) (models.Payload, []*models.QueuedAction, error) {
	var folded []*models.QueuedAction
	for _, p := range later {
		if p.Kind != models.ActionUpdate {
			break
		}
		blocked, err := e.awaitsCreate(ctx, p.Payload)
		if err != nil {
			return nil, nil, err
		}
		if blocked {
			logging.Ctx(ctx).Debug().Uint64("seq", p.Sequence).Msg("Update refers to an unconfirmed record, not coalescing")
			break
		}
		payload = payload.Merge(p.Payload)
		folded = append(folded, p)
	}
	return payload, folded, nil
}

// awaitsCreate reports whether p holds the temp id of a record whose create
// is still queued.
func (e *Engine) awaitsCreate(ctx context.Context, p models.Payload) (bool, error) {
	for _, id := range p.TempIDs() {
		actions, err := e.queue.ForTarget(ctx, id)
		if err != nil {
			return false, err
		}
		for _, q := range actions {
			if q.Kind == models.ActionCreate {
				return true, nil
			}
		}
	}
	return false, nil
}

// replayAck confirms a create the remote accepted on an earlier pass.
func (e *Engine) replayAck(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	pending, err := e.queue.ForTarget(ctx, a.TargetID)
	if err != nil {
		return err
	}
	var folded []*models.QueuedAction
	for _, p := range pending {
		if slices.Contains(a.Ack.Folded, p.Sequence) {
			folded = append(folded, p)
		}
	}
	logging.Ctx(ctx).Debug().Str("temp_id", a.TargetID).Str("id", a.Ack.ID).Msg("Applying acknowledged create")
	return e.applyAck(ctx, a, a.Ack, folded, r)
}

// applyAck commits an acknowledged create locally. The remote already holds
// the record, so a failed commit must never lead to a second create: the
// acknowledgment is stored on the action and the next pass applies it
// without calling the remote.
func (e *Engine) applyAck(ctx context.Context, a *models.QueuedAction, ack *models.CreateAck, folded []*models.QueuedAction, r *PassReport) error {
	err := e.confirmCreate(ctx, a, folded, ack, r)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrTypeMismatch) {
		return e.collideCreate(ctx, a, ack, err, r)
	}

	if a.Ack == nil {
		serr := e.commit(ctx, func(tx *store.Tx) error {
			cur, err := queue.GetTx(tx, a.Sequence)
			if err != nil {
				return err
			}
			cur.Ack = ack
			return queue.PutTx(tx, cur)
		})
		if serr != nil {
			logging.Ctx(ctx).Error().Err(serr).
				Str("temp_id", a.TargetID).
				Str("id", ack.ID).
				Msg("Failed to record create acknowledgment")
		}
	}
	return err
}

// confirmCreate moves the record from its temp id to the canonical id and
// points every queued and local reference at the canonical id.
func (e *Engine) confirmCreate(ctx context.Context, a *models.QueuedAction, folded []*models.QueuedAction, ack *models.CreateAck, r *PassReport) error {
	var remapped int
	err := e.commit(ctx, func(tx *store.Tx) error {
		if err := queue.RemoveTx(tx, a.Sequence); err != nil {
			return err
		}
		for _, f := range folded {
			if err := queue.RemoveTx(tx, f.Sequence); err != nil && !errors.Is(err, queue.ErrActionNotFound) {
				return err
			}
		}

		local, err := tx.GetRecord(a.TargetType, a.TargetID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		// No local record means it was deleted while the create was in
		// flight; the remapped delete removes it remotely.
		if local != nil {
			remaining, err := queue.ForTargetTx(tx, a.TargetID)
			if err != nil {
				return err
			}
			if err := tx.DeleteRecord(a.TargetType, a.TargetID); err != nil {
				return err
			}
			rec := &models.Record{
				ID:         ack.ID,
				EntityType: a.TargetType,
				Payload:    applyPending(ack.Payload, remaining),
				Confirmed:  true,
			}
			if err := tx.PutRecord(rec); err != nil {
				return err
			}
			if err := tx.PutAlias(a.TargetID, ack.ID); err != nil {
				return err
			}
		}

		holders, err := referencing(tx, a.TargetID)
		if err != nil {
			return err
		}
		if remapped, err = queue.RemapTx(tx, a.TargetID, ack.ID); err != nil {
			return err
		}
		return remapRecords(tx, holders, a.TargetID, ack.ID)
	})
	if err != nil {
		return err
	}
	metrics.QueueRemapped.Add(float64(remapped))

	logging.Ctx(ctx).Debug().
		Str("temp_id", a.TargetID).
		Str("id", ack.ID).
		Int("folded", len(folded)).
		Int("remapped", remapped).
		Msg("Create confirmed")

	o := outcomeFor(a, models.OutcomeSynced, "")
	o.CanonicalID = ack.ID
	e.publish(ctx, r, o)
	for _, f := range folded {
		fo := outcomeFor(f, models.OutcomeSynced, "coalesced into create")
		fo.CanonicalID = ack.ID
		e.publish(ctx, r, fo)
	}
	return nil
}

// collideCreate settles a create whose canonical id is already held locally
// by a record of another type. The remote keeps the record under that id;
// the local copy and the actions targeting the temp id are dropped, other
// queued references are pointed at the canonical id, and a conflict outcome
// carries the canonical id.
func (e *Engine) collideCreate(ctx context.Context, a *models.QueuedAction, ack *models.CreateAck, cause error, r *PassReport) error {
	var voided []*models.QueuedAction
	err := e.commit(ctx, func(tx *store.Tx) error {
		var err error
		if voided, err = queue.VoidTargetTx(tx, a.TargetID); err != nil {
			return err
		}
		if err := deleteIfPresent(tx, a.TargetType, a.TargetID); err != nil {
			return err
		}
		_, err = queue.RemapTx(tx, a.TargetID, ack.ID)
		return err
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Warn().Err(cause).
		Str("temp_id", a.TargetID).
		Str("id", ack.ID).
		Msg("Canonical id collides with a local record of another type")

	o := outcomeFor(a, models.OutcomeConflict, cause.Error())
	o.CanonicalID = ack.ID
	e.publish(ctx, r, o)
	for _, v := range voided {
		if v.Sequence != a.Sequence {
			vo := outcomeFor(v, models.OutcomeVoided, "created record could not be stored locally")
			vo.CanonicalID = ack.ID
			e.publish(ctx, r, vo)
		}
	}
	return nil
}

// voidCreate drops a rejected create together with every action that
// depends on its temp id.
func (e *Engine) voidCreate(ctx context.Context, a *models.QueuedAction, cause error, r *PassReport) error {
	var voided []*models.QueuedAction
	err := e.commit(ctx, func(tx *store.Tx) error {
		var err error
		voided, err = queue.VoidTargetTx(tx, a.TargetID)
		if err != nil {
			return err
		}
		return deleteIfPresent(tx, a.TargetType, a.TargetID)
	})
	if err != nil {
		return err
	}

	e.publish(ctx, r, rejection(a, cause))
	for _, v := range voided {
		if v.Sequence != a.Sequence {
			e.publish(ctx, r, outcomeFor(v, models.OutcomeVoided, "create was rejected"))
		}
	}
	return nil
}

// cancelCreate drops a create whose record was deleted before it ever
// reached the remote, with no remote call.
func (e *Engine) cancelCreate(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	var cancelled []*models.QueuedAction
	err := e.commit(ctx, func(tx *store.Tx) error {
		var err error
		cancelled, err = queue.VoidTargetTx(tx, a.TargetID)
		if err != nil {
			return err
		}
		return deleteIfPresent(tx, a.TargetType, a.TargetID)
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Debug().Str("temp_id", a.TargetID).Int("actions", len(cancelled)).Msg("Create cancelled by later delete")
	for _, c := range cancelled {
		e.publish(ctx, r, outcomeFor(c, models.OutcomeCancelled, "created and deleted while offline"))
	}
	return nil
}

func (e *Engine) processUpdate(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	r.RemoteCalls++
	res, err := e.client.Update(ctx, a.TargetType, a.TargetID, a.Payload)
	switch remote.StatusOf(err) {
	case remote.StatusOK:
		if err := e.commit(ctx, func(tx *store.Tx) error {
			if err := queue.RemoveTx(tx, a.Sequence); err != nil {
				return err
			}
			return refreshRecord(tx, a.TargetType, a.TargetID, res.Payload)
		}); err != nil {
			return err
		}
		e.publish(ctx, r, outcomeFor(a, models.OutcomeSynced, ""))
		return nil
	case remote.StatusNotFound:
		return e.reconcile(ctx, a, err, true, r)
	case remote.StatusConflict, remote.StatusValidation:
		return e.reconcile(ctx, a, err, false, r)
	default:
		return classify(err)
	}
}

func (e *Engine) processDelete(ctx context.Context, a *models.QueuedAction, r *PassReport) error {
	r.RemoteCalls++
	err := e.client.Delete(ctx, a.TargetType, a.TargetID)
	switch remote.StatusOf(err) {
	case remote.StatusOK:
		if err := e.commit(ctx, func(tx *store.Tx) error {
			if err := queue.RemoveTx(tx, a.Sequence); err != nil {
				return err
			}
			return deleteIfPresent(tx, a.TargetType, a.TargetID)
		}); err != nil {
			return err
		}
		e.publish(ctx, r, outcomeFor(a, models.OutcomeSynced, ""))
		return nil
	case remote.StatusNotFound:
		return e.reconcile(ctx, a, err, true, r)
	case remote.StatusConflict, remote.StatusValidation:
		return e.reconcile(ctx, a, err, false, r)
	default:
		return classify(err)
	}
}

// reconcile drops a rejected update or delete and brings the local record
// back in line with the remote. gone means the remote has no such record:
// the local copy and every other action targeting it are removed.
// Otherwise the server view is reloaded when the client can fetch, and the
// local record is marked stale when it cannot.
func (e *Engine) reconcile(ctx context.Context, a *models.QueuedAction, cause error, gone bool, r *PassReport) error {
	var server *remote.Result
	if !gone && e.fetcher != nil {
		res, err := e.fetcher.Get(ctx, a.TargetType, a.TargetID)
		switch remote.StatusOf(err) {
		case remote.StatusOK:
			server = &res
		case remote.StatusNotFound:
			gone = true
		default:
			logging.Ctx(ctx).Warn().Err(err).Str("id", a.TargetID).Msg("Could not reload server view, marking record stale")
		}
	}

	var voided []*models.QueuedAction
	err := e.commit(ctx, func(tx *store.Tx) error {
		voided = nil
		if err := queue.RemoveTx(tx, a.Sequence); err != nil {
			return err
		}
		switch {
		case gone:
			var err error
			voided, err = queue.VoidTargetTx(tx, a.TargetID)
			if err != nil {
				return err
			}
			return deleteIfPresent(tx, a.TargetType, a.TargetID)
		case server != nil && server.Payload != nil:
			return refreshRecord(tx, a.TargetType, a.TargetID, server.Payload)
		default:
			rec, err := tx.GetRecord(a.TargetType, a.TargetID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			rec.Stale = true
			return tx.PutRecord(rec)
		}
	})
	if err != nil {
		return err
	}

	e.publish(ctx, r, rejection(a, cause))
	for _, v := range voided {
		e.publish(ctx, r, outcomeFor(v, models.OutcomeVoided, "record no longer exists remotely"))
	}
	return nil
}

// commit runs fn after a remote acknowledgment. It ignores cancellation of
// ctx so an acknowledged action is never replayed because the pass was
// stopped between the call and the write.
func (e *Engine) commit(ctx context.Context, fn func(tx *store.Tx) error) error {
	return e.store.Update(context.WithoutCancel(ctx), fn)
}

// refreshRecord rewrites a record as the server view with the still-queued
// updates for it applied on top. A queued delete leaves the record alone.
func refreshRecord(tx *store.Tx, entityType, id string, server models.Payload) error {
	remaining, err := queue.ForTargetTx(tx, id)
	if err != nil {
		return err
	}
	for _, p := range remaining {
		if p.Kind == models.ActionDelete {
			return nil
		}
	}

	if server == nil {
		rec, err := tx.GetRecord(entityType, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Confirmed && !rec.Stale {
			return nil
		}
		rec.Confirmed = true
		rec.Stale = false
		return tx.PutRecord(rec)
	}

	return tx.PutRecord(&models.Record{
		ID:         id,
		EntityType: entityType,
		Payload:    applyPending(server, remaining),
		Confirmed:  true,
	})
}

func deleteIfPresent(tx *store.Tx, entityType, id string) error {
	if err := tx.DeleteRecord(entityType, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// applyPending merges the queued update patches onto base in order.
func applyPending(base models.Payload, pending []*models.QueuedAction) models.Payload {
	out := base.Clone()
	if out == nil {
		out = models.Payload{}
	}
	for _, p := range pending {
		if p.Kind == models.ActionUpdate {
			out = out.Merge(p.Payload)
		}
	}
	return out
}

// referencing returns the (type, id) of every record a queued action
// carries tempID to in its payload.
func referencing(tx *store.Tx, tempID string) ([][2]string, error) {
	actions, err := queue.PeekTx(tx, 0)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, q := range actions {
		if slices.Contains(q.Payload.TempIDs(), tempID) {
			out = append(out, [2]string{q.TargetType, q.TargetID})
		}
	}
	return out, nil
}

// remapRecords rewrites tempID to id in the payloads of the given records.
// A holder that was itself the temp record is looked up under id.
func remapRecords(tx *store.Tx, holders [][2]string, tempID, id string) error {
	done := map[[2]string]bool{}
	for _, h := range holders {
		if h[1] == tempID {
			h[1] = id
		}
		if done[h] {
			continue
		}
		done[h] = true

		rec, err := tx.GetRecord(h[0], h[1])
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		p, changed := rec.Payload.ReplaceString(tempID, id)
		if !changed {
			continue
		}
		rec.Payload = p
		if err := tx.PutRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

func sequences(actions []*models.QueuedAction) []uint64 {
	out := make([]uint64, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Sequence)
	}
	return out
}

func after(actions []*models.QueuedAction, seq uint64) []*models.QueuedAction {
	var out []*models.QueuedAction
	for _, a := range actions {
		if a.Sequence > seq {
			out = append(out, a)
		}
	}
	return out
}

// classify makes sure a remote failure is a *remote.Error so the pass can
// tell it apart from a local store failure.
func classify(err error) error {
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return err
	}
	return &remote.Error{Status: remote.StatusTransient, Message: err.Error(), Err: err}
}

func outcomeFor(a *models.QueuedAction, kind models.OutcomeKind, msg string) models.Outcome {
	return models.Outcome{
		Kind:       kind,
		Sequence:   a.Sequence,
		ActionKind: a.Kind,
		TargetType: a.TargetType,
		TargetID:   a.TargetID,
		Message:    msg,
	}
}

// rejection builds the outcome for an action the remote refused.
// Validation failures are user facing; conflicts are surfaced by whoever
// subscribes to them.
func rejection(a *models.QueuedAction, cause error) models.Outcome {
	msg := cause.Error()
	var rerr *remote.Error
	if errors.As(cause, &rerr) && rerr.Message != "" {
		msg = rerr.Message
	}
	if remote.StatusOf(cause) == remote.StatusValidation {
		o := outcomeFor(a, models.OutcomeRejected, msg)
		o.UserFacing = true
		return o
	}
	return outcomeFor(a, models.OutcomeConflict, msg)
}
