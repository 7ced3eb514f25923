// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/ops"
	"github.com/tomtom215/outpost/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 1000

	// payloadFilterPrefix marks list query parameters that filter on
	// top-level payload fields: ?payload.done=true
	payloadFilterPrefix = "payload."
)

var errNotObject = errors.New("body must be a JSON object")

// ListRecords lists the local records of a type.
//
// Query parameters: confirmed, stale (booleans), limit, and payload.<field>
// for equality on a top-level payload field.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	records, err := h.deps.Ops.ListRecords(r.Context(), chi.URLParam(r, "type"), filter)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	rw.List(records, len(records))
}

// CreateRecord creates a record. 201 when the remote confirmed it, 202 when
// it was queued under a temporary id.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	payload, err := readPayload(w, r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	rec, err := h.deps.Ops.CreateRecord(r.Context(), chi.URLParam(r, "type"), payload)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Mutation(http.StatusCreated, rec, !rec.Confirmed)
}

// GetRecord returns the local view of one record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rec, err := h.lookup(r)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(rec)
}

// UpdateRecord applies a JSON merge patch to a record. 200 when the remote
// confirmed it, 202 when the change is waiting in the queue.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if _, err := h.lookup(r); err != nil {
		writeServiceError(rw, err)
		return
	}
	patch, err := readPayload(w, r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	rec, err := h.deps.Ops.UpdateRecord(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Mutation(http.StatusOK, rec, h.queued(r, rec.ID))
}

// DeleteRecord deletes a record. 204 when the remote confirmed it, 202 when
// the delete is waiting in the queue.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rec, err := h.lookup(r)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if err := h.deps.Ops.DeleteRecord(r.Context(), rec.ID); err != nil {
		writeServiceError(rw, err)
		return
	}
	if h.queued(r, rec.ID) {
		rw.Mutation(http.StatusOK, map[string]string{"id": rec.ID}, true)
		return
	}
	rw.NoContent()
}

// lookup resolves {id} and checks it belongs to {type}.
func (h *Handler) lookup(r *http.Request) (*models.Record, error) {
	rec, err := h.deps.Ops.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if rec.EntityType != chi.URLParam(r, "type") {
		return nil, ops.ErrNotFound
	}
	return rec, nil
}

func (h *Handler) queued(r *http.Request, id string) bool {
	pending, err := h.deps.Ops.HasPending(r.Context(), id)
	return err == nil && pending
}

func readPayload(w http.ResponseWriter, r *http.Request) (models.Payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	var payload models.Payload
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, errNotObject
	}
	return payload, nil
}

func parseFilter(r *http.Request) (store.Filter, error) {
	var filter store.Filter
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch {
		case key == "confirmed" || key == "stale":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return filter, errors.New(key + " must be a boolean")
			}
			if key == "confirmed" {
				filter.Confirmed = &b
			} else {
				filter.Stale = &b
			}
		case key == "limit":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > maxListLimit {
				return filter, errors.New("limit must be between 0 and " + strconv.Itoa(maxListLimit))
			}
			filter.Limit = n
		case strings.HasPrefix(key, payloadFilterPrefix) && len(key) > len(payloadFilterPrefix):
			if filter.Match == nil {
				filter.Match = make(map[string]any)
			}
			filter.Match[strings.TrimPrefix(key, payloadFilterPrefix)] = queryScalar(value)
		}
	}
	return filter, nil
}

// queryScalar interprets a query value as a JSON scalar when it parses as
// one, so payload.done=true matches a boolean and payload.n=2 a number.
func queryScalar(v string) any {
	var scalar any
	if err := json.Unmarshal([]byte(v), &scalar); err == nil {
		switch scalar.(type) {
		case bool, float64, nil:
			return scalar
		}
	}
	return v
}
