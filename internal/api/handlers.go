// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/connectivity"
	"github.com/tomtom215/outpost/internal/engine"
	"github.com/tomtom215/outpost/internal/models"
	"github.com/tomtom215/outpost/internal/ops"
	"github.com/tomtom215/outpost/internal/store"
	ws "github.com/tomtom215/outpost/internal/websocket"
)

// BreakerState reports the circuit breaker state. *remote.BreakerClient
// implements it.
type BreakerState interface {
	State() string
}

// Dependencies are the components the handlers serve. Ops, Engine and Store
// are required; the rest are optional.
type Dependencies struct {
	Ops     *ops.Service
	Engine  *engine.Engine
	Store   *store.Store
	Monitor *connectivity.Monitor
	Hub     *ws.Hub
	Breaker BreakerState

	// AllowedOrigins lists the origins accepted on the outcome stream, as
	// path.Match patterns. Requests without an Origin header are accepted.
	AllowedOrigins []string
}

// Handler serves the local API.
type Handler struct {
	deps Dependencies
}

// NewHandler creates a Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// StoreStatus summarizes the local store.
type StoreStatus struct {
	Records   int64 `json:"records"`
	SizeBytes int64 `json:"size_bytes"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Sync          models.SyncState `json:"sync"`
	Online        bool             `json:"online"`
	Pending       int              `json:"pending"`
	Breaker       string           `json:"breaker,omitempty"`
	Store         *StoreStatus     `json:"store,omitempty"`
	StreamClients int              `json:"stream_clients"`
}

// Status reports the sync state, connectivity, breaker and store.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx := r.Context()

	pending, err := h.deps.Ops.Pending(ctx)
	if err != nil {
		writeServiceError(rw, err)
		return
	}

	resp := StatusResponse{
		Sync:    h.deps.Engine.State(),
		Online:  h.online(),
		Pending: pending,
	}
	if h.deps.Breaker != nil {
		resp.Breaker = h.deps.Breaker.State()
	}
	if h.deps.Hub != nil {
		resp.StreamClients = h.deps.Hub.GetClientCount()
	}
	if stats, err := h.deps.Store.Stats(ctx); err == nil {
		resp.Store = &StoreStatus{Records: stats.Records, SizeBytes: stats.SizeBytes}
	}
	rw.Success(resp)
}

func (h *Handler) online() bool {
	return h.deps.Monitor == nil || h.deps.Monitor.Online()
}

// PassSummary is the JSON view of an engine.PassReport.
type PassSummary struct {
	PassID      string           `json:"pass_id"`
	Result      string           `json:"result"`
	RemoteCalls int              `json:"remote_calls"`
	Outcomes    []models.Outcome `json:"outcomes"`
	BackoffMs   int64            `json:"backoff_ms,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
}

func summarize(r *engine.PassReport) *PassSummary {
	outcomes := r.Outcomes
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	return &PassSummary{
		PassID:      r.PassID,
		Result:      r.Result,
		RemoteCalls: r.RemoteCalls,
		Outcomes:    outcomes,
		BackoffMs:   r.Backoff.Milliseconds(),
		DurationMs:  r.Duration.Milliseconds(),
	}
}

// Sync requests a drain. With ?wait=true the pass runs in the request and
// its report is returned; otherwise the engine loop is triggered and 202 is
// returned at once.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if r.URL.Query().Get("wait") != "true" {
		h.deps.Engine.Trigger()
		rw.Accepted(h.deps.Engine.State())
		return
	}

	report, err := h.deps.Engine.Drain(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(summarize(report))
}

// Reauthenticated tells the engine that credentials were refreshed.
func (h *Handler) Reauthenticated(w http.ResponseWriter, r *http.Request) {
	h.deps.Engine.Reauthenticated()
	NewResponseWriter(w, r).Accepted(h.deps.Engine.State())
}

// connectivityRequest is the body of PUT /api/v1/connectivity.
type connectivityRequest struct {
	Online *bool `json:"online"`
}

// SetConnectivity reports a platform connectivity change to the monitor.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Monitor == nil {
		rw.ServiceUnavailable("connectivity monitor not configured")
		return
	}

	var req connectivityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Online == nil {
		rw.BadRequest(`body must be {"online": true|false}`)
		return
	}

	h.deps.Monitor.Report(*req.Online)
	rw.Success(map[string]interface{}{
		"online":      h.deps.Monitor.Online(),
		"reported_at": time.Now().UTC(),
	})
}
