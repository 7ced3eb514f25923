// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package api

import (
	"net/http"
	"path"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/outpost/internal/logging"
	ws "github.com/tomtom215/outpost/internal/websocket"
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin accepts requests without an Origin header (local processes)
// and browser origins matching AllowedOrigins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range h.deps.AllowedOrigins {
		if pattern == "*" || pattern == origin {
			return true
		}
		if ok, err := path.Match(pattern, origin); err == nil && ok {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("Outcome stream rejected unauthorized origin")
	return false
}

// OutcomeStream upgrades to a websocket that receives every sync outcome
// and engine state change.
func (h *Handler) OutcomeStream(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("outcome stream not available")
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("Outcome stream upgrade failed")
		return
	}

	client := ws.NewClient(h.deps.Hub, conn)
	if !h.deps.Hub.Attach(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	client.Start()
}
