// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package remote

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/outpost/internal/logging"
	"github.com/tomtom215/outpost/internal/models"
)

// Server exposes a Backend over the REST protocol HTTPClient speaks.
// It serves as the reference system of record for development and
// end-to-end tests.
type Server struct {
	backend Backend
	tokens  *TokenManager
}

// NewServer returns a Server for backend. When tokens is non-nil every
// /records request needs a valid bearer token.
func NewServer(backend Backend, tokens *TokenManager) *Server {
	return &Server{backend: backend, tokens: tokens}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/records/{type}", func(r chi.Router) {
		if s.tokens != nil {
			r.Use(s.requireToken)
		}
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Patch("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, NewError(StatusAuth, "missing bearer token"))
			return
		}
		if _, err := s.tokens.ValidateToken(token); err != nil {
			logging.Debug().Err(err).Msg("Rejected device token")
			writeError(w, NewError(StatusAuth, "invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.backend.Create(r.Context(), chi.URLParam(r, "type"), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Get(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	patch, err := readPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.backend.Update(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Delete(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readPayload(r *http.Request) (models.Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(StatusValidation, "read body")
	}
	var p models.Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, NewError(StatusValidation, "body must be a JSON object")
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	msg := err.Error()
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		msg = rerr.Message
	}
	writeJSON(w, HTTPStatus(status), errorBody{Error: msg})
}
