// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package api serves the local HTTP API: record operations, sync control,
// status, metrics and the outcome stream.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires handlers and middleware.
type Router struct {
	handler *Handler
	mw      *ChiMiddleware
}

// NewRouter creates a Router. A nil mw uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, mw: mw}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger())
	r.Use(router.mw.CORS())

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.mw.RateLimit())

		r.Get("/status", router.handler.Status)
		r.Post("/sync", router.handler.Sync)
		r.Post("/reauthenticated", router.handler.Reauthenticated)
		r.Put("/connectivity", router.handler.SetConnectivity)
		r.Get("/outcomes/ws", router.handler.OutcomeStream)

		r.Route("/records/{type}", func(r chi.Router) {
			r.Get("/", router.handler.ListRecords)
			r.Post("/", router.handler.CreateRecord)
			r.Get("/{id}", router.handler.GetRecord)
			r.Patch("/{id}", router.handler.UpdateRecord)
			r.Delete("/{id}", router.handler.DeleteRecord)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}
