// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

// Package remote is the CRUD transport to the remote system of record.
//
// Every call returns either a Result or an *Error carrying one of the
// classified statuses the sync engine acts on:
//
//	ok          2xx
//	validation  400, 422 and other non-retryable 4xx
//	auth        401, 403, or a token that cannot be obtained
//	not_found   404, 410
//	conflict    409, 412
//	transient   408, 429, 5xx, timeouts, network errors, open circuit
//
// The engine never assumes the remote is idempotent. Implementations here:
// HTTPClient (REST), BreakerClient (gobreaker wrapper), Memory (in-process
// system of record) and Server (chi handler exposing any Backend over REST).
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/tomtom215/outpost/internal/models"
)

// Status is the classified outcome of a remote call.
type Status string

const (
	StatusOK         Status = "ok"
	StatusValidation Status = "validation"
	StatusAuth       Status = "auth"
	StatusNotFound   Status = "not_found"
	StatusConflict   Status = "conflict"
	StatusTransient  Status = "transient"
)

// Result is a confirmed remote record.
type Result struct {
	// ID is the canonical id assigned by the remote.
	ID string `json:"id"`

	// Payload is the server view of the record after the call. Empty for deletes.
	Payload models.Payload `json:"payload,omitempty"`
}

// Client is the CRUD interface the engine replays queued actions against.
type Client interface {
	Create(ctx context.Context, entityType string, payload models.Payload) (Result, error)
	Update(ctx context.Context, entityType, id string, patch models.Payload) (Result, error)
	Delete(ctx context.Context, entityType, id string) error
}

// Fetcher is implemented by clients that can read the server view of a
// record. The engine uses it to reconcile after a version conflict.
type Fetcher interface {
	Get(ctx context.Context, entityType, id string) (Result, error)
}

// Backend is a full system of record, as served by Server.
type Backend interface {
	Client
	Fetcher
}

// ErrUnsupported is returned by wrappers whose inner client lacks an operation.
var ErrUnsupported = errors.New("operation not supported by remote client")

// Sentinels matched by errors.Is against an *Error of the same status.
var (
	ErrValidation = errors.New("remote rejected payload")
	ErrAuth       = errors.New("remote authentication failed")
	ErrNotFound   = errors.New("remote record not found")
	ErrConflict   = errors.New("remote version conflict")
	ErrTransient  = errors.New("remote temporarily unavailable")
)

var statusSentinels = map[Status]error{
	StatusValidation: ErrValidation,
	StatusAuth:       ErrAuth,
	StatusNotFound:   ErrNotFound,
	StatusConflict:   ErrConflict,
	StatusTransient:  ErrTransient,
}

// Error is a classified remote failure.
type Error struct {
	Status  Status
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("remote %s (%d): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("remote %s: %s", e.Status, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's status.
func (e *Error) Is(target error) bool {
	return statusSentinels[e.Status] == target
}

// NewError builds an *Error with status and message.
func NewError(status Status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// StatusOf classifies err. nil is StatusOK; anything that is not an *Error,
// including timeouts and network failures, is StatusTransient.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Status
	}
	return StatusTransient
}

// ClassifyHTTP maps an HTTP status code to a Status.
func ClassifyHTTP(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusOK
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return StatusAuth
	case code == http.StatusNotFound, code == http.StatusGone:
		return StatusNotFound
	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		return StatusConflict
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return StatusTransient
	case code >= 500:
		return StatusTransient
	case code >= 400:
		return StatusValidation
	default:
		return StatusTransient
	}
}

// HTTPStatus maps a Status back to the HTTP code Server responds with.
func HTTPStatus(s Status) int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusValidation:
		return http.StatusBadRequest
	case StatusAuth:
		return http.StatusUnauthorized
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// transportError wraps a failure that never produced an HTTP response.
func transportError(err error) *Error {
	var netErr net.Error
	msg := err.Error()
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "timeout: " + msg
	}
	return &Error{Status: StatusTransient, Message: msg, Err: err}
}
