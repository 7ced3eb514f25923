// Outpost - Offline-First Record Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/outpost

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/outpost/internal/engine"
	"github.com/tomtom215/outpost/internal/ops"
	"github.com/tomtom215/outpost/internal/remote"
)

// writeServiceError maps an operation or engine error to an HTTP response.
func writeServiceError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, ops.ErrInvalidType):
		rw.BadRequest(err.Error())

	case errors.Is(err, ops.ErrRejected):
		switch remote.StatusOf(err) {
		case remote.StatusValidation:
			rw.Error(http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
		case remote.StatusNotFound:
			rw.NotFound(err.Error())
		default:
			rw.Error(http.StatusConflict, ErrCodeConflict, err.Error())
		}

	case errors.Is(err, ops.ErrNotFound):
		rw.NotFound("record not found")

	case errors.Is(err, engine.ErrDrainInProgress):
		rw.Error(http.StatusConflict, ErrCodeDrainInProgress, err.Error())

	case errors.Is(err, engine.ErrAuthRequired):
		rw.Error(http.StatusUnauthorized, ErrCodeAuthRequired, err.Error())

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rw.ServiceUnavailable("request canceled")

	default:
		rw.InternalError(err)
	}
}
