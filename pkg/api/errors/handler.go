// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/credkeeper/pkg/bridge"
	"github.com/stacklok/credkeeper/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into appropriate HTTP responses.
//
// Structured bridge errors are written as JSON with the status their code
// maps to. Any other error takes its status from httperr.Code; for 5xx
// errors the full error is logged and a generic message is returned.
//
// Usage:
//
//	r.Post("/{method}", apierrors.ErrorHandler(routes.callMethod))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var bridgeErr *bridge.Error
		if errors.As(err, &bridgeErr) {
			status := bridgeErr.HTTPStatus()
			if status >= http.StatusInternalServerError {
				logger.Errorf("Internal server error: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(bridgeErr)
			return
		}

		code := httperr.Code(err)
		if code >= http.StatusInternalServerError {
			logger.Errorf("Internal server error: %v", err)
			http.Error(w, http.StatusText(code), code)
			return
		}
		http.Error(w, err.Error(), code)
	}
}
