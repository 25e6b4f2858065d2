// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the V1 API for credkeeper.
package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/credkeeper/pkg/api/errors"
)

// MaxRequestBodySize bounds the arguments of a method call.
const MaxRequestBodySize = 1 << 20

// Dispatcher runs a named method.
type Dispatcher interface {
	Handle(ctx context.Context, method string, arguments map[string]any) (any, error)
}

// MethodResponse wraps a method's result.
type MethodResponse struct {
	Result any `json:"result"`
}

// MethodsRouter sets up the method call route.
func MethodsRouter(dispatcher Dispatcher) http.Handler {
	routes := &methodRoutes{dispatcher: dispatcher}
	r := chi.NewRouter()
	r.Post("/{method}", apierrors.ErrorHandler(routes.callMethod))
	return r
}

type methodRoutes struct {
	dispatcher Dispatcher
}

func (m *methodRoutes) callMethod(w http.ResponseWriter, r *http.Request) error {
	method, err := url.PathUnescape(chi.URLParam(r, "method"))
	if err != nil {
		return httperr.WithCode(fmt.Errorf("invalid method name: %w", err), http.StatusBadRequest)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return httperr.WithCode(
				fmt.Errorf("request body exceeds %d bytes", maxErr.Limit),
				http.StatusRequestEntityTooLarge,
			)
		}
		return httperr.WithCode(fmt.Errorf("failed to read request body: %w", err), http.StatusBadRequest)
	}

	var arguments map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&arguments); err != nil {
			return httperr.WithCode(fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		}
	}

	result, err := m.dispatcher.Handle(r.Context(), method, arguments)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(MethodResponse{Result: result})
}
