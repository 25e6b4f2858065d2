// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency whose reachability decides the health of the API.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthcheckRouter sets up healthcheck route.
func HealthcheckRouter(deps ...Pinger) http.Handler {
	routes := &healthcheckRoutes{deps: deps}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	deps []Pinger
}

func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	for _, dep := range h.deps {
		if err := dep.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
