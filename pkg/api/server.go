// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the credential bridge over HTTP on a loopback address.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/credkeeper/pkg/api/v1"
	"github.com/stacklok/credkeeper/pkg/logger"
)

const (
	// Renewals can wait on the identity provider and on the local prompt.
	middlewareTimeout = 2 * time.Minute
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	Dispatcher v1.Dispatcher
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health lists the dependencies /health pings.
	Health []v1.Pinger
}

// NewRouter builds the API routes.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)

	r.Mount("/health", v1.HealthcheckRouter(opts.Health...))
	r.Mount("/v1/methods", v1.MethodsRouter(opts.Dispatcher))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	return r
}

// Serve listens on address and serves the API until ctx is cancelled.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, address string, opts Options) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return serve(ctx, listener, NewRouter(opts))
}

func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infow("starting HTTP server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("HTTP server stopped")
	return nil
}
