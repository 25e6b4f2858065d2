// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/credkeeper/pkg/api"
	"github.com/stacklok/credkeeper/pkg/logger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve credential operations over HTTP on a loopback address",
		Long: `Start an HTTP server that exposes the credential operations to local
applications.

Each operation is called with POST /v1/methods/{method} and a JSON object of
arguments; an "_account" argument selects a session other than the configured
one. /health reports whether the store is reachable and /metrics exposes
Prometheus metrics when enabled.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Loopback address to listen on (overrides server.address)")
	if err := viper.BindPFlag("server.address", cmd.Flags().Lookup("address")); err != nil {
		logger.Errorf("Error binding address flag: %v", err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	// Open the configured store up front so that a broken store fails the
	// command instead of the first request.
	if _, err := rt.defaultCache(); err != nil {
		return err
	}

	var metrics http.Handler
	if rt.cfg.OTEL.MetricsEnabled {
		metrics = rt.telemetry.PrometheusHandler()
	}

	return api.Serve(ctx, rt.cfg.Server.Address, api.Options{
		Dispatcher: rt.dispatcher,
		Metrics:    metrics,
		Health:     rt.health(),
	})
}
