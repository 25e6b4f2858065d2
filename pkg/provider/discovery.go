// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/stacklok/credkeeper/pkg/logger"
)

// discoveryAttempts includes the initial attempt.
const discoveryAttempts = 4

type discoveryDocument struct {
	TokenEndpoint      string `json:"token_endpoint"`
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// Discover resolves the token and revocation endpoints from cfg.Issuer and
// returns a client using them. Endpoints set in cfg take precedence.
func Discover(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.Issuer == "" {
		return New(cfg, opts...)
	}

	disc := &Client{httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(disc)
	}
	ctx = oidc.ClientContext(ctx, disc.httpClient)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxInterval = 2 * time.Second

	doc, err := backoff.Retry(ctx, func() (discoveryDocument, error) {
		p, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return discoveryDocument{}, err
		}
		var doc discoveryDocument
		if err := p.Claims(&doc); err != nil {
			return discoveryDocument{}, backoff.Permanent(fmt.Errorf("failed to extract provider claims: %w", err))
		}
		return doc, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(discoveryAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugw("retrying OIDC discovery", "issuer", cfg.Issuer, "error", err, "delay", d)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}
	if doc.TokenEndpoint == "" {
		return nil, errors.New("discovery document has no token endpoint")
	}

	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = doc.TokenEndpoint
	}
	if cfg.RevocationEndpoint == "" {
		cfg.RevocationEndpoint = doc.RevocationEndpoint
	}
	if cfg.RevocationEndpoint == "" && cfg.Domain == "" {
		cfg.Domain = cfg.Issuer
	}
	return New(cfg, opts...)
}
