// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	cerrors "github.com/stacklok/credkeeper/pkg/errors"
	"github.com/stacklok/credkeeper/pkg/telemetry"
)

// RenewRequest describes a renewal. An empty Scope keeps the stored scope.
type RenewRequest struct {
	Scope      Scope
	Parameters map[string]string
}

// Coordinator serializes renewals for one store. Callers that arrive while
// a renewal is running wait for it and share its outcome, so a refresh
// token is never presented twice.
type Coordinator struct {
	key     string
	store   Store
	renewer Renewer
	decoder Decoder
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	group singleflight.Group

	// mu guards running and orders it with the group's membership. While
	// running is set the group holds the renewal under key.
	mu      sync.Mutex
	running bool
	waiting atomic.Int32
}

// NewCoordinator creates a coordinator for store. key names the store in
// logs and metrics.
func NewCoordinator(
	key string,
	store Store,
	renewer Renewer,
	decoder Decoder,
	metrics *telemetry.Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		key:     key,
		store:   store,
		renewer: renewer,
		decoder: decoder,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// Renew exchanges the stored refresh token for a new record, persists it and
// returns it. If a renewal is already running, Renew waits for that one
// instead. A caller whose ctx ends stops waiting, but the renewal itself
// runs to completion so its result is still persisted.
func (c *Coordinator) Renew(ctx context.Context, req RenewRequest) (Record, error) {
	c.mu.Lock()
	ch := c.group.DoChan(c.key, c.flight(ctx, req))
	c.running = true
	c.mu.Unlock()
	return c.await(ctx, ch)
}

// Join waits for the renewal in progress and returns its outcome. joined is
// false when no renewal is running.
func (c *Coordinator) Join(ctx context.Context) (rec Record, joined bool, err error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return Record{}, false, nil
	}
	ch := c.group.DoChan(c.key, c.flight(ctx, RenewRequest{}))
	c.mu.Unlock()

	rec, err = c.await(ctx, ch)
	return rec, true, err
}

// flight runs one renewal and then retires it from the group, so callers
// arriving afterwards start a new one instead of sharing a stale result.
func (c *Coordinator) flight(ctx context.Context, req RenewRequest) func() (any, error) {
	detached := context.WithoutCancel(ctx)
	return func() (any, error) {
		rec, err := c.renew(detached, req)

		c.mu.Lock()
		c.group.Forget(c.key)
		c.running = false
		c.mu.Unlock()
		return rec, err
	}
}

func (c *Coordinator) await(ctx context.Context, ch <-chan singleflight.Result) (Record, error) {
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordSharedRenewal(ctx, c.key)
		}
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	case <-ctx.Done():
		return Record{}, cerrors.NewRenewInterruptedError(ctx.Err())
	}
}

func (c *Coordinator) renew(ctx context.Context, req RenewRequest) (rec Record, err error) {
	ctx, span := c.tracer.Start(ctx, "credentials.renew",
		trace.WithAttributes(attribute.String("credkeeper.store", c.key)))
	start := time.Now()
	defer func() {
		outcome := telemetry.OutcomeSuccess
		if err != nil {
			outcome = telemetry.OutcomeFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.RecordRenewal(ctx, c.key, outcome, time.Since(start))
		span.End()
	}()

	if locker, ok := c.store.(Locker); ok {
		unlock, err := locker.Lock(ctx)
		if err != nil {
			return Record{}, cerrors.NewStoreFailedError("failed to lock credential store", err)
		}
		defer unlock()
	}

	current, found, err := readRecord(ctx, c.store, c.logger)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, cerrors.NewNoCredentialsError()
	}
	if !current.Renewable() {
		return Record{}, cerrors.NewNoRefreshTokenError()
	}

	scope := NewScope(req.Scope...)
	if scope.IsEmpty() {
		scope = current.Scope
	}

	if c.renewer == nil {
		return Record{}, cerrors.NewRenewFailedError(errNoRenewer)
	}

	c.logger.Debug("renewing credentials", "scope", scope.String())
	fresh, err := c.renewer.Renew(ctx, current.RefreshToken, scope, req.Parameters)
	if err != nil {
		c.logger.Warn("credential renewal failed", "error", err)
		return Record{}, cerrors.NewRenewFailedError(err)
	}
	if fresh.AccessToken == "" {
		return Record{}, cerrors.NewRenewFailedError(errors.New("renewal response has no access token"))
	}
	if fresh.ExpiresAt.IsZero() {
		return Record{}, cerrors.NewRenewFailedError(errors.New("renewal response has no expiry"))
	}

	merged := carryOver(current, fresh, scope)
	if _, err := c.decoder.Decode(merged.IDToken); err != nil {
		return Record{}, cerrors.NewDecodeFailedError(err)
	}

	if err := writeRecord(ctx, c.store, merged); err != nil {
		return Record{}, cerrors.NewStoreFailedError("failed to persist renewed credentials", err)
	}

	c.logger.Debug("credentials renewed", "expires_at", merged.ExpiresAt)
	return merged, nil
}

// carryOver fills in the fields a renewal response may omit from the record
// it replaces. Identity providers that do not rotate refresh tokens leave
// the refresh token out of the response.
func carryOver(current, fresh Record, requested Scope) Record {
	out := fresh
	if out.RefreshToken == "" {
		out.RefreshToken = current.RefreshToken
	}
	if out.IDToken == "" {
		out.IDToken = current.IDToken
	}
	if out.TokenType == "" {
		out.TokenType = current.TokenType
	}
	if NewScope(out.Scope...).IsEmpty() {
		out.Scope = requested
	}
	return out.normalized()
}
