// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package credentials implements the credential cache: it persists an
// authentication session in a pluggable Store, hands out access tokens that
// meet a caller's freshness requirement and renews them through a Renewer
// when they do not.
package credentials

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	cerrors "github.com/stacklok/credkeeper/pkg/errors"
	"github.com/stacklok/credkeeper/pkg/idtoken"
	"github.com/stacklok/credkeeper/pkg/logger"
	"github.com/stacklok/credkeeper/pkg/telemetry"
)

// DefaultStoreKey is the store key used when none is configured.
const DefaultStoreKey = "credentials"

// DefaultPromptTitle is shown by the gate when no title is configured.
const DefaultPromptTitle = "Please authenticate to continue"

// Credentials is a record together with the profile decoded from its ID token.
type Credentials struct {
	Record
	UserProfile *idtoken.UserProfile
}

// GetOptions tunes a Get call.
type GetOptions struct {
	// MinTTL is how long the returned access token must remain valid.
	MinTTL time.Duration
	// Scope requests a scope different from the stored one; it forces a renewal.
	Scope Scope
	// Parameters are forwarded to the identity provider on renewal.
	Parameters map[string]string
	// ForceRefresh renews even when the stored token is fresh enough.
	ForceRefresh bool
}

// Cache hands out stored credentials, renewing them when needed.
type Cache struct {
	key         string
	store       Store
	coordinator *Coordinator
	gate        Gate
	prompt      Prompt
	decoder     Decoder
	revoker     Revoker
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithStoreKey names the store in logs and metrics.
func WithStoreKey(key string) Option {
	return func(c *Cache) {
		c.key = key
	}
}

// WithGate requires a local authentication challenge before credentials are
// released by Get.
func WithGate(gate Gate, prompt Prompt) Option {
	return func(c *Cache) {
		if prompt.Title == "" {
			prompt.Title = DefaultPromptTitle
		}
		c.gate = gate
		c.prompt = prompt
	}
}

// WithDecoder replaces the ID token decoder.
func WithDecoder(decoder Decoder) Option {
	return func(c *Cache) {
		c.decoder = decoder
	}
}

// WithRevoker enables Revoke.
func WithRevoker(revoker Revoker) Option {
	return func(c *Cache) {
		c.revoker = revoker
	}
}

// WithMetrics records cache activity on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithTracerProvider sets the tracer provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) {
		c.tracer = telemetry.Tracer(tp)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache over store that renews through renewer.
func NewCache(store Store, renewer Renewer, opts ...Option) *Cache {
	c := &Cache{
		key:     DefaultStoreKey,
		store:   store,
		decoder: idtoken.NewDecoder(),
		tracer:  telemetry.Tracer(otel.GetTracerProvider()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.For("credentials")
	}
	c.logger = c.logger.With("store", c.key)
	c.coordinator = NewCoordinator(c.key, store, renewer, c.decoder, c.metrics, c.tracer, c.logger)
	return c
}

// Get returns credentials whose access token stays valid for at least
// opts.MinTTL, renewing them first when required.
func (c *Cache) Get(ctx context.Context, opts GetOptions) (*Credentials, error) {
	ctx, span := c.tracer.Start(ctx, "credentials.get")
	defer span.End()

	creds, path, err := c.get(ctx, opts)
	if err != nil {
		path = telemetry.PathError
		span.RecordError(err)
	}
	c.metrics.RecordGet(ctx, c.key, path)
	return creds, err
}

func (c *Cache) get(ctx context.Context, opts GetOptions) (*Credentials, string, error) {
	if opts.MinTTL < 0 {
		return nil, "", cerrors.NewInvalidArgumentError("minimum TTL must not be negative", nil)
	}

	if err := c.authenticate(ctx); err != nil {
		return nil, "", err
	}

	rec, found, err := c.current(ctx, opts.ForceRefresh)
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, "", cerrors.NewNoCredentialsError()
	}

	now := c.now()
	requested := NewScope(opts.Scope...)
	scopeChanged := !requested.IsEmpty() && !requested.Equal(rec.Scope)

	if !opts.ForceRefresh && !scopeChanged && rec.SatisfiesTTL(now, opts.MinTTL) {
		creds, err := c.withProfile(rec)
		return creds, telemetry.PathCache, err
	}

	if !rec.Renewable() {
		if opts.ForceRefresh || scopeChanged || rec.Remaining(now) <= 0 {
			return nil, "", cerrors.NewNoRefreshTokenError()
		}
		return nil, "", largeMinTTL(opts.MinTTL, rec.Remaining(now))
	}

	renewed, err := c.coordinator.Renew(ctx, RenewRequest{Scope: requested, Parameters: opts.Parameters})
	if err != nil {
		return nil, "", err
	}

	if remaining := renewed.Remaining(c.now()); remaining < opts.MinTTL {
		return nil, "", largeMinTTL(opts.MinTTL, remaining)
	}

	creds, err := c.withProfile(renewed)
	return creds, telemetry.PathRenew, err
}

// current returns the record a Get decides on. While a renewal is running
// the stored record is about to be replaced, so the caller shares the
// renewal's outcome instead of reading it. A forced caller reads the store
// and then joins the running renewal through the coordinator.
func (c *Cache) current(ctx context.Context, force bool) (Record, bool, error) {
	if !force {
		rec, joined, err := c.coordinator.Join(ctx)
		if joined {
			if err != nil {
				return Record{}, false, err
			}
			return rec, true, nil
		}
	}
	return readRecord(ctx, c.store, c.logger)
}

// Renew forces a renewal regardless of the stored token's freshness.
func (c *Cache) Renew(ctx context.Context, scope Scope, parameters map[string]string) (*Credentials, error) {
	return c.Get(ctx, GetOptions{ForceRefresh: true, Scope: scope, Parameters: parameters})
}

// Save validates rec and replaces the stored credentials with it. The
// error result reports invalid input; a failed write is logged and reported
// as false.
func (c *Cache) Save(ctx context.Context, rec Record) (bool, error) {
	rec = rec.normalized()
	if err := rec.Validate(); err != nil {
		return false, cerrors.NewInvalidArgumentError("invalid credentials", err)
	}
	if _, err := c.decoder.Decode(rec.IDToken); err != nil {
		return false, cerrors.NewDecodeFailedError(err)
	}

	if err := writeRecord(ctx, c.store, rec); err != nil {
		c.logger.Warn("failed to save credentials", "error", err)
		return false, nil
	}
	return true, nil
}

// HasValid reports whether credentials are stored and either stay valid for
// minTTL or can be renewed. It never renews and never prompts.
func (c *Cache) HasValid(ctx context.Context, minTTL time.Duration) bool {
	rec, found, err := readRecord(ctx, c.store, c.logger)
	if err != nil {
		c.logger.Warn("failed to read credentials", "error", err)
		return false
	}
	if !found {
		return false
	}
	return rec.Renewable() || rec.SatisfiesTTL(c.now(), minTTL)
}

// Clear removes the stored credentials. Clearing an empty store succeeds.
func (c *Cache) Clear(ctx context.Context) bool {
	if err := c.store.Delete(ctx); err != nil {
		c.logger.Warn("failed to clear credentials", "error", err)
		return false
	}
	return true
}

// User returns the profile of the stored ID token, or nil when nothing is
// stored. It does not prompt.
func (c *Cache) User(ctx context.Context) (*idtoken.UserProfile, error) {
	rec, found, err := readRecord(ctx, c.store, c.logger)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	creds, err := c.withProfile(rec)
	if err != nil {
		return nil, err
	}
	return creds.UserProfile, nil
}

// Revoke invalidates the stored refresh token at the identity provider and
// then clears the store. When revocation fails the store is left untouched.
// Without a stored refresh token it only clears.
func (c *Cache) Revoke(ctx context.Context) error {
	rec, found, err := readRecord(ctx, c.store, c.logger)
	if err != nil {
		return err
	}
	if found && rec.Renewable() {
		if c.revoker == nil {
			return cerrors.NewRevokeFailedError(errNoRevoker)
		}
		if err := c.revoker.Revoke(ctx, rec.RefreshToken); err != nil {
			c.logger.Warn("failed to revoke refresh token", "error", err)
			return cerrors.NewRevokeFailedError(err)
		}
	}
	if !c.Clear(ctx) {
		return cerrors.NewStoreFailedError("failed to clear credentials", nil)
	}
	return nil
}

func (c *Cache) authenticate(ctx context.Context) error {
	if c.gate == nil {
		return nil
	}
	result, err := c.gate.Authenticate(ctx, c.prompt)
	if err != nil {
		return cerrors.NewBiometricsFailedError(err)
	}
	switch result {
	case AuthSucceeded:
		return nil
	case AuthCancelled:
		return cerrors.NewBiometricsCancelledError(nil)
	default:
		return cerrors.NewBiometricsFailedError(nil)
	}
}

func (c *Cache) withProfile(rec Record) (*Credentials, error) {
	claims, err := c.decoder.Decode(rec.IDToken)
	if err != nil {
		return nil, cerrors.NewDecodeFailedError(err)
	}
	return &Credentials{Record: rec, UserProfile: idtoken.NewUserProfile(claims)}, nil
}

func largeMinTTL(minTTL, remaining time.Duration) error {
	return cerrors.NewLargeMinTTLError(int64(minTTL/time.Second), int64(remaining/time.Second))
}
