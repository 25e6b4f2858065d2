// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/spf13/viper"

	v1 "github.com/stacklok/credkeeper/pkg/api/v1"
	"github.com/stacklok/credkeeper/pkg/bridge"
	"github.com/stacklok/credkeeper/pkg/config"
	"github.com/stacklok/credkeeper/pkg/credentials"
	"github.com/stacklok/credkeeper/pkg/localauth"
	"github.com/stacklok/credkeeper/pkg/logger"
	"github.com/stacklok/credkeeper/pkg/provider"
	"github.com/stacklok/credkeeper/pkg/secrets"
	"github.com/stacklok/credkeeper/pkg/storage"
	"github.com/stacklok/credkeeper/pkg/telemetry"
	"github.com/stacklok/credkeeper/pkg/versions"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// runtime holds everything a command needs to reach the credential caches.
type runtime struct {
	cfg        *config.Config
	account    credentials.Account
	registry   *credentials.Registry
	dispatcher *bridge.Dispatcher
	telemetry  *telemetry.Provider

	ctx      context.Context
	client   *provider.Client
	secret   []byte
	gate     credentials.Gate
	metrics  *telemetry.Metrics
	resolver *secrets.Resolver

	mu      sync.Mutex
	closers []io.Closer
	pingers []v1.Pinger
}

// newRuntime loads the configuration and wires the stores, the identity
// provider client and the local authentication gate together.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(viper.GetString("config"), viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		ctx:      ctx,
		resolver: secrets.NewResolver(secrets.WithInteractive(true)),
		account: credentials.Account{
			Domain:   accountDomain(cfg.Account),
			ClientID: cfg.Account.ClientID,
			StoreKey: cfg.Store.Key,
		},
	}

	rt.telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:                 "credkeeper",
		ServiceVersion:              versions.GetVersionInfo().Version,
		Endpoint:                    cfg.OTEL.Endpoint,
		Insecure:                    cfg.OTEL.Insecure,
		SamplingRate:                cfg.OTEL.SamplingRate,
		EnablePrometheusMetricsPath: cfg.OTEL.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	rt.metrics, err = telemetry.NewMetrics(rt.telemetry.MeterProvider())
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	rt.client, err = provider.Discover(ctx, provider.Config{
		Domain:             cfg.Account.Domain,
		ClientID:           cfg.Account.ClientID,
		ClientSecret:       cfg.Account.ClientSecret,
		Issuer:             cfg.Account.Issuer,
		TokenEndpoint:      cfg.Account.TokenEndpoint,
		RevocationEndpoint: cfg.Account.RevocationEndpoint,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to configure identity provider: %w", err)
	}

	if cfg.LocalAuth.Enabled {
		rt.gate, err = localauth.NewTerminalGate(cfg.LocalAuth.PasscodeHash)
		if err != nil {
			rt.close()
			return nil, err
		}
	}

	rt.registry = credentials.NewRegistry(rt.newCache)
	rt.dispatcher = bridge.New(rt.registry, bridge.WithDefaultAccount(rt.account))
	return rt, nil
}

// newCache builds the cache of an account. The configured account renews
// through the discovered client; other accounts named by bridge callers get
// a client for their own domain.
func (rt *runtime) newCache(account credentials.Account) (*credentials.Cache, error) {
	client := rt.client
	if !rt.isDefault(account) {
		var err error
		client, err = provider.New(provider.Config{Domain: account.Domain, ClientID: account.ClientID})
		if err != nil {
			return nil, err
		}
	}

	backend, err := rt.openStore(storeKeyFor(account, rt.account))
	if err != nil {
		return nil, err
	}

	opts := []credentials.Option{
		credentials.WithStoreKey(account.Key()),
		credentials.WithRevoker(client),
		credentials.WithMetrics(rt.metrics),
		credentials.WithTracerProvider(rt.telemetry.TracerProvider()),
		credentials.WithLogger(logger.For("credentials")),
	}
	if rt.gate != nil {
		opts = append(opts, credentials.WithGate(rt.gate, credentials.Prompt{
			Title:         rt.cfg.LocalAuth.Title,
			Description:   rt.cfg.LocalAuth.Description,
			CancelTitle:   rt.cfg.LocalAuth.CancelTitle,
			FallbackTitle: rt.cfg.LocalAuth.FallbackTitle,
		}))
	}
	return credentials.NewCache(backend, client, opts...), nil
}

func (rt *runtime) openStore(key string) (storage.Backend, error) {
	storeType := storage.Type(rt.cfg.Store.Type)

	var secret []byte
	if storeType == storage.TypeFile || storeType == storage.TypeSQLite || storeType == storage.TypeRedis {
		var err error
		if secret, err = rt.masterSecret(); err != nil {
			return nil, err
		}
	}

	path := rt.cfg.Store.Path
	if storeType == storage.TypeFile && key != rt.cfg.Store.Key {
		// A file holds a single session.
		path = ""
	}

	backend, err := storage.New(rt.ctx, storage.Options{
		Type:   storeType,
		Key:    key,
		Path:   path,
		Secret: secret,
		Redis: storage.RedisConfig{
			Addrs:      rt.cfg.Store.Redis.Addrs,
			MasterName: rt.cfg.Store.Redis.MasterName,
			Username:   rt.cfg.Store.Redis.Username,
			Password:   rt.cfg.Store.Redis.Password,
			DB:         rt.cfg.Store.Redis.DB,
			KeyPrefix:  rt.cfg.Store.Redis.KeyPrefix,
		},
		Keyring: rt.resolver.Keyring(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", storeType, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.closers = append(rt.closers, backend)
	if pinger, ok := backend.(v1.Pinger); ok {
		rt.pingers = append(rt.pingers, pinger)
	}
	return backend, nil
}

func (rt *runtime) masterSecret() ([]byte, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.secret == nil {
		secret, err := rt.resolver.MasterPassword()
		if err != nil {
			return nil, err
		}
		rt.secret = secret
	}
	return rt.secret, nil
}

// defaultCache returns the cache of the configured account.
func (rt *runtime) defaultCache() (*credentials.Cache, error) {
	return rt.registry.Get(rt.account)
}

func (rt *runtime) health() []v1.Pinger {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]v1.Pinger(nil), rt.pingers...)
}

func (rt *runtime) isDefault(account credentials.Account) bool {
	return account.Domain == rt.account.Domain && account.ClientID == rt.account.ClientID
}

// close releases the stores and flushes telemetry.
func (rt *runtime) close() {
	rt.mu.Lock()
	closers := rt.closers
	rt.closers = nil
	rt.mu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(context.WithoutCancel(rt.ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnw("failed to shut down cleanly", "error", err)
	}
}

// accountDomain identifies the account by its domain, falling back to the
// issuer when only OIDC discovery is configured.
func accountDomain(account config.Account) string {
	if account.Domain != "" {
		return account.Domain
	}
	if account.Issuer != "" {
		return account.Issuer
	}
	return account.TokenEndpoint
}

// storeKeyFor keeps sessions of other accounts apart from the configured
// one when they share a store.
func storeKeyFor(account, configured credentials.Account) string {
	storeKey := account.StoreKey
	if storeKey == "" {
		storeKey = credentials.DefaultStoreKey
	}
	if account.Domain == configured.Domain && account.ClientID == configured.ClientID {
		return storeKey
	}
	return unsafeKeyChars.ReplaceAllString(account.Domain+"_"+account.ClientID+"_"+storeKey, "_")
}
