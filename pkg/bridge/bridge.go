// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge dispatches named method calls with loosely typed
// arguments, as sent by an embedding application, onto the credential cache.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/credkeeper/pkg/credentials"
	"github.com/stacklok/credkeeper/pkg/idtoken"
	"github.com/stacklok/credkeeper/pkg/logger"
)

// Method names.
const (
	MethodGetCredentials      = "credentialsManager#getCredentials"
	MethodSaveCredentials     = "credentialsManager#saveCredentials"
	MethodHasValidCredentials = "credentialsManager#hasValidCredentials"
	MethodClearCredentials    = "credentialsManager#clearCredentials"
	MethodRenewCredentials    = "credentialsManager#renewCredentials"
	MethodGetUserInfo         = "credentialsManager#getUserInfo"
	MethodRevokeCredentials   = "credentialsManager#revokeCredentials"
)

// AccountKey is the argument naming the account a call applies to.
const AccountKey = "_account"

// Argument keys.
const (
	argScopes       = "scopes"
	argMinTTL       = "minTtl"
	argParameters   = "parameters"
	argForceRefresh = "forceRefresh"
	argCredentials  = "credentials"
)

// Methods lists every supported method.
var Methods = []string{
	MethodGetCredentials,
	MethodSaveCredentials,
	MethodHasValidCredentials,
	MethodClearCredentials,
	MethodRenewCredentials,
	MethodGetUserInfo,
	MethodRevokeCredentials,
}

// CacheSource hands out the cache for an account.
type CacheSource interface {
	Get(account credentials.Account) (*credentials.Cache, error)
}

type handlerFunc func(ctx context.Context, cache *credentials.Cache, args arguments) (any, error)

// Dispatcher routes method calls to the cache of the account they name.
type Dispatcher struct {
	caches         CacheSource
	defaultAccount *credentials.Account
	handlers       map[string]handlerFunc
	logger         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultAccount is used for calls that carry no _account argument.
func WithDefaultAccount(account credentials.Account) Option {
	return func(d *Dispatcher) {
		d.defaultAccount = &account
	}
}

// New creates a Dispatcher over caches.
func New(caches CacheSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		caches: caches,
		logger: logger.For("bridge"),
	}
	d.handlers = map[string]handlerFunc{
		MethodGetCredentials:      d.getCredentials,
		MethodSaveCredentials:     d.saveCredentials,
		MethodHasValidCredentials: d.hasValidCredentials,
		MethodClearCredentials:    d.clearCredentials,
		MethodRenewCredentials:    d.renewCredentials,
		MethodGetUserInfo:         d.getUserInfo,
		MethodRevokeCredentials:   d.revokeCredentials,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs method with arguments. Errors are always *Error.
func (d *Dispatcher) Handle(ctx context.Context, method string, arguments map[string]any) (any, error) {
	if arguments == nil {
		return nil, argumentsMissing()
	}
	handler, ok := d.handlers[method]
	if !ok {
		return nil, notImplemented(method)
	}

	args := wrapArguments(arguments)
	account, err := d.account(args)
	if err != nil {
		return nil, err
	}

	cache, err := d.caches.Get(account)
	if err != nil {
		d.logger.Warn("failed to resolve credential cache", "method", method, "error", err)
		return nil, accountMissing()
	}

	result, err := handler(ctx, cache, args)
	if err != nil {
		return nil, toError(err)
	}
	return result, nil
}

func (d *Dispatcher) account(args arguments) (credentials.Account, error) {
	raw, present := args[AccountKey]
	if !present {
		if d.defaultAccount != nil {
			return *d.defaultAccount, nil
		}
		return credentials.Account{}, accountMissing()
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return credentials.Account{}, accountMissing()
	}
	fields := wrapArguments(m)
	domain, okDomain := fields.optionalString("domain")
	clientID, okClient := fields.optionalString("clientId")
	storeKey, okKey := fields.optionalString("storeKey")
	if !okDomain || !okClient || !okKey {
		return credentials.Account{}, accountMissing()
	}

	account := credentials.Account{Domain: domain, ClientID: clientID, StoreKey: storeKey}
	if account.Validate() != nil {
		return credentials.Account{}, accountMissing()
	}
	return account, nil
}

func (*Dispatcher) getCredentials(ctx context.Context, cache *credentials.Cache, args arguments) (any, error) {
	_, hasScopes := args[argScopes]
	_, hasParameters := args[argParameters]
	_, hasMinTTL := args[argMinTTL]
	if (hasScopes || hasParameters) && !hasMinTTL {
		return nil, invalidArgument("'%s' is required when '%s' or '%s' is given", argMinTTL, argScopes, argParameters)
	}

	scopes, err := args.stringSlice(argScopes)
	if err != nil {
		return nil, err
	}
	minTTL, err := args.minTTL()
	if err != nil {
		return nil, err
	}
	parameters, err := args.stringMap(argParameters)
	if err != nil {
		return nil, err
	}
	force, err := args.boolean(argForceRefresh)
	if err != nil {
		return nil, err
	}

	creds, err := cache.Get(ctx, credentials.GetOptions{
		Scope:        credentials.NewScope(scopes...),
		MinTTL:       minTTL,
		Parameters:   parameters,
		ForceRefresh: force,
	})
	if err != nil {
		return nil, err
	}
	return credentialsMap(creds)
}

func (*Dispatcher) saveCredentials(ctx context.Context, cache *credentials.Cache, args arguments) (any, error) {
	raw, ok := args[argCredentials].(map[string]any)
	if !ok {
		return nil, requiredArgumentMissing(argCredentials)
	}
	rec, ok := recordFromMap(wrapArguments(raw))
	if !ok {
		return nil, requiredArgumentMissing(argCredentials)
	}
	return cache.Save(ctx, rec)
}

func (*Dispatcher) hasValidCredentials(ctx context.Context, cache *credentials.Cache, args arguments) (any, error) {
	minTTL, err := args.minTTL()
	if err != nil {
		return nil, err
	}
	return cache.HasValid(ctx, minTTL), nil
}

func (*Dispatcher) clearCredentials(ctx context.Context, cache *credentials.Cache, _ arguments) (any, error) {
	return cache.Clear(ctx), nil
}

func (*Dispatcher) renewCredentials(ctx context.Context, cache *credentials.Cache, args arguments) (any, error) {
	parameters, err := args.stringMap(argParameters)
	if err != nil {
		return nil, err
	}
	creds, err := cache.Renew(ctx, nil, parameters)
	if err != nil {
		return nil, err
	}
	return credentialsMap(creds)
}

func (*Dispatcher) getUserInfo(ctx context.Context, cache *credentials.Cache, _ arguments) (any, error) {
	profile, err := cache.User(ctx)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}
	return profileMap(profile)
}

func (*Dispatcher) revokeCredentials(ctx context.Context, cache *credentials.Cache, args arguments) (any, error) {
	if _, err := args.stringMap(argParameters); err != nil {
		return nil, err
	}
	if err := cache.Revoke(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

func recordFromMap(m arguments) (credentials.Record, bool) {
	accessToken, ok1 := m["accessToken"].(string)
	idToken, ok2 := m["idToken"].(string)
	tokenType, ok3 := m["tokenType"].(string)
	expiresAt, ok4 := m["expiresAt"].(string)
	refreshToken, ok5 := m.optionalString("refreshToken")
	scopes, err := m.stringSlice("scopes")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || err != nil {
		return credentials.Record{}, false
	}
	if _, present := m["scopes"]; !present {
		return credentials.Record{}, false
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return credentials.Record{}, false
	}

	return credentials.Record{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiry,
		Scope:        credentials.NewScope(scopes...),
	}, true
}

func credentialsMap(creds *credentials.Credentials) (map[string]any, error) {
	scopes := []string(creds.Scope)
	if scopes == nil {
		scopes = []string{}
	}

	out := map[string]any{
		"accessToken": creds.AccessToken,
		"idToken":     creds.IDToken,
		"tokenType":   creds.TokenType,
		"expiresAt":   creds.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"scopes":      scopes,
	}
	if creds.RefreshToken != "" {
		out["refreshToken"] = creds.RefreshToken
	}

	profile := map[string]any{}
	if creds.UserProfile != nil {
		var err error
		if profile, err = profileMap(creds.UserProfile); err != nil {
			return nil, err
		}
	}
	out["userProfile"] = profile
	return out, nil
}

func profileMap(profile *idtoken.UserProfile) (map[string]any, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user profile: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to encode user profile: %w", err)
	}
	return out, nil
}
