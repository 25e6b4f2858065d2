// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stacklok/credkeeper/pkg/bridge"
	"github.com/stacklok/credkeeper/pkg/credentials"
	"github.com/stacklok/credkeeper/pkg/storage"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type renewerFunc func(refreshToken string) (credentials.Record, error)

func (f renewerFunc) Renew(
	_ context.Context, refreshToken string, _ credentials.Scope, _ map[string]string,
) (credentials.Record, error) {
	return f(refreshToken)
}

type revokerFunc func(refreshToken string) error

func (f revokerFunc) Revoke(_ context.Context, refreshToken string) error {
	return f(refreshToken)
}

func idToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                      sub,
		"name":                     "Test User",
		"https://example.com/role": "admin",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type fixture struct {
	dispatcher *bridge.Dispatcher
	registry   *credentials.Registry
	revoked    []string
}

func newFixture(t *testing.T, renew renewerFunc, opts ...bridge.Option) *fixture {
	t.Helper()
	f := &fixture{}
	f.registry = credentials.NewRegistry(func(credentials.Account) (*credentials.Cache, error) {
		return credentials.NewCache(storage.NewMemoryStore(), renew,
			credentials.WithClock(func() time.Time { return testNow }),
			credentials.WithRevoker(revokerFunc(func(rt string) error {
				f.revoked = append(f.revoked, rt)
				return nil
			})),
		), nil
	})
	f.dispatcher = bridge.New(f.registry, opts...)
	return f
}

func account(domain string) map[string]any {
	return map[string]any{"domain": domain, "clientId": "client-1"}
}

func savedCredentials(t *testing.T, refreshToken string, ttl time.Duration) map[string]any {
	t.Helper()
	creds := map[string]any{
		"accessToken": "access-1",
		"idToken":     idToken(t, "auth0|user"),
		"tokenType":   "Bearer",
		"expiresAt":   testNow.Add(ttl).Format(time.RFC3339),
		"scopes":      []any{"openid", "profile"},
	}
	if refreshToken != "" {
		creds["refreshToken"] = refreshToken
	}
	return creds
}

func requireBridgeError(t *testing.T, err error, code string) *bridge.Error {
	t.Helper()
	var bridgeErr *bridge.Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, code, bridgeErr.Code)
	return bridgeErr
}

func TestDispatcher_SaveThenGet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := t.Context()

	saved, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("tenant.example.com"),
		"credentials":     savedCredentials(t, "", time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, true, saved)

	got, err := f.dispatcher.Handle(ctx, bridge.MethodGetCredentials, map[string]any{
		bridge.AccountKey: account("tenant.example.com"),
		"minTtl":          float64(60),
		"scopes":          []any{},
		"parameters":      map[string]any{},
	})
	require.NoError(t, err)

	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "access-1", m["accessToken"])
	assert.Equal(t, "Bearer", m["tokenType"])
	assert.Equal(t, "2025-06-01T13:00:00Z", m["expiresAt"])
	assert.Equal(t, []string{"openid", "profile"}, m["scopes"])
	assert.NotContains(t, m, "refreshToken")

	profile, ok := m["userProfile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "auth0|user", profile["sub"])
	assert.Equal(t, "Test User", profile["name"])
	assert.Equal(t, map[string]any{"https://example.com/role": "admin"}, profile["customClaims"])

	// The result must survive a JSON round trip unchanged in shape.
	_, err = json.Marshal(got)
	assert.NoError(t, err)
}

func TestDispatcher_ExpiryKeepsFractionalSeconds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := t.Context()

	creds := savedCredentials(t, "", time.Hour)
	creds["expiresAt"] = "2025-06-01T13:00:00.25Z"
	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("tenant.example.com"),
		"credentials":     creds,
	})
	require.NoError(t, err)

	got, err := f.dispatcher.Handle(ctx, bridge.MethodGetCredentials, map[string]any{
		bridge.AccountKey: account("tenant.example.com"),
	})
	require.NoError(t, err)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-06-01T13:00:00.25Z", m["expiresAt"])
}

func TestDispatcher_ArgumentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		args       map[string]any
		wantCode   string
		wantStatus int
	}{
		{
			name:       "arguments missing",
			method:     bridge.MethodGetCredentials,
			args:       nil,
			wantCode:   bridge.CodeArgumentsMissing,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "account missing",
			method:     bridge.MethodGetCredentials,
			args:       map[string]any{},
			wantCode:   bridge.CodeAccountMissing,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:     "account without client id",
			method:   bridge.MethodGetCredentials,
			args:     map[string]any{bridge.AccountKey: map[string]any{"domain": "d"}},
			wantCode: bridge.CodeAccountMissing,
		},
		{
			name:       "unknown method",
			method:     "credentialsManager#doSomething",
			args:       map[string]any{bridge.AccountKey: account("d")},
			wantCode:   bridge.CodeNotImplemented,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown method without account",
			method:     "credentialsManager#doSomething",
			args:       map[string]any{},
			wantCode:   bridge.CodeNotImplemented,
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "scopes without minTtl",
			method: bridge.MethodGetCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"scopes":          []any{"openid"},
			},
			wantCode:   bridge.CodeInvalidArgument,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "negative minTtl",
			method: bridge.MethodHasValidCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"minTtl":          -1,
			},
			wantCode: bridge.CodeInvalidArgument,
		},
		{
			name:   "fractional minTtl",
			method: bridge.MethodHasValidCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"minTtl":          1.5,
			},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:   "scopes of the wrong type",
			method: bridge.MethodGetCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"minTtl":          0,
				"scopes":          "openid",
			},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:   "non string parameter",
			method: bridge.MethodRenewCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"parameters":      map[string]any{"audience": 1},
			},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:   "forceRefresh of the wrong type",
			method: bridge.MethodGetCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"forceRefresh":    "yes",
			},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:     "save without credentials",
			method:   bridge.MethodSaveCredentials,
			args:     map[string]any{bridge.AccountKey: account("d")},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:   "save with a bad expiry",
			method: bridge.MethodSaveCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"credentials": map[string]any{
					"accessToken": "a", "idToken": "i", "tokenType": "Bearer",
					"expiresAt": "tomorrow", "scopes": []any{},
				},
			},
			wantCode: bridge.CodeRequiredArgumentMissing,
		},
		{
			name:   "save with a malformed id token",
			method: bridge.MethodSaveCredentials,
			args: map[string]any{
				bridge.AccountKey: account("d"),
				"credentials": map[string]any{
					"accessToken": "a", "idToken": "not-a-jwt", "tokenType": "Bearer",
					"expiresAt": "2025-06-01T13:00:00.000Z", "scopes": []any{},
				},
			},
			wantCode:   "DECODE_FAILED",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "get with nothing stored",
			method:     bridge.MethodGetCredentials,
			args:       map[string]any{bridge.AccountKey: account("d")},
			wantCode:   "NO_CREDENTIALS",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)

			_, err := f.dispatcher.Handle(t.Context(), tt.method, tt.args)
			bridgeErr := requireBridgeError(t, err, tt.wantCode)
			if tt.wantStatus != 0 {
				assert.Equal(t, tt.wantStatus, bridgeErr.HTTPStatus())
			}
		})
	}
}

func TestDispatcher_HasValidAndClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, bridge.WithDefaultAccount(credentials.Account{Domain: "d", ClientID: "c"}))
	ctx := t.Context()

	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		"credentials": savedCredentials(t, "", time.Hour),
	})
	require.NoError(t, err)

	valid, err := f.dispatcher.Handle(ctx, bridge.MethodHasValidCredentials, map[string]any{"minTtl": json.Number("3600")})
	require.NoError(t, err)
	assert.Equal(t, true, valid)

	valid, err = f.dispatcher.Handle(ctx, bridge.MethodHasValidCredentials, map[string]any{"minTtl": 3601})
	require.NoError(t, err)
	assert.Equal(t, false, valid)

	cleared, err := f.dispatcher.Handle(ctx, bridge.MethodClearCredentials, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, cleared)

	user, err := f.dispatcher.Handle(ctx, bridge.MethodGetUserInfo, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestDispatcher_AccountsAreIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := t.Context()

	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("one.example.com"),
		"credentials":     savedCredentials(t, "", time.Hour),
	})
	require.NoError(t, err)

	valid, err := f.dispatcher.Handle(ctx, bridge.MethodHasValidCredentials, map[string]any{
		bridge.AccountKey: account("two.example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, false, valid)
	assert.Equal(t, 2, f.registry.Len())
}

func TestDispatcher_Renew(t *testing.T) {
	t.Parallel()

	var renewed int
	f := newFixture(t, func(refreshToken string) (credentials.Record, error) {
		renewed++
		return credentials.Record{
			AccessToken: "access-2",
			TokenType:   "Bearer",
			ExpiresAt:   testNow.Add(2 * time.Hour),
		}, nil
	})
	ctx := t.Context()

	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("d"),
		"credentials":     savedCredentials(t, "r1", time.Hour),
	})
	require.NoError(t, err)

	got, err := f.dispatcher.Handle(ctx, bridge.MethodRenewCredentials, map[string]any{
		bridge.AccountKey: account("d"),
		"parameters":      map[string]any{"audience": "api"},
	})
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, "access-2", m["accessToken"])
	assert.Equal(t, "r1", m["refreshToken"])
	assert.Equal(t, "2025-06-01T14:00:00Z", m["expiresAt"])
	assert.Equal(t, 1, renewed)
}

func TestDispatcher_RenewFailureDetails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(string) (credentials.Record, error) {
		return credentials.Record{}, &oauth2.RetrieveError{
			Response:         &http.Response{StatusCode: http.StatusForbidden},
			ErrorCode:        "invalid_grant",
			ErrorDescription: "Unknown or invalid refresh token.",
		}
	})
	ctx := t.Context()

	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("d"),
		"credentials":     savedCredentials(t, "r1", time.Hour),
	})
	require.NoError(t, err)

	_, err = f.dispatcher.Handle(ctx, bridge.MethodGetCredentials, map[string]any{
		bridge.AccountKey: account("d"),
		"forceRefresh":    true,
	})
	bridgeErr := requireBridgeError(t, err, "RENEW_FAILED")
	assert.Equal(t, http.StatusBadGateway, bridgeErr.HTTPStatus())
	assert.Equal(t, "invalid_grant", bridgeErr.Details["error"])
	assert.Equal(t, "Unknown or invalid refresh token.", bridgeErr.Details["error_description"])
}

func TestDispatcher_RevokeAndUserInfo(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := t.Context()

	_, err := f.dispatcher.Handle(ctx, bridge.MethodSaveCredentials, map[string]any{
		bridge.AccountKey: account("d"),
		"credentials":     savedCredentials(t, "r1", time.Hour),
	})
	require.NoError(t, err)

	user, err := f.dispatcher.Handle(ctx, bridge.MethodGetUserInfo, map[string]any{bridge.AccountKey: account("d")})
	require.NoError(t, err)
	assert.Equal(t, "auth0|user", user.(map[string]any)["sub"])

	revoked, err := f.dispatcher.Handle(ctx, bridge.MethodRevokeCredentials, map[string]any{bridge.AccountKey: account("d")})
	require.NoError(t, err)
	assert.Equal(t, true, revoked)
	assert.Equal(t, []string{"r1"}, f.revoked)

	_, err = f.dispatcher.Handle(ctx, bridge.MethodGetCredentials, map[string]any{bridge.AccountKey: account("d")})
	requireBridgeError(t, err, "NO_CREDENTIALS")
}
