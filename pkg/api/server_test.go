// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/stacklok/credkeeper/pkg/api/v1"
	"github.com/stacklok/credkeeper/pkg/bridge"
	"github.com/stacklok/credkeeper/pkg/credentials"
	"github.com/stacklok/credkeeper/pkg/storage"
)

type dispatcherFunc func(ctx context.Context, method string, arguments map[string]any) (any, error)

func (f dispatcherFunc) Handle(ctx context.Context, method string, arguments map[string]any) (any, error) {
	return f(ctx, method, arguments)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMethods_PassesArguments(t *testing.T) {
	t.Parallel()

	var gotMethod string
	var gotArgs map[string]any
	h := NewRouter(Options{Dispatcher: dispatcherFunc(func(_ context.Context, method string, args map[string]any) (any, error) {
		gotMethod, gotArgs = method, args
		return true, nil
	})})

	rec := post(t, h, "/v1/methods/credentialsManager%23hasValidCredentials", `{"minTtl": 60}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result": true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, bridge.MethodHasValidCredentials, gotMethod)
	assert.Equal(t, json.Number("60"), gotArgs["minTtl"])
}

func TestMethods_EmptyBodyIsNilArguments(t *testing.T) {
	t.Parallel()

	called := false
	h := NewRouter(Options{Dispatcher: dispatcherFunc(func(_ context.Context, _ string, args map[string]any) (any, error) {
		called = true
		assert.Nil(t, args)
		return nil, nil
	})})

	rec := post(t, h, "/v1/methods/credentialsManager%23clearCredentials", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestMethods_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       `{"minTtl":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "body too large",
			body:       `{"x":"` + strings.Repeat("a", v1.MaxRequestBodySize) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "unexpected error",
			body:       `{}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewRouter(Options{Dispatcher: dispatcherFunc(func(context.Context, string, map[string]any) (any, error) {
				return nil, tt.err
			})})

			rec := post(t, h, "/v1/methods/m", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus >= http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "boom")
			}
		})
	}
}

func TestMethods_BridgeErrorsAreStructured(t *testing.T) {
	t.Parallel()

	registry := credentials.NewRegistry(func(credentials.Account) (*credentials.Cache, error) {
		return credentials.NewCache(storage.NewMemoryStore(), nil), nil
	})
	h := NewRouter(Options{Dispatcher: bridge.New(registry)})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no credentials",
			path:       "/v1/methods/credentialsManager%23getCredentials",
			body:       `{"_account": {"domain": "d", "clientId": "c"}}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "NO_CREDENTIALS",
		},
		{
			name:       "arguments missing",
			path:       "/v1/methods/credentialsManager%23getCredentials",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.CodeArgumentsMissing,
		},
		{
			name:       "unknown method",
			path:       "/v1/methods/nope",
			body:       `{"_account": {"domain": "d", "clientId": "c"}}`,
			wantStatus: http.StatusNotFound,
			wantCode:   bridge.CodeNotImplemented,
		},
		{
			name:       "negative minTtl",
			path:       "/v1/methods/credentialsManager%23hasValidCredentials",
			body:       `{"_account": {"domain": "d", "clientId": "c"}, "minTtl": -5}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := post(t, h, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body bridge.Error
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := NewRouter(Options{Health: []v1.Pinger{pingerFunc(func(context.Context) error { return nil })}})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	unhealthy := NewRouter(Options{Health: []v1.Pinger{pingerFunc(func(context.Context) error {
		return errors.New("redis unreachable")
	})}})
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	without := NewRouter(Options{})
	rec := httptest.NewRecorder()
	without.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	with := NewRouter(Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "credkeeper_get_total 1\n")
	})})
	rec = httptest.NewRecorder()
	with.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "credkeeper_get_total")
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, listener, NewRouter(Options{}))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
