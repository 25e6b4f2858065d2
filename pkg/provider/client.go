// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package provider talks to the identity provider on behalf of the
// credential cache: it exchanges refresh tokens for new credentials and
// revokes refresh tokens on logout.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/credkeeper/pkg/credentials"
	"github.com/stacklok/credkeeper/pkg/logger"
	"github.com/stacklok/credkeeper/pkg/versions"
)

const (
	// maxResponseSize bounds how much of a provider response is read.
	maxResponseSize = 1 << 20

	// DefaultTimeout applies to every provider request.
	DefaultTimeout = 30 * time.Second

	defaultTokenPath      = "/oauth/token"
	defaultRevocationPath = "/oauth/revoke"
)

var (
	_ credentials.Renewer = (*Client)(nil)
	_ credentials.Revoker = (*Client)(nil)
)

// Config identifies the application at the identity provider.
type Config struct {
	// Domain is the provider host, e.g. "tenant.eu.auth0.com". A scheme is
	// optional and defaults to https.
	Domain       string
	ClientID     string
	ClientSecret string
	// Issuer enables OIDC discovery of the endpoints when set.
	Issuer             string
	TokenEndpoint      string
	RevocationEndpoint string
}

// Validate checks that the configuration can locate a token endpoint.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.Domain == "" && c.Issuer == "" && c.TokenEndpoint == "" {
		return errors.New("one of domain, issuer or token endpoint is required")
	}
	return nil
}

// Client implements credentials.Renewer and credentials.Revoker over the
// OAuth 2.0 refresh_token grant and token revocation.
type Client struct {
	clientID      string
	clientSecret  string
	tokenURL      string
	revocationURL string
	httpClient    *http.Client
	now           func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithClock overrides the time source used to compute expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client with endpoints taken from cfg. Endpoints that are not
// configured are derived from the domain.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	c := &Client{
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		tokenURL:      cfg.TokenEndpoint,
		revocationURL: cfg.RevocationEndpoint,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokenURL == "" || c.revocationURL == "" {
		base, err := baseURL(cfg.Domain)
		if err != nil {
			return nil, err
		}
		if c.tokenURL == "" {
			c.tokenURL = base + defaultTokenPath
		}
		if c.revocationURL == "" {
			c.revocationURL = base + defaultRevocationPath
		}
	}

	return c, nil
}

func baseURL(domain string) (string, error) {
	if domain == "" {
		return "", errors.New("domain is required to derive provider endpoints")
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid domain %q: missing host", domain)
	}
	return u.Scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/"), nil
}

// TokenURL returns the token endpoint in use.
func (c *Client) TokenURL() string {
	return c.tokenURL
}

// RevocationURL returns the revocation endpoint in use.
func (c *Client) RevocationURL() string {
	return c.revocationURL
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Renew exchanges refreshToken for new credentials. Fields the provider
// omits are left empty for the caller to fill in.
func (c *Client) Renew(
	ctx context.Context, refreshToken string, scope credentials.Scope, parameters map[string]string,
) (credentials.Record, error) {
	if refreshToken == "" {
		return credentials.Record{}, errors.New("refresh token is required")
	}

	params := url.Values{}
	for k, v := range parameters {
		params.Set(k, v)
	}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", refreshToken)
	params.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		params.Set("client_secret", c.clientSecret)
	}
	if !scope.IsEmpty() {
		params.Set("scope", scope.String())
	}

	logger.Debugw("refreshing tokens", "token_endpoint", c.tokenURL, "scope", scope.String())

	body, err := c.post(ctx, c.tokenURL, params)
	if err != nil {
		return credentials.Record{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credentials.Record{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	rec := credentials.Record{
		AccessToken:  tr.AccessToken,
		IDToken:      tr.IDToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        credentials.ParseScope(tr.Scope),
	}
	if tr.ExpiresIn > 0 {
		rec.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}

	logger.Debugw("token refresh successful",
		"has_new_refresh_token", tr.RefreshToken != "",
		"expires_at", rec.ExpiresAt.Format(time.RFC3339),
	)
	return rec, nil
}

// Revoke invalidates refreshToken at the provider.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return errors.New("refresh token is required")
	}

	params := url.Values{
		"client_id":       {c.clientID},
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	if c.clientSecret != "" {
		params.Set("client_secret", c.clientSecret)
	}

	logger.Debugw("revoking refresh token", "revocation_endpoint", c.revocationURL)
	_, err := c.post(ctx, c.revocationURL, params)
	return err
}

// post sends a form request and returns the body of a 2xx response. Other
// responses are returned as *oauth2.RetrieveError.
func (c *Client) post(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", versions.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retrieveError(resp, body)
	}
	return body, nil
}

func retrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	rerr := &oauth2.RetrieveError{Response: resp, Body: body}
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if json.Unmarshal(body, &payload) == nil {
		rerr.ErrorCode = payload.Error
		rerr.ErrorDescription = payload.ErrorDescription
		rerr.ErrorURI = payload.ErrorURI
	}
	return rerr
}
