// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// recordVersion is the serialization version written by MarshalBinary.
const recordVersion = 1

// Scope is a normalized set of OAuth scopes. The zero value means no
// explicit scope restriction.
type Scope []string

// NewScope builds a normalized scope from the given values, dropping empty
// entries and duplicates.
func NewScope(values ...string) Scope {
	var out Scope
	for _, v := range values {
		out = append(out, strings.Fields(v)...)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseScope parses a space separated scope string.
func ParseScope(s string) Scope {
	return NewScope(s)
}

// IsEmpty reports whether the scope has no entries.
func (s Scope) IsEmpty() bool {
	return len(NewScope(s...)) == 0
}

// Equal reports whether both scopes hold the same set of values.
func (s Scope) Equal(other Scope) bool {
	return slices.Equal(NewScope(s...), NewScope(other...))
}

// Contains reports whether the scope includes value.
func (s Scope) Contains(value string) bool {
	return slices.Contains(s, value)
}

// String returns the space separated form used on the wire.
func (s Scope) String() string {
	return strings.Join(NewScope(s...), " ")
}

// Record is a stored authentication session. Records are values: they are
// replaced wholesale on every change so token generations never mix.
type Record struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scope        Scope
}

// Renewable reports whether the record carries a refresh token.
func (r Record) Renewable() bool {
	return r.RefreshToken != ""
}

// Remaining returns how long the access token stays valid after now.
func (r Record) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// SatisfiesTTL reports whether the access token is valid for at least
// minTTL after now. The boundary is inclusive.
func (r Record) SatisfiesTTL(now time.Time, minTTL time.Duration) bool {
	return r.Remaining(now) >= minTTL
}

// Validate checks that all required fields are present.
func (r Record) Validate() error {
	var errs []error
	if r.AccessToken == "" {
		errs = append(errs, errors.New("access token is required"))
	}
	if r.IDToken == "" {
		errs = append(errs, errors.New("ID token is required"))
	}
	if r.TokenType == "" {
		errs = append(errs, errors.New("token type is required"))
	}
	if r.ExpiresAt.IsZero() {
		errs = append(errs, errors.New("expiry is required"))
	}
	return errors.Join(errs...)
}

// normalized returns a copy with a normalized scope and a UTC expiry.
func (r Record) normalized() Record {
	r.Scope = NewScope(r.Scope...)
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r
}

type storedRecord struct {
	Version      int       `json:"version"`
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// MarshalBinary serializes the record into the blob handed to a Store.
func (r Record) MarshalBinary() ([]byte, error) {
	n := r.normalized()
	return json.Marshal(storedRecord{
		Version:      recordVersion,
		AccessToken:  n.AccessToken,
		IDToken:      n.IDToken,
		RefreshToken: n.RefreshToken,
		TokenType:    n.TokenType,
		ExpiresAt:    n.ExpiresAt,
		Scope:        n.Scope.String(),
	})
}

// UnmarshalBinary restores a record written by MarshalBinary.
func (r *Record) UnmarshalBinary(data []byte) error {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to decode stored credentials: %w", err)
	}
	if stored.Version != recordVersion {
		return fmt.Errorf("unsupported stored credentials version %d", stored.Version)
	}
	*r = Record{
		AccessToken:  stored.AccessToken,
		IDToken:      stored.IDToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		ExpiresAt:    stored.ExpiresAt.UTC(),
		Scope:        ParseScope(stored.Scope),
	}
	return r.Validate()
}
