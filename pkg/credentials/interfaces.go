// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

//go:generate mockgen -destination=mocks/mock_interfaces.go -package=mocks -source=interfaces.go

import (
	"context"
	"errors"
)

// ErrCorruptData is returned by a Store when the persisted blob exists but
// cannot be opened. Callers treat it the same as an empty store.
var ErrCorruptData = errors.New("stored credentials are corrupt")

var (
	errNoRenewer = errors.New("no renewer configured")
	errNoRevoker = errors.New("no revoker configured")
)

// Store persists a single opaque blob under a fixed key. Implementations
// know nothing about the blob's contents.
type Store interface {
	// Read returns the persisted blob, or nil when nothing is stored.
	Read(ctx context.Context) ([]byte, error)
	// Write atomically replaces the persisted blob.
	Write(ctx context.Context, data []byte) error
	// Delete removes the persisted blob. Deleting an empty store is not an error.
	Delete(ctx context.Context) error
}

// Locker is implemented by stores that can guard a renewal across
// processes sharing the same backing medium.
type Locker interface {
	// Lock blocks until the lock is acquired or ctx is done. The returned
	// function releases it.
	Lock(ctx context.Context) (unlock func(), err error)
}

// Prompt configures the local authentication challenge.
type Prompt struct {
	Title       string
	Description string
	CancelTitle string
	// FallbackTitle labels the alternative to the primary challenge, if any.
	FallbackTitle string
}

// AuthResult is the outcome of a local authentication challenge.
type AuthResult int

const (
	// AuthSucceeded means the user passed the challenge.
	AuthSucceeded AuthResult = iota
	// AuthCancelled means the user dismissed the challenge.
	AuthCancelled
	// AuthFailed means the challenge was attempted and rejected.
	AuthFailed
)

// Gate runs a local user-presence challenge before credentials are released.
type Gate interface {
	Authenticate(ctx context.Context, prompt Prompt) (AuthResult, error)
}

// Renewer exchanges a refresh token for a fresh record. Fields the identity
// provider did not return are left empty.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string, scope Scope, parameters map[string]string) (Record, error)
}

// Revoker invalidates a refresh token at the identity provider.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// Decoder extracts the claims from an ID token without verifying its signature.
type Decoder interface {
	Decode(idToken string) (map[string]any, error)
}
