// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/stacklok/credkeeper/pkg/secrets/keyring"
)

// KeyringService is the keyring service name blobs are stored under.
const KeyringService = "credkeeper"

// KeyringStore keeps the blob in the OS keyring. The keyring encrypts at
// rest, so the blob is only base64 encoded.
type KeyringStore struct {
	provider keyring.Provider
	key      string
}

var _ Backend = (*KeyringStore)(nil)

// NewKeyringStore creates a store for storeKey on provider.
func NewKeyringStore(provider keyring.Provider, storeKey string) (*KeyringStore, error) {
	if provider == nil {
		return nil, errors.New("keyring store requires a provider")
	}
	if storeKey == "" {
		return nil, errors.New("store key is required")
	}
	return &KeyringStore{provider: provider, key: storeKey}, nil
}

// Read returns the stored blob, or nil if the keyring has no entry.
func (s *KeyringStore) Read(_ context.Context) ([]byte, error) {
	encoded, err := s.provider.Get(KeyringService, s.key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from %s: %w", s.provider.Name(), err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, corrupt(err)
	}
	return data, nil
}

// Write replaces the keyring entry.
func (s *KeyringStore) Write(_ context.Context, data []byte) error {
	if err := s.provider.Set(KeyringService, s.key, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", s.provider.Name(), err)
	}
	return nil
}

// Delete removes the keyring entry.
func (s *KeyringStore) Delete(_ context.Context) error {
	if err := s.provider.Delete(KeyringService, s.key); err != nil {
		return fmt.Errorf("failed to delete credentials from %s: %w", s.provider.Name(), err)
	}
	return nil
}

// Close is a no-op.
func (*KeyringStore) Close() error {
	return nil
}
