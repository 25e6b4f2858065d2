// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrg/xdg"

	"github.com/stacklok/credkeeper/pkg/secrets/keyring"
	"github.com/stacklok/credkeeper/pkg/storage/sqlite"
)

// Type names a storage backend.
type Type string

// Supported backends.
const (
	TypeMemory  Type = "memory"
	TypeFile    Type = "file"
	TypeKeyring Type = "keyring"
	TypeRedis   Type = "redis"
	TypeSQLite  Type = "sqlite"
)

// Options select and configure a backend.
type Options struct {
	Type Type
	// Key names the stored credentials. Backends that share a location
	// keep one blob per key.
	Key string
	// Path overrides the default file or database location.
	Path string
	// Secret is the master secret sealed backends derive their key from.
	Secret  []byte
	Redis   RedisConfig
	Keyring keyring.Provider
}

// New creates the backend described by opts.
func New(ctx context.Context, opts Options) (Backend, error) {
	if opts.Key == "" {
		return nil, errors.New("store key is required")
	}

	switch opts.Type {
	case TypeMemory:
		return NewMemoryStore(), nil
	case TypeKeyring:
		provider := opts.Keyring
		if provider == nil {
			provider = keyring.NewCompositeProvider()
		}
		return NewKeyringStore(provider, opts.Key)
	case TypeFile, TypeRedis, TypeSQLite:
		sealer, err := NewSealer(opts.Secret, opts.Key)
		if err != nil {
			return nil, err
		}
		return newSealed(ctx, opts, sealer)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Type)
	}
}

func newSealed(ctx context.Context, opts Options, sealer *Sealer) (Backend, error) {
	switch opts.Type {
	case TypeFile:
		path := opts.Path
		if path == "" {
			var err error
			path, err = xdg.DataFile(fmt.Sprintf("credkeeper/%s.cred", opts.Key))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve credential file path: %w", err)
			}
		}
		return NewFileStore(path, sealer)
	case TypeRedis:
		return NewRedisStore(ctx, opts.Redis, opts.Key, sealer)
	default:
		path := opts.Path
		if path == "" {
			var err error
			path, err = xdg.DataFile("credkeeper/credentials.db")
			if err != nil {
				return nil, fmt.Errorf("failed to resolve database path: %w", err)
			}
		}
		return sqlite.NewStoreFromPath(ctx, path, opts.Key, sealer)
	}
}
