// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Sealer encrypts blobs before they reach the database.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

// Store implements credentials.Store over a single row of the credentials
// table.
type Store struct {
	wrapper  *DB
	db       *sql.DB
	storeKey string
	sealer   Sealer
	ownsDB   bool
}

// NewStore creates a store for storeKey on an open database. Closing the
// store leaves db open.
func NewStore(db *DB, storeKey string, sealer Sealer) (*Store, error) {
	if storeKey == "" {
		return nil, errors.New("store key is required")
	}
	if sealer == nil {
		return nil, errors.New("sqlite store requires a sealer")
	}
	return &Store{wrapper: db, db: db.DB(), storeKey: storeKey, sealer: sealer}, nil
}

// NewStoreFromPath opens the database at path and returns a store that owns
// it.
func NewStoreFromPath(ctx context.Context, path, storeKey string, sealer Sealer) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(db, storeKey, sealer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// Read returns the opened blob, or nil if no row exists.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM credentials WHERE store_key = ?`, s.storeKey,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	return s.sealer.Open(sealed)
}

// Write seals data and upserts the row.
func (s *Store) Write(ctx context.Context, data []byte) error {
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (store_key, blob) VALUES (?, ?)
		ON CONFLICT (store_key) DO UPDATE SET
			blob = excluded.blob,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		s.storeKey, sealed,
	)
	if err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// Delete removes the row. A missing row is not an error.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE store_key = ?`, s.storeKey,
	); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.wrapper.Close()
}
