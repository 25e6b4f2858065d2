// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetryDelay = 100 * time.Millisecond
	// DefaultLockTimeout bounds how long a renewal waits for another process.
	DefaultLockTimeout = 30 * time.Second
)

// FileStore keeps the sealed blob in a single file. Writes go through a
// temporary file and a rename so readers never observe a partial blob.
type FileStore struct {
	path        string
	sealer      *Sealer
	lockTimeout time.Duration
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates a store at path, sealing blobs with sealer.
func NewFileStore(path string, sealer *Sealer) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if sealer == nil {
		return nil, errors.New("file store requires a sealer")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{path: path, sealer: sealer, lockTimeout: DefaultLockTimeout}, nil
}

// Path returns the location of the blob.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the opened blob, or nil if the file does not exist.
func (s *FileStore) Read(_ context.Context) ([]byte, error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return s.sealer.Open(sealed)
}

// Write seals data and atomically replaces the file.
func (s *FileStore) Write(_ context.Context, data []byte) error {
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

// Delete removes the file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// Lock takes an exclusive lock on a sibling lock file so that renewals in
// different processes sharing the file do not overlap.
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	fileLock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return func() { _ = fileLock.Unlock() }, nil
}

// Close is a no-op.
func (*FileStore) Close() error {
	return nil
}
