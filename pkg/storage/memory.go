// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore keeps the blob in process memory. It is intended for tests
// and short-lived processes.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read returns a copy of the stored blob.
func (s *MemoryStore) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.data), nil
}

// Write replaces the stored blob.
func (s *MemoryStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = bytes.Clone(data)
	return nil
}

// Delete removes the stored blob.
func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// Close is a no-op.
func (*MemoryStore) Close() error {
	return nil
}
