// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"errors"
	"fmt"
	"sync"
)

// Account identifies an identity provider tenant and client application.
type Account struct {
	Domain   string
	ClientID string
	// StoreKey selects one of several sessions for the same account.
	StoreKey string
}

// Key returns the registry key of the account.
func (a Account) Key() string {
	storeKey := a.StoreKey
	if storeKey == "" {
		storeKey = DefaultStoreKey
	}
	return fmt.Sprintf("%s|%s|%s", a.Domain, a.ClientID, storeKey)
}

// Validate checks that the account is fully specified.
func (a Account) Validate() error {
	if a.Domain == "" {
		return errors.New("account domain is required")
	}
	if a.ClientID == "" {
		return errors.New("account client ID is required")
	}
	return nil
}

// Factory builds the cache for an account.
type Factory func(Account) (*Cache, error)

// Registry hands out one Cache per account, creating it on first use. All
// callers for the same account share the cache and therefore its renewal
// coordinator.
type Registry struct {
	factory Factory

	mu     sync.Mutex
	caches map[string]*Cache
}

// NewRegistry creates a registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		caches:  make(map[string]*Cache),
	}
}

// Get returns the cache for account, building it if needed.
func (r *Registry) Get(account Account) (*Cache, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := account.Key()
	if c, ok := r.caches[key]; ok {
		return c, nil
	}

	c, err := r.factory(account)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cache for %s: %w", account.Domain, err)
	}
	r.caches[key] = c
	return c, nil
}

// Remove forgets the cache for account. The stored credentials are untouched.
func (r *Registry) Remove(account Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caches, account.Key())
}

// Len returns the number of caches created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caches)
}
