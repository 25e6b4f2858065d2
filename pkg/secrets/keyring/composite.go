// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"errors"
	"runtime"
	"sync"

	"github.com/stacklok/credkeeper/pkg/logger"
)

// ErrNoKeyring is returned when no keyring backend is usable on this host.
var ErrNoKeyring = errors.New("no keyring backend is available")

// compositeProvider uses the first available backend out of an ordered list.
type compositeProvider struct {
	providers []Provider

	mu     sync.Mutex
	active Provider
}

// NewCompositeProvider returns a provider that prefers the platform keyring
// and falls back to the Linux kernel keyring.
func NewCompositeProvider() Provider {
	providers := []Provider{NewZalandoKeyringProvider()}

	if runtime.GOOS == linuxOS {
		if keyctl, err := NewKeyctlProvider(); err == nil {
			providers = append(providers, keyctl)
		} else {
			logger.Debugw("keyctl provider unavailable", "error", err)
		}
	}

	return newCompositeProvider(providers...)
}

func newCompositeProvider(providers ...Provider) *compositeProvider {
	return &compositeProvider{providers: providers}
}

// getActiveProvider selects the first available provider and remembers it.
func (c *compositeProvider) getActiveProvider() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return c.active
	}

	for _, p := range c.providers {
		if p.IsAvailable() {
			logger.Debugw("using keyring provider", "provider", p.Name())
			c.active = p
			return p
		}
	}
	return nil
}

func (c *compositeProvider) Set(service, key, value string) error {
	p := c.getActiveProvider()
	if p == nil {
		return ErrNoKeyring
	}
	return p.Set(service, key, value)
}

func (c *compositeProvider) Get(service, key string) (string, error) {
	p := c.getActiveProvider()
	if p == nil {
		return "", ErrNoKeyring
	}
	return p.Get(service, key)
}

func (c *compositeProvider) Delete(service, key string) error {
	p := c.getActiveProvider()
	if p == nil {
		return ErrNoKeyring
	}
	return p.Delete(service, key)
}

func (c *compositeProvider) DeleteAll(service string) error {
	p := c.getActiveProvider()
	if p == nil {
		return ErrNoKeyring
	}
	return p.DeleteAll(service)
}

func (c *compositeProvider) IsAvailable() bool {
	return c.getActiveProvider() != nil
}

func (c *compositeProvider) Name() string {
	if p := c.getActiveProvider(); p != nil {
		return p.Name()
	}
	return "Composite Keyring (unavailable)"
}
