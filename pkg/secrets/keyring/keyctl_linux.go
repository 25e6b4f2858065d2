// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package keyring

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// keyctlProvider stores values in the Linux kernel user keyring. It works on
// headless hosts where no D-Bus secret service is running.
type keyctlProvider struct {
	ringID int
	mu     sync.RWMutex
	keys   map[string]map[string]int // service -> key -> keyid mapping
}

// NewKeyctlProvider creates a provider over the user keyring.
func NewKeyctlProvider() (Provider, error) {
	// Use user keyring for persistence across process invocations
	ringID, err := unix.KeyctlGetKeyringID(unix.KEY_SPEC_USER_KEYRING, false)
	if err != nil {
		return nil, fmt.Errorf("could not get user keyring: %w", err)
	}

	// Link to thread keyring for reads
	_, err = unix.KeyctlInt(unix.KEYCTL_LINK, ringID, unix.KEY_SPEC_THREAD_KEYRING, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to link user keyring to thread keyring: %w", err)
	}

	return &keyctlProvider{
		ringID: ringID,
		keys:   make(map[string]map[string]int),
	}, nil
}

func keyName(service, key string) string {
	return fmt.Sprintf("%s:%s", service, key)
}

func (k *keyctlProvider) Set(service, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	name := keyName(service, key)
	keyID, err := unix.AddKey("user", name, []byte(value), k.ringID)
	if err != nil {
		return fmt.Errorf("failed to set key '%s' in user keyring: %w", name, err)
	}

	// Track the key for deletion
	if k.keys[service] == nil {
		k.keys[service] = make(map[string]int)
	}
	k.keys[service][key] = keyID

	return nil
}

func (k *keyctlProvider) Get(service, key string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	name := keyName(service, key)
	keyID, err := unix.KeyctlSearch(k.ringID, "user", name, 0)
	if err != nil {
		return "", ErrNotFound
	}

	// A read with an empty buffer reports the payload size.
	size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, keyID, nil, 0)
	if err != nil {
		return "", fmt.Errorf("read of key '%s' failed: %w", name, err)
	}

	buf := make([]byte, size)
	readBytes, err := unix.KeyctlBuffer(unix.KEYCTL_READ, keyID, buf, size)
	if err != nil {
		return "", fmt.Errorf("read of key '%s' failed: %w", name, err)
	}
	if readBytes > size {
		return "", fmt.Errorf("key '%s' grew while being read", name)
	}

	return string(buf[:readBytes]), nil
}

func (k *keyctlProvider) Delete(service, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.deleteLocked(service, key)
}

func (k *keyctlProvider) deleteLocked(service, key string) error {
	name := keyName(service, key)
	keyID, err := unix.KeyctlSearch(k.ringID, "user", name, 0)
	if err != nil {
		// Key not found - this is not an error for Delete
		return nil
	}

	_, err = unix.KeyctlInt(unix.KEYCTL_REVOKE, keyID, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to delete key '%s': %w", name, err)
	}

	if serviceKeys, exists := k.keys[service]; exists {
		delete(serviceKeys, key)
		if len(serviceKeys) == 0 {
			delete(k.keys, service)
		}
	}

	return nil
}

// DeleteAll removes the keys of service that this process wrote. The kernel
// keyring cannot be enumerated by service, so keys written by other
// processes are left alone.
func (k *keyctlProvider) DeleteAll(service string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var lastErr error
	for key := range k.keys[service] {
		if err := k.deleteLocked(service, key); err != nil {
			lastErr = err
		}
	}

	delete(k.keys, service)
	return lastErr
}

func (k *keyctlProvider) IsAvailable() bool {
	return roundTrips(k)
}

func (*keyctlProvider) Name() string {
	return "Linux Keyctl"
}
