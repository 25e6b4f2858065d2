// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"errors"
	"runtime"

	gokeyring "github.com/zalando/go-keyring"
)

// dbusWrapperProvider delegates to zalando/go-keyring: the macOS Keychain,
// the Windows Credential Manager or a D-Bus secret service on Linux.
type dbusWrapperProvider struct{}

// NewZalandoKeyringProvider creates the platform keyring provider.
func NewZalandoKeyringProvider() Provider {
	return &dbusWrapperProvider{}
}

func (*dbusWrapperProvider) Set(service, key, value string) error {
	return gokeyring.Set(service, key, value)
}

func (*dbusWrapperProvider) Get(service, key string) (string, error) {
	value, err := gokeyring.Get(service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return value, err
}

func (*dbusWrapperProvider) Delete(service, key string) error {
	err := gokeyring.Delete(service, key)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil
	}
	return err
}

func (*dbusWrapperProvider) DeleteAll(service string) error {
	err := gokeyring.DeleteAll(service)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil
	}
	return err
}

func (d *dbusWrapperProvider) IsAvailable() bool {
	return roundTrips(d)
}

func (*dbusWrapperProvider) Name() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	case linuxOS:
		return "D-Bus Secret Service"
	default:
		return "System Keyring"
	}
}
