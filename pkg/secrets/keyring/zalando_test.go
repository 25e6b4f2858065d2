// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"
)

func TestDbusWrapperProvider_Name(t *testing.T) {
	t.Parallel()
	name := NewZalandoKeyringProvider().Name()
	require.NotEmpty(t, name)

	switch runtime.GOOS {
	case "darwin":
		assert.Contains(t, strings.ToLower(name), "keychain")
	case "windows":
		assert.Contains(t, strings.ToLower(name), "credential")
	case linuxOS:
		assert.Contains(t, strings.ToLower(name), "d-bus")
	default:
		assert.Contains(t, strings.ToLower(name), "keyring")
	}
}

func TestDbusWrapperProvider_WithMockKeyring(t *testing.T) { //nolint:paralleltest // replaces the go-keyring backend
	gokeyring.MockInit()
	provider := NewZalandoKeyringProvider()

	assert.True(t, provider.IsAvailable())

	require.NoError(t, provider.Set("credkeeper-test", "key", "value"))
	value, err := provider.Get("credkeeper-test", "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	require.NoError(t, provider.Delete("credkeeper-test", "key"))
	_, err = provider.Get("credkeeper-test", "key")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, provider.Delete("credkeeper-test", "key"))
}

func TestDbusWrapperProvider_Unavailable(t *testing.T) { //nolint:paralleltest // replaces the go-keyring backend
	gokeyring.MockInitWithError(errors.New("secret service not running"))
	t.Cleanup(gokeyring.MockInit)

	provider := NewZalandoKeyringProvider()
	assert.False(t, provider.IsAvailable())
	assert.Error(t, provider.Set("credkeeper-test", "key", "value"))
}
