// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapProvider is an in-memory Provider used to drive the composite.
type mapProvider struct {
	name      string
	available bool

	mu     sync.Mutex
	values map[string]string
	checks int
}

func newMapProvider(name string, available bool) *mapProvider {
	return &mapProvider{name: name, available: available, values: map[string]string{}}
}

func (m *mapProvider) Set(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[keyName(service, key)] = value
	return nil
}

func (m *mapProvider) Get(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[keyName(service, key)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *mapProvider) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, keyName(service, key))
	return nil
}

func (*mapProvider) DeleteAll(string) error { return errors.New("not supported") }

func (m *mapProvider) IsAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return m.available
}

func (m *mapProvider) Name() string { return m.name }

func TestCompositeProvider_Creation(t *testing.T) {
	t.Parallel()
	provider := NewCompositeProvider()
	require.NotNil(t, provider)

	composite, ok := provider.(*compositeProvider)
	require.True(t, ok, "NewCompositeProvider should return a *compositeProvider")

	// zalando/go-keyring first; keyctl is added on Linux when the kernel allows it
	require.NotEmpty(t, composite.providers)
	assert.IsType(t, &dbusWrapperProvider{}, composite.providers[0])
	if runtime.GOOS != linuxOS {
		assert.Len(t, composite.providers, 1)
	}
}

func TestCompositeProvider_SelectsFirstAvailable(t *testing.T) {
	t.Parallel()

	unavailable := newMapProvider("first", false)
	available := newMapProvider("second", true)
	composite := newCompositeProvider(unavailable, available)

	assert.Nil(t, composite.active)
	assert.True(t, composite.IsAvailable())
	assert.Equal(t, "second", composite.Name())

	require.NoError(t, composite.Set("svc", "k", "v"))
	v, err := composite.Get("svc", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = unavailable.Get("svc", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, composite.Delete("svc", "k"))
	_, err = composite.Get("svc", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	// Selection is sticky.
	assert.Equal(t, 1, available.checks)
}

func TestCompositeProvider_NoneAvailable(t *testing.T) {
	t.Parallel()

	composite := newCompositeProvider(newMapProvider("only", false))

	assert.False(t, composite.IsAvailable())
	assert.ErrorIs(t, composite.Set("svc", "k", "v"), ErrNoKeyring)
	_, err := composite.Get("svc", "k")
	assert.ErrorIs(t, err, ErrNoKeyring)
	assert.ErrorIs(t, composite.Delete("svc", "k"), ErrNoKeyring)
	assert.ErrorIs(t, composite.DeleteAll("svc"), ErrNoKeyring)
	assert.Contains(t, composite.Name(), "unavailable")
}

func TestGenerateUniqueTestKey(t *testing.T) {
	t.Parallel()

	a, b := GenerateUniqueTestKey(), GenerateUniqueTestKey()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "credkeeper-keyring-test-")
}
