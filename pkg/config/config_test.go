// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
account:
  domain: tenant.example.com
  client_id: abc123
store:
  type: redis
  key: work
  redis:
    addrs: ["localhost:6379"]
    key_prefix: team
local_auth:
  enabled: true
  passcode_hash: "$2a$10$abcdefghijklmnopqrstuu"
server:
  address: 127.0.0.1:9000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credkeeper", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleConfig), viper.New())
	require.NoError(t, err)

	assert.Equal(t, "tenant.example.com", cfg.Account.Domain)
	assert.Equal(t, "abc123", cfg.Account.ClientID)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "work", cfg.Store.Key)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Store.Redis.Addrs)
	assert.Equal(t, "team", cfg.Store.Redis.KeyPrefix)
	assert.True(t, cfg.LocalAuth.Enabled)
	// Unset fields keep their defaults.
	assert.Equal(t, "Please authenticate to continue", cfg.LocalAuth.Title)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.InDelta(t, 0.05, cfg.OTEL.SamplingRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := Load(path, viper.New())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "loading must not create the file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "account: [unterminated"), viper.New())
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("store.key", "personal")
	v.Set("store.type", "sqlite")
	v.Set("store.redis.addrs", []string{"a:1", "b:2"})
	v.Set("local_auth.enabled", false)
	v.Set("otel.sampling-rate", 0.5)

	cfg, err := Load(writeConfig(t, sampleConfig), v)
	require.NoError(t, err)

	assert.Equal(t, "personal", cfg.Store.Key)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Store.Redis.Addrs)
	assert.False(t, cfg.LocalAuth.Enabled)
	assert.InDelta(t, 0.5, cfg.OTEL.SamplingRate, 1e-9)
	assert.Equal(t, "abc123", cfg.Account.ClientID)
}

//nolint:paralleltest // sets environment variables
func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CREDKEEPER_ACCOUNT_CLIENT_ID", "from-env")
	t.Setenv("CREDKEEPER_STORE_TYPE", "memory")

	cfg, err := Load(writeConfig(t, sampleConfig), nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Account.ClientID)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "tenant.example.com", cfg.Account.Domain)
}

func TestSaveAndUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Update(path, func(c *Config) {
		c.Account.ClientID = "abc123"
		c.Account.Domain = "tenant.example.com"
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, Update(path, func(c *Config) { c.Store.Key = "work" }))

	cfg, err := Load(path, viper.New())
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Account.ClientID)
	assert.Equal(t, "work", cfg.Store.Key)
	assert.Equal(t, "file", cfg.Store.Type)
}
