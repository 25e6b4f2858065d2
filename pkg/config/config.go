// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the credkeeper config file and
// the logic required to load and update it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variables that override config values,
// e.g. CREDKEEPER_STORE_TYPE for store.type.
const EnvPrefix = "CREDKEEPER"

// Config represents the configuration of credkeeper.
type Config struct {
	Account   Account             `yaml:"account"`
	Store     Store               `yaml:"store"`
	LocalAuth LocalAuth           `yaml:"local_auth,omitempty"`
	Server    Server              `yaml:"server,omitempty"`
	OTEL      OpenTelemetryConfig `yaml:"otel,omitempty"`
}

// Account identifies the application at the identity provider.
type Account struct {
	Domain             string `yaml:"domain"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret,omitempty"`
	Issuer             string `yaml:"issuer,omitempty"`
	TokenEndpoint      string `yaml:"token_endpoint,omitempty"`
	RevocationEndpoint string `yaml:"revocation_endpoint,omitempty"`
}

// Store selects where credentials are kept.
type Store struct {
	Type  string `yaml:"type"`
	Key   string `yaml:"key"`
	Path  string `yaml:"path,omitempty"`
	Redis Redis  `yaml:"redis,omitempty"`
}

// Redis configures the redis store type.
type Redis struct {
	Addrs      []string `yaml:"addrs,omitempty"`
	MasterName string   `yaml:"master_name,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	DB         int      `yaml:"db,omitempty"`
	KeyPrefix  string   `yaml:"key_prefix,omitempty"`
}

// LocalAuth configures the passcode prompt shown before credentials are
// handed out.
type LocalAuth struct {
	Enabled       bool   `yaml:"enabled"`
	Title         string `yaml:"title,omitempty"`
	Description   string `yaml:"description,omitempty"`
	CancelTitle   string `yaml:"cancel_title,omitempty"`
	FallbackTitle string `yaml:"fallback_title,omitempty"`
	PasscodeHash  string `yaml:"passcode_hash,omitempty"`
}

// Server configures `credkeeper serve`.
type Server struct {
	Address string `yaml:"address"`
}

// OpenTelemetryConfig contains the settings for OpenTelemetry configuration.
type OpenTelemetryConfig struct {
	Endpoint       string  `yaml:"endpoint,omitempty"`
	Insecure       bool    `yaml:"insecure,omitempty"`
	SamplingRate   float64 `yaml:"sampling-rate,omitempty"`
	MetricsEnabled bool    `yaml:"metrics-enabled"`
}

// defaultPathGenerator generates the default config path using xdg
var defaultPathGenerator = func() (string, error) {
	return xdg.ConfigFile("credkeeper/config.yaml")
}

// getConfigPath is the current path generator, can be replaced in tests
var getConfigPath = defaultPathGenerator

// Default returns a config with default values.
func Default() *Config {
	return &Config{
		Store: Store{
			Type: "file",
			Key:  "credentials",
		},
		LocalAuth: LocalAuth{
			Title: "Please authenticate to continue",
		},
		Server: Server{
			Address: "127.0.0.1:8765",
		},
		OTEL: OpenTelemetryConfig{
			SamplingRate:   0.05,
			MetricsEnabled: true,
		},
	}
}

// Path returns configPath, or the default location when it is empty.
func Path(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	p, err := getConfigPath()
	if err != nil {
		return "", fmt.Errorf("unable to fetch config path: %w", err)
	}
	return p, nil
}

// Load reads the config at configPath (or the default location) and applies
// overrides from v. A missing file yields the defaults. v may be nil, in
// which case only environment variables are consulted.
func Load(configPath string, v *viper.Viper) (*Config, error) {
	path, err := Path(configPath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("error reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	if v == nil {
		v = viper.New()
	}
	applyOverrides(cfg, v)
	return cfg, nil
}

// Save serializes the config and writes it to configPath (or the default
// location).
func (c *Config) Save(configPath string) error {
	path, err := Path(configPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Update loads the config, applies updateFn and saves it back. Overrides
// from the environment are not persisted.
func Update(configPath string, updateFn func(*Config)) error {
	path, err := Path(configPath)
	if err != nil {
		return err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	updateFn(cfg)
	return cfg.Save(path)
}

func applyOverrides(cfg *Config, v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	stringKeys := map[string]*string{
		"account.domain":              &cfg.Account.Domain,
		"account.client_id":           &cfg.Account.ClientID,
		"account.client_secret":       &cfg.Account.ClientSecret,
		"account.issuer":              &cfg.Account.Issuer,
		"account.token_endpoint":      &cfg.Account.TokenEndpoint,
		"account.revocation_endpoint": &cfg.Account.RevocationEndpoint,
		"store.type":                  &cfg.Store.Type,
		"store.key":                   &cfg.Store.Key,
		"store.path":                  &cfg.Store.Path,
		"store.redis.master_name":     &cfg.Store.Redis.MasterName,
		"store.redis.username":        &cfg.Store.Redis.Username,
		"store.redis.password":        &cfg.Store.Redis.Password,
		"store.redis.key_prefix":      &cfg.Store.Redis.KeyPrefix,
		"local_auth.passcode_hash":    &cfg.LocalAuth.PasscodeHash,
		"server.address":              &cfg.Server.Address,
		"otel.endpoint":               &cfg.OTEL.Endpoint,
	}
	for key, dst := range stringKeys {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	if v.IsSet("store.redis.addrs") {
		cfg.Store.Redis.Addrs = v.GetStringSlice("store.redis.addrs")
	}
	if v.IsSet("store.redis.db") {
		cfg.Store.Redis.DB = v.GetInt("store.redis.db")
	}
	if v.IsSet("local_auth.enabled") {
		cfg.LocalAuth.Enabled = v.GetBool("local_auth.enabled")
	}
	if v.IsSet("otel.insecure") {
		cfg.OTEL.Insecure = v.GetBool("otel.insecure")
	}
	if v.IsSet("otel.sampling-rate") {
		cfg.OTEL.SamplingRate = v.GetFloat64("otel.sampling-rate")
	}
	if v.IsSet("otel.metrics-enabled") {
		cfg.OTEL.MetricsEnabled = v.GetBool("otel.metrics-enabled")
	}
}
