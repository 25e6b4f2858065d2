// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
)

// storeTypes lists the accepted values of store.type.
var storeTypes = []string{"memory", "file", "keyring", "redis", "sqlite"}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Account.ClientID == "" {
		errs = append(errs, errors.New("account.client_id is required"))
	}
	if c.Account.Domain == "" && c.Account.Issuer == "" && c.Account.TokenEndpoint == "" {
		errs = append(errs, errors.New("one of account.domain, account.issuer or account.token_endpoint is required"))
	}

	if !slices.Contains(storeTypes, c.Store.Type) {
		errs = append(errs, fmt.Errorf("store.type %q is invalid (valid types: %v)", c.Store.Type, storeTypes))
	}
	if c.Store.Key == "" {
		errs = append(errs, errors.New("store.key is required"))
	}
	if c.Store.Type == "redis" && len(c.Store.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("store.redis.addrs is required for the redis store"))
	}

	if c.LocalAuth.Enabled && c.LocalAuth.PasscodeHash == "" {
		errs = append(errs, errors.New("local_auth.passcode_hash is required when local_auth is enabled"))
	}

	if c.Server.Address != "" {
		if err := validateLoopback(c.Server.Address); err != nil {
			errs = append(errs, err)
		}
	}

	if c.OTEL.SamplingRate < 0 || c.OTEL.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("otel.sampling-rate must be between 0 and 1, got %v", c.OTEL.SamplingRate))
	}

	return errors.Join(errs...)
}

func validateLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("server.address %q is invalid: %w", address, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("server.address %q must be a loopback address", address)
}
