// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves the master secret that seals stored credentials.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/term"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/credkeeper/pkg/logger"
	"github.com/stacklok/credkeeper/pkg/secrets/keyring"
)

const (
	// PasswordEnvVar is the environment variable used to specify the master
	// password for sealing stored credentials.
	PasswordEnvVar = "CREDKEEPER_STORE_PASSWORD"

	keyringService = "credkeeper"
	keyringUser    = "master-password"
)

// ErrKeyringNotAvailable is returned when no master password is configured
// and the OS keyring cannot hold one.
var ErrKeyringNotAvailable = httperr.WithCode(
	errors.New("OS keyring is not available. "+
		"Set "+PasswordEnvVar+" or ensure your system has a keyring service available"),
	http.StatusBadRequest,
)

// Resolver finds the master password, creating one on first use.
type Resolver struct {
	env         env.Reader
	keyring     keyring.Provider
	interactive bool
	in          *os.File
	out         io.Writer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnv sets the environment reader.
func WithEnv(reader env.Reader) ResolverOption {
	return func(r *Resolver) {
		r.env = reader
	}
}

// WithKeyring sets the keyring provider.
func WithKeyring(provider keyring.Provider) ResolverOption {
	return func(r *Resolver) {
		r.keyring = provider
	}
}

// WithInteractive allows prompting on the terminal for a new password
// instead of generating one.
func WithInteractive(interactive bool) ResolverOption {
	return func(r *Resolver) {
		r.interactive = interactive
	}
}

// NewResolver creates a Resolver over the process environment and the
// composite OS keyring.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		env: &env.OSReader{},
		in:  os.Stdin,
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.keyring == nil {
		r.keyring = keyring.NewCompositeProvider()
	}
	return r
}

// Keyring returns the keyring provider the resolver uses.
func (r *Resolver) Keyring() keyring.Provider {
	return r.keyring
}

// MasterPassword returns the password to derive sealing keys from. The
// environment variable wins; otherwise the password is loaded from the OS
// keyring, or created and stored there on first use.
func (r *Resolver) MasterPassword() ([]byte, error) {
	if password := r.env.Getenv(PasswordEnvVar); password != "" {
		return []byte(password), nil
	}

	// Attempt to load the password from the keyring
	secret, err := r.keyring.Get(keyringService, keyringUser)
	if err == nil {
		return []byte(secret), nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		// Assume any other keyring error means keyring is not available
		logger.Debugw("keyring lookup failed", "error", err)
		return nil, ErrKeyringNotAvailable
	}

	var password []byte
	if r.interactive && term.IsTerminal(int(r.in.Fd())) {
		password, err = r.readPassword()
	} else {
		var generated string
		generated, err = GenerateSecurePassword()
		password = []byte(generated)
	}
	if err != nil {
		return nil, err
	}

	if err := r.StorePassword(password); err != nil {
		return nil, err
	}
	return password, nil
}

// StorePassword stores the password in the keyring.
func (r *Resolver) StorePassword(password []byte) error {
	logger.Debugf("writing master password to %s", r.keyring.Name())
	if err := r.keyring.Set(keyringService, keyringUser, string(password)); err != nil {
		return fmt.Errorf("failed to store password in keyring: %w", err)
	}
	return nil
}

// ResetKeyringSecret clears out the master password from the keyring (if present).
func (r *Resolver) ResetKeyringSecret() error {
	return r.keyring.Delete(keyringService, keyringUser)
}

func (r *Resolver) readPassword() ([]byte, error) {
	_, _ = fmt.Fprint(r.out, "credkeeper needs a password to encrypt stored credentials.\n"+
		"It will be kept in your OS keyring so you won't need to enter it again.\n"+
		"Please enter a password: ")
	password, err := term.ReadPassword(int(r.in.Fd()))
	// Start new line after receiving password to ensure errors are printed correctly.
	_, _ = fmt.Fprintln(r.out)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	// Ensure the password is non-empty.
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	return password, nil
}

// GenerateSecurePassword generates a cryptographically secure random password
func GenerateSecurePassword() (string, error) {
	// Generate 32 random bytes (256 bits)
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Encode as base64 to make it a readable string
	return base64.URLEncoding.EncodeToString(bytes), nil
}
