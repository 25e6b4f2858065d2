// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion = 1
	keyInfo     = "credkeeper/v1:"
)

// Sealer encrypts blobs at rest with XChaCha20-Poly1305. The key is derived
// from a master secret and the store key, so a blob copied between stores
// does not open.
type Sealer struct {
	key []byte
	aad []byte
}

// NewSealer derives a sealer for storeKey from secret.
func NewSealer(secret []byte, storeKey string) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("master secret is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(keyInfo+storeKey))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive store key: %w", err)
	}

	return &Sealer{key: key, aad: []byte(storeKey)}, nil
}

// Seal encrypts plaintext. The output is version | nonce | ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = sealVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(out, out[1:], plaintext, s.aad), nil
}

// Open decrypts a blob produced by Seal. Any failure is reported as
// credentials.ErrCorruptData.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(blob) < 1+aead.NonceSize()+aead.Overhead() {
		return nil, corrupt(errors.New("sealed blob is truncated"))
	}
	if blob[0] != sealVersion {
		return nil, corrupt(fmt.Errorf("unknown seal version %d", blob[0]))
	}

	nonce := blob[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, blob[1+aead.NonceSize():], s.aad)
	if err != nil {
		return nil, corrupt(err)
	}
	return plaintext, nil
}
