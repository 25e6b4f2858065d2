// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the credential store backends: process memory,
// an encrypted file, the OS keyring, Redis and SQLite.
package storage

import (
	"io"

	"github.com/stacklok/credkeeper/pkg/credentials"
)

// Backend is a credential store that holds resources until closed.
type Backend interface {
	credentials.Store
	io.Closer
}
