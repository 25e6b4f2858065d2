// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/credkeeper/pkg/credentials"
)

var (
	// ErrLocked is returned when a renewal lock could not be acquired in time.
	ErrLocked = httperr.WithCode(
		errors.New("credential store is locked by another process"),
		http.StatusConflict,
	)

	// ErrUnsupportedBackend is returned by New for an unknown backend type.
	ErrUnsupportedBackend = httperr.WithCode(
		errors.New("unsupported credential store backend"),
		http.StatusBadRequest,
	)
)

// corrupt marks err as an unopenable blob.
func corrupt(err error) error {
	return fmt.Errorf("%w: %w", credentials.ErrCorruptData, err)
}
