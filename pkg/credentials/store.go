// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"log/slog"

	cerrors "github.com/stacklok/credkeeper/pkg/errors"
)

// readRecord loads the record held by store. A missing, unopenable or
// undecodable blob reports found=false; only I/O failures return an error.
func readRecord(ctx context.Context, store Store, logger *slog.Logger) (Record, bool, error) {
	data, err := store.Read(ctx)
	if errors.Is(err, ErrCorruptData) {
		logger.Warn("stored credentials could not be opened, treating store as empty", "error", err)
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, cerrors.NewStoreFailedError("failed to read credentials", err)
	}
	if len(data) == 0 {
		return Record{}, false, nil
	}

	var rec Record
	if err := rec.UnmarshalBinary(data); err != nil {
		logger.Warn("stored credentials could not be decoded, treating store as empty", "error", err)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// writeRecord serializes rec and replaces the stored blob.
func writeRecord(ctx context.Context, store Store, rec Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return store.Write(ctx, data)
}
