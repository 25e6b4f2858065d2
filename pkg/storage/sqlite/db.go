// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite keeps sealed credential blobs in a local SQLite database,
// one row per store key. Several store keys can share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/stacklok/credkeeper/pkg/logger"
)

//go:embed migrations/*.sql
var schema embed.FS

// DB wraps the database handle shared by the stores opened on it.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between
	// our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return &DB{db: db}, nil
}

// DB returns the underlying handle.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate applies the pending schema versions.
func migrate(ctx context.Context, db *sql.DB) error {
	versions, err := fs.Sub(schema, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, versions)
	if err != nil {
		return fmt.Errorf("failed to prepare schema migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate credentials schema: %w", err)
	}
	for _, r := range results {
		logger.Debugw("applied schema migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}
