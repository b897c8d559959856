/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// Connection-level pragmas to improve concurrency and reliability.
	// These are executed per-connection; setting them here ensures sensible defaults.
	// NOTE: Some pragmas are persistent per DB file (journal_mode) and return a row.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA busy_timeout: %w", err)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Enable foreign keys
	PRAGMA foreign_keys = ON;

	-- Provisioned ECU identity, a single row written once
	CREATE TABLE IF NOT EXISTS ecu_serials (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		serial TEXT NOT NULL,
		hardware_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- ECU signing key as CBOR encoded COSE_Key
	CREATE TABLE IF NOT EXISTS ecu_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_type INTEGER NOT NULL,
		cose_key BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Verified metadata; roots are kept per version, other roles are replaced
	CREATE TABLE IF NOT EXISTS meta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo TEXT NOT NULL,
		role TEXT NOT NULL,
		version INTEGER NOT NULL,
		body BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (repo, role, version)
	);

	-- Composite index to accelerate "latest root of a repo"
	CREATE INDEX IF NOT EXISTS idx_meta_repo_role_version ON meta(repo, role, version);

	-- Installed versions per ECU
	CREATE TABLE IF NOT EXISTS installed_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ecu_serial TEXT NOT NULL,
		name TEXT NOT NULL,
		target BLOB NOT NULL,
		is_current BOOLEAN NOT NULL DEFAULT 0,
		is_pending BOOLEAN NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (ecu_serial, name)
	);

	-- At most one current and one pending record per ECU (requires SQLite >= 3.8.0)
	CREATE UNIQUE INDEX IF NOT EXISTS uniq_installed_versions_current ON installed_versions(ecu_serial) WHERE is_current = 1;
	CREATE UNIQUE INDEX IF NOT EXISTS uniq_installed_versions_pending ON installed_versions(ecu_serial) WHERE is_pending = 1;

	-- Last installation result per ECU
	CREATE TABLE IF NOT EXISTS ecu_installation_results (
		ecu_serial TEXT PRIMARY KEY,
		target_name TEXT NOT NULL,
		result_code INTEGER NOT NULL,
		description TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
