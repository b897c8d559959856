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
	"time"

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
)

// InstalledVersionRepository handles installed version records of ECUs.
type InstalledVersionRepository struct {
	db *sql.DB
}

func NewInstalledVersionRepository(db *sql.DB) *InstalledVersionRepository {
	return &InstalledVersionRepository{db: db}
}

// Save records v with the given mode in a single transaction:
//
//   - current: v becomes the only current record and clears any pending one
//   - pending-reboot: v becomes the only pending record, current is untouched
//   - none: v is no longer pending; it is kept as a known version
//
// A new record created in pending-reboot or none mode is not current.
func (r *InstalledVersionRepository) Save(ctx context.Context, v *model.InstalledVersion, mode model.InstallMode) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	switch mode {
	case model.InstallModeCurrent:
		const clear = `UPDATE installed_versions SET is_current = 0, is_pending = 0 WHERE ecu_serial = ?`
		if _, err := tx.ExecContext(ctx, clear, v.ECUSerial); err != nil {
			return fmt.Errorf("clear current: %w", err)
		}
	case model.InstallModePendingReboot:
		const clear = `UPDATE installed_versions SET is_pending = 0 WHERE ecu_serial = ?`
		if _, err := tx.ExecContext(ctx, clear, v.ECUSerial); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
	}

	isCurrent := mode == model.InstallModeCurrent
	isPending := mode == model.InstallModePendingReboot
	now := time.Now().UTC().Truncate(time.Second)

	// only current mode touches the current flag of an existing record
	const upsert = `
		INSERT INTO installed_versions (ecu_serial, name, target, is_current, is_pending, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ecu_serial, name) DO UPDATE SET
			target = excluded.target,
			is_current = CASE WHEN ? THEN excluded.is_current ELSE installed_versions.is_current END,
			is_pending = excluded.is_pending,
			updated_at = excluded.updated_at
	`
	overrideCurrent := mode == model.InstallModeCurrent
	if _, err := tx.ExecContext(ctx, upsert, v.ECUSerial, v.Name, v.Target, isCurrent, isPending, now, overrideCurrent); err != nil {
		return fmt.Errorf("upsert installed version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if overrideCurrent {
		v.IsCurrent = true
	}
	v.IsPending = isPending
	v.UpdatedAt = now
	return nil
}

// List returns every known version of the ECU in insertion order.
func (r *InstalledVersionRepository) List(ctx context.Context, ecuSerial string) ([]*model.InstalledVersion, error) {
	const q = `
		SELECT id, ecu_serial, name, target, is_current, is_pending, updated_at
		FROM installed_versions
		WHERE ecu_serial = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, q, ecuSerial)
	if err != nil {
		return nil, fmt.Errorf("query installed versions: %w", err)
	}
	defer rows.Close()

	var out []*model.InstalledVersion
	for rows.Next() {
		var v model.InstalledVersion
		if err := rows.Scan(&v.ID, &v.ECUSerial, &v.Name, &v.Target, &v.IsCurrent, &v.IsPending, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// FindCurrent returns the current record, or nil, nil.
func (r *InstalledVersionRepository) FindCurrent(ctx context.Context, ecuSerial string) (*model.InstalledVersion, error) {
	const q = `
		SELECT id, ecu_serial, name, target, is_current, is_pending, updated_at
		FROM installed_versions
		WHERE ecu_serial = ? AND is_current = 1
	`
	return r.findOne(ctx, q, ecuSerial)
}

// FindPending returns the pending-reboot record, or nil, nil.
func (r *InstalledVersionRepository) FindPending(ctx context.Context, ecuSerial string) (*model.InstalledVersion, error) {
	const q = `
		SELECT id, ecu_serial, name, target, is_current, is_pending, updated_at
		FROM installed_versions
		WHERE ecu_serial = ? AND is_pending = 1
	`
	return r.findOne(ctx, q, ecuSerial)
}

func (r *InstalledVersionRepository) findOne(ctx context.Context, q string, ecuSerial string) (*model.InstalledVersion, error) {
	var v model.InstalledVersion
	err := r.db.QueryRowContext(ctx, q, ecuSerial).Scan(&v.ID, &v.ECUSerial, &v.Name, &v.Target, &v.IsCurrent, &v.IsPending, &v.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query installed version: %w", err)
	}
	return &v, nil
}
