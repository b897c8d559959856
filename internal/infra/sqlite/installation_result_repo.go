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

// InstallationResultRepository keeps the last install outcome per ECU.
type InstallationResultRepository struct {
	db *sql.DB
}

func NewInstallationResultRepository(db *sql.DB) *InstallationResultRepository {
	return &InstallationResultRepository{db: db}
}

func (r *InstallationResultRepository) Save(ctx context.Context, res *model.InstallationResult) error {
	const q = `
		INSERT INTO ecu_installation_results (ecu_serial, target_name, result_code, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ecu_serial) DO UPDATE SET
			target_name = excluded.target_name,
			result_code = excluded.result_code,
			description = excluded.description,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := r.db.ExecContext(ctx, q, res.ECUSerial, res.TargetName, res.Code, res.Description, now); err != nil {
		return fmt.Errorf("save installation result: %w", err)
	}
	res.UpdatedAt = now
	return nil
}

// FindBySerial returns nil, nil when no result was stored for the ECU.
func (r *InstallationResultRepository) FindBySerial(ctx context.Context, ecuSerial string) (*model.InstallationResult, error) {
	const q = `
		SELECT ecu_serial, target_name, result_code, description, updated_at
		FROM ecu_installation_results
		WHERE ecu_serial = ?
	`
	var res model.InstallationResult
	err := r.db.QueryRowContext(ctx, q, ecuSerial).Scan(&res.ECUSerial, &res.TargetName, &res.Code, &res.Description, &res.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find installation result: %w", err)
	}
	return &res, nil
}
