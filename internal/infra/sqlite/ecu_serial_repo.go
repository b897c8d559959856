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

	"github.com/kentakayama/uptane-secondary/internal/domain"
	"github.com/kentakayama/uptane-secondary/internal/domain/model"
)

// ECUSerialRepository stores the provisioned ECU identity.
type ECUSerialRepository struct {
	db *sql.DB
}

func NewECUSerialRepository(db *sql.DB) *ECUSerialRepository {
	return &ECUSerialRepository{db: db}
}

// Find returns nil, nil when the ECU has not been provisioned yet.
func (r *ECUSerialRepository) Find(ctx context.Context) (*model.ECUSerial, error) {
	const q = `
		SELECT serial, hardware_id, created_at
		FROM ecu_serials
		WHERE id = 1
	`
	var s model.ECUSerial
	err := r.db.QueryRowContext(ctx, q).Scan(&s.Serial, &s.HardwareID, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find ecu serial: %w", err)
	}
	return &s, nil
}

// Create stores the identity. It fails with domain.ErrAlreadyExists when an
// identity is already stored.
func (r *ECUSerialRepository) Create(ctx context.Context, s *model.ECUSerial) error {
	const q = `
		INSERT INTO ecu_serials (id, serial, hardware_id, created_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q, s.Serial, s.HardwareID, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ecu serial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ecu serial: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}
