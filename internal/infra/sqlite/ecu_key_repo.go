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

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
)

// KeyRepository stores the ECU signing key.
type KeyRepository struct {
	db *sql.DB
}

func NewKeyRepository(db *sql.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Find returns the oldest stored key, or nil, nil.
func (r *KeyRepository) Find(ctx context.Context) (*model.ECUKey, error) {
	const q = `
		SELECT id, key_type, cose_key, created_at
		FROM ecu_keys
		ORDER BY id ASC
		LIMIT 1
	`
	var k model.ECUKey
	err := r.db.QueryRowContext(ctx, q).Scan(&k.ID, &k.KeyType, &k.CoseKey, &k.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find ecu key: %w", err)
	}
	return &k, nil
}

func (r *KeyRepository) Create(ctx context.Context, k *model.ECUKey) (int64, error) {
	const q = `
		INSERT INTO ecu_keys (key_type, cose_key, created_at)
		VALUES (?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, k.KeyType, k.CoseKey, k.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert ecu key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert ecu key: %w", err)
	}
	k.ID = id
	return id, nil
}
