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

const roleRoot = "root"

// MetaRepository stores verified repository metadata.
type MetaRepository struct {
	db *sql.DB
}

func NewMetaRepository(db *sql.DB) *MetaRepository {
	return &MetaRepository{db: db}
}

// LoadLatestRoot returns the highest root version of repo, or nil, nil.
func (r *MetaRepository) LoadLatestRoot(ctx context.Context, repo string) (*model.Meta, error) {
	const q = `
		SELECT id, repo, role, version, body, created_at
		FROM meta
		WHERE repo = ? AND role = ?
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanOne(ctx, q, repo, roleRoot)
}

// LoadNonRoot returns the stored document of a non-root role, or nil, nil.
func (r *MetaRepository) LoadNonRoot(ctx context.Context, repo, role string) (*model.Meta, error) {
	const q = `
		SELECT id, repo, role, version, body, created_at
		FROM meta
		WHERE repo = ? AND role = ?
		ORDER BY id DESC
		LIMIT 1
	`
	return r.scanOne(ctx, q, repo, role)
}

func (r *MetaRepository) scanOne(ctx context.Context, q string, args ...any) (*model.Meta, error) {
	var m model.Meta
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&m.ID, &m.Repo, &m.Role, &m.Version, &m.Body, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query meta: %w", err)
	}
	return &m, nil
}

// StoreAll writes all documents in one transaction. Roots are appended,
// a stored root version is never rewritten; other roles replace what was
// stored for the same repo and role.
func (r *MetaRepository) StoreAll(ctx context.Context, metas []*model.Meta) error {
	if len(metas) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const del = `DELETE FROM meta WHERE repo = ? AND role = ?`
	const ins = `
		INSERT INTO meta (repo, role, version, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Truncate(time.Second)
	for _, m := range metas {
		if m.Role != roleRoot {
			if _, err := tx.ExecContext(ctx, del, m.Repo, m.Role); err != nil {
				return fmt.Errorf("replace %s %s: %w", m.Repo, m.Role, err)
			}
		}
		res, err := tx.ExecContext(ctx, ins, m.Repo, m.Role, m.Version, m.Body, now)
		if err != nil {
			return fmt.Errorf("insert %s %s v%d: %w", m.Repo, m.Role, m.Version, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			m.ID = id
			m.CreatedAt = now
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DropTargets forgets the stored targets of repo.
func (r *MetaRepository) DropTargets(ctx context.Context, repo string) error {
	const q = `DELETE FROM meta WHERE repo = ? AND role = 'targets'`
	if _, err := r.db.ExecContext(ctx, q, repo); err != nil {
		return fmt.Errorf("drop %s targets: %w", repo, err)
	}
	return nil
}
