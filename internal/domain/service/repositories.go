/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
)

// ECUSerialRepository defines the interface for the provisioned identity.
type ECUSerialRepository interface {
	Find(ctx context.Context) (*model.ECUSerial, error)
	Create(ctx context.Context, s *model.ECUSerial) error
}

// KeyRepository defines the interface for ECU key persistence.
type KeyRepository interface {
	Find(ctx context.Context) (*model.ECUKey, error)
	Create(ctx context.Context, k *model.ECUKey) (int64, error)
}

// MetaRepository defines the interface for verified metadata persistence.
type MetaRepository interface {
	LoadLatestRoot(ctx context.Context, repo string) (*model.Meta, error)
	LoadNonRoot(ctx context.Context, repo, role string) (*model.Meta, error)
	StoreAll(ctx context.Context, metas []*model.Meta) error
	DropTargets(ctx context.Context, repo string) error
}

// InstalledVersionRepository defines the interface for installed version records.
type InstalledVersionRepository interface {
	Save(ctx context.Context, v *model.InstalledVersion, mode model.InstallMode) error
	List(ctx context.Context, ecuSerial string) ([]*model.InstalledVersion, error)
	FindCurrent(ctx context.Context, ecuSerial string) (*model.InstalledVersion, error)
	FindPending(ctx context.Context, ecuSerial string) (*model.InstalledVersion, error)
}

// InstallationResultRepository defines the interface for install outcomes.
type InstallationResultRepository interface {
	Save(ctx context.Context, r *model.InstallationResult) error
	FindBySerial(ctx context.Context, ecuSerial string) (*model.InstallationResult, error)
}
