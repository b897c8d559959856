/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"testing"

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
)

func TestInstallationResult_Overwrite(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewInstallationResultRepository(db)
	if got, err := repo.FindBySerial(ctx, "serial-1"); err != nil || got != nil {
		t.Fatalf("expected no result, got %+v, %v", got, err)
	}

	if err := repo.Save(ctx, &model.InstallationResult{ECUSerial: "serial-1", TargetName: "fw-1.bin", Code: 21, Description: "reboot required"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := repo.Save(ctx, &model.InstallationResult{ECUSerial: "serial-1", TargetName: "fw-1.bin", Code: 0}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := repo.Save(ctx, &model.InstallationResult{ECUSerial: "serial-2", TargetName: "other.bin", Code: 4}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := repo.FindBySerial(ctx, "serial-1")
	if err != nil {
		t.Fatalf("FindBySerial error: %v", err)
	}
	if got.Code != 0 || got.Description != "" || got.TargetName != "fw-1.bin" {
		t.Fatalf("result not overwritten: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
}
