/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

var (
	ErrHashMismatch   = errors.New("payload hash does not match target")
	ErrLengthMismatch = errors.New("payload length does not match target")
	ErrNotOSTree      = errors.New("target is not an OSTree commit")
)

// UpdateAgent performs the backend specific part of an update.
type UpdateAgent interface {
	IsTargetSupported(target uptane.Target) bool
	GetInstalledImageInfo(ctx context.Context) (uptane.InstalledImageInfo, error)
	// Download accepts data for target. It must verify data against the
	// target before anything is persisted.
	Download(ctx context.Context, target uptane.Target, data []byte) error
	Install(ctx context.Context, target uptane.Target) uptane.ResultCode
	// ApplyPendingInstall resumes an install that reported NeedCompletion.
	ApplyPendingInstall(ctx context.Context, target uptane.Target) uptane.InstallationResult
	CompleteInstall(ctx context.Context) uptane.InstallationResult
}

// verifyPayload checks length and every hash the target declares.
func verifyPayload(target uptane.Target, data []byte) error {
	if uint64(len(data)) != target.Length {
		return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrLengthMismatch, target.Filename, len(data), target.Length)
	}
	for _, want := range target.Hashes {
		got, err := uptane.ComputeHash(want.Type, data)
		if err != nil {
			return err
		}
		if got.Value != want.Value {
			return fmt.Errorf("%w: %s %s", ErrHashMismatch, target.Filename, want.Type)
		}
	}
	return nil
}
