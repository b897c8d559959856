/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package agent

import (
	"context"
	"fmt"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

// DeploymentUpdateAgent installs OSTree commits. Installs finish only after
// the ECU has rebooted into the new deployment.
type DeploymentUpdateAgent struct {
	sysroot Sysroot
	remote  string
	logger  logging.Logger
}

func NewDeploymentUpdateAgent(sysroot Sysroot, remote string, logger logging.Logger) *DeploymentUpdateAgent {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DeploymentUpdateAgent{sysroot: sysroot, remote: remote, logger: logger}
}

func (a *DeploymentUpdateAgent) IsTargetSupported(target uptane.Target) bool {
	return target.IsOSTree()
}

func (a *DeploymentUpdateAgent) GetInstalledImageInfo(ctx context.Context) (uptane.InstalledImageInfo, error) {
	rev, err := a.sysroot.BootedRevision(ctx)
	if err != nil {
		return uptane.InstalledImageInfo{}, err
	}
	return uptane.InstalledImageInfo{Name: rev, Length: 0, Hash: rev}, nil
}

func commitOf(target uptane.Target) (string, error) {
	if !target.IsOSTree() {
		return "", fmt.Errorf("%w: %s", ErrNotOSTree, target.Filename)
	}
	rev, ok := target.Hash(uptane.HashSHA256)
	if !ok {
		return "", fmt.Errorf("%w: %s has no sha256", ErrNotOSTree, target.Filename)
	}
	return rev, nil
}

// Download pulls the commit named by the target hash; the payload bytes are
// not used. The pulled commit must resolve to that same hash.
func (a *DeploymentUpdateAgent) Download(ctx context.Context, target uptane.Target, _ []byte) error {
	rev, err := commitOf(target)
	if err != nil {
		return err
	}
	pulled, err := a.sysroot.Pull(ctx, a.remote, rev)
	if err != nil {
		return err
	}
	if pulled != rev {
		return fmt.Errorf("%w: pulled %s, want %s", ErrHashMismatch, pulled, rev)
	}
	return nil
}

func (a *DeploymentUpdateAgent) Install(ctx context.Context, target uptane.Target) uptane.ResultCode {
	rev, err := commitOf(target)
	if err != nil {
		a.logger.WithError(err).Error("install rejected")
		return uptane.ResultInternalError
	}
	if err := a.sysroot.Deploy(ctx, rev); err != nil {
		a.logger.WithError(err).WithField("target", target.Filename).Error("deploy failed")
		return uptane.ResultInstallFailed
	}
	return uptane.ResultNeedCompletion
}

// ApplyPendingInstall decides a reboot-pending install:
// booted into the target is Ok, no reboot yet is NeedCompletion, and a
// reboot into anything else means the deployment did not take.
func (a *DeploymentUpdateAgent) ApplyPendingInstall(ctx context.Context, target uptane.Target) uptane.InstallationResult {
	rev, err := commitOf(target)
	if err != nil {
		return uptane.NewInstallationResult(uptane.ResultInternalError, err.Error())
	}
	booted, err := a.sysroot.BootedRevision(ctx)
	if err != nil {
		return uptane.NewInstallationResult(uptane.ResultInternalError, err.Error())
	}
	if booted == rev {
		if err := a.sysroot.ClearReboot(); err != nil {
			a.logger.WithError(err).Warn("failed to clear reboot marker")
		}
		return uptane.NewInstallationResult(uptane.ResultOk, "")
	}
	if !a.sysroot.RebootDetected() {
		return uptane.NewInstallationResult(uptane.ResultNeedCompletion, "waiting for reboot")
	}
	if err := a.sysroot.ClearReboot(); err != nil {
		a.logger.WithError(err).Warn("failed to clear reboot marker")
	}
	return uptane.NewInstallationResult(uptane.ResultInstallFailed, fmt.Sprintf("booted %s instead of %s", booted, rev))
}

// CompleteInstall reboots into the staged deployment.
func (a *DeploymentUpdateAgent) CompleteInstall(ctx context.Context) uptane.InstallationResult {
	if err := a.sysroot.Reboot(ctx); err != nil {
		return uptane.NewInstallationResult(uptane.ResultInternalError, err.Error())
	}
	return uptane.NewInstallationResult(uptane.ResultNeedCompletion, "rebooting")
}
