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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

// DefaultTargetName is reported when no firmware was ever written.
const DefaultTargetName = "fake_pacman"

// FileUpdateAgent writes firmware as a plain file.
type FileUpdateAgent struct {
	targetFilepath string
	targetName     string
	logger         logging.Logger
}

func NewFileUpdateAgent(targetFilepath, targetName string, logger logging.Logger) *FileUpdateAgent {
	if targetName == "" {
		targetName = DefaultTargetName
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileUpdateAgent{targetFilepath: targetFilepath, targetName: targetName, logger: logger}
}

func (a *FileUpdateAgent) IsTargetSupported(target uptane.Target) bool {
	return !target.IsOSTree()
}

// GetInstalledImageInfo hashes the firmware file. Before the first install
// it reports the literal default name as content.
func (a *FileUpdateAgent) GetInstalledImageInfo(_ context.Context) (uptane.InstalledImageInfo, error) {
	data, err := os.ReadFile(a.targetFilepath)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte(DefaultTargetName)
	} else if err != nil {
		return uptane.InstalledImageInfo{}, fmt.Errorf("read %s: %w", a.targetFilepath, err)
	}
	h, err := uptane.ComputeHash(uptane.HashSHA256, data)
	if err != nil {
		return uptane.InstalledImageInfo{}, err
	}
	return uptane.InstalledImageInfo{Name: a.targetName, Length: uint64(len(data)), Hash: h.Value}, nil
}

// Download verifies data, then replaces the firmware file atomically.
func (a *FileUpdateAgent) Download(_ context.Context, target uptane.Target, data []byte) error {
	if err := verifyPayload(target, data); err != nil {
		return err
	}

	dir := filepath.Dir(a.targetFilepath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".firmware-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), a.targetFilepath); err != nil {
		return fmt.Errorf("rename into %s: %w", a.targetFilepath, err)
	}
	a.logger.WithField("target", target.Filename).Infof("wrote %d bytes to %s", len(data), a.targetFilepath)
	return nil
}

// Install is a no-op, the file is in place once downloaded.
func (a *FileUpdateAgent) Install(_ context.Context, target uptane.Target) uptane.ResultCode {
	return uptane.ResultOk
}

func (a *FileUpdateAgent) ApplyPendingInstall(_ context.Context, _ uptane.Target) uptane.InstallationResult {
	return uptane.NewInstallationResult(uptane.ResultInternalError, "pending installation is not supported by the file update agent")
}

func (a *FileUpdateAgent) CompleteInstall(_ context.Context) uptane.InstallationResult {
	return uptane.NewInstallationResult(uptane.ResultOk, "")
}
