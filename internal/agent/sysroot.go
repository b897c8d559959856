/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	ostreeBin    = "ostree"
	rebootBin    = "reboot"
	bootIDPath   = "/proc/sys/kernel/random/boot_id"
	rebootMarker = "need_reboot"
)

var ErrNoDeployed = errors.New("no booted deployment")

// Sysroot is the subset of an OSTree sysroot the deployment agent drives.
type Sysroot interface {
	// Pull fetches rev from remote and returns the resolved commit.
	Pull(ctx context.Context, remote, rev string) (string, error)
	// Deploy stages rev for the next boot.
	Deploy(ctx context.Context, rev string) error
	BootedRevision(ctx context.Context) (string, error)
	// RebootDetected reports whether the system booted since the last Deploy.
	RebootDetected() bool
	ClearReboot() error
	Reboot(ctx context.Context) error
}

// ExecSysroot drives the ostree command line tool.
type ExecSysroot struct {
	path     string // sysroot, empty for the host
	osname   string
	stateDir string
}

func NewExecSysroot(path, osname, stateDir string) *ExecSysroot {
	return &ExecSysroot{path: path, osname: osname, stateDir: stateDir}
}

func (s *ExecSysroot) run(ctx context.Context, args ...string) (string, error) {
	if s.path != "" {
		args = append(args, "--sysroot="+s.path)
	}
	cmd := exec.CommandContext(ctx, ostreeBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", ostreeBin, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (s *ExecSysroot) repoArg() string {
	if s.path == "" {
		return "--repo=/ostree/repo"
	}
	return "--repo=" + filepath.Join(s.path, "ostree", "repo")
}

func (s *ExecSysroot) Pull(ctx context.Context, remote, rev string) (string, error) {
	cmd := exec.CommandContext(ctx, ostreeBin, s.repoArg(), "pull", remote, rev)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ostree pull %s %s: %w: %s", remote, rev, err, strings.TrimSpace(stderr.String()))
	}
	out, err := exec.CommandContext(ctx, ostreeBin, s.repoArg(), "rev-parse", rev).Output()
	if err != nil {
		return "", fmt.Errorf("ostree rev-parse %s: %w", rev, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *ExecSysroot) Deploy(ctx context.Context, rev string) error {
	args := []string{"admin", "deploy"}
	if s.osname != "" {
		args = append(args, "--os="+s.osname)
	}
	if _, err := s.run(ctx, append(args, rev)...); err != nil {
		return err
	}
	return s.markReboot()
}

// BootedRevision parses the checksum out of the booted deployment directory,
// which ends in "<checksum>.<serial>".
func (s *ExecSysroot) BootedRevision(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "admin", "--print-current-dir")
	if err != nil {
		return "", err
	}
	base := filepath.Base(out)
	rev, _, ok := strings.Cut(base, ".")
	if !ok || rev == "" {
		return "", fmt.Errorf("%w: %q", ErrNoDeployed, out)
	}
	return rev, nil
}

func (s *ExecSysroot) markReboot() error {
	id, err := os.ReadFile(bootIDPath)
	if err != nil {
		return fmt.Errorf("read boot id: %w", err)
	}
	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.stateDir, rebootMarker), bytes.TrimSpace(id), 0o644)
}

func (s *ExecSysroot) RebootDetected() bool {
	marked, err := os.ReadFile(filepath.Join(s.stateDir, rebootMarker))
	if err != nil {
		return false
	}
	current, err := os.ReadFile(bootIDPath)
	if err != nil {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(marked), bytes.TrimSpace(current))
}

func (s *ExecSysroot) ClearReboot() error {
	err := os.Remove(filepath.Join(s.stateDir, rebootMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *ExecSysroot) Reboot(ctx context.Context) error {
	return exec.CommandContext(ctx, rebootBin).Run()
}
