/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binaryTarget(t *testing.T, name string, data []byte) uptane.Target {
	t.Helper()
	h256, err := uptane.ComputeHash(uptane.HashSHA256, data)
	require.NoError(t, err)
	h512, err := uptane.ComputeHash(uptane.HashSHA512, data)
	require.NoError(t, err)
	return uptane.Target{Filename: name, Hashes: []uptane.Hash{h256, h512}, Length: uint64(len(data))}
}

func TestFileUpdateAgent_Download(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "firmware", "fw.bin")
	a := NewFileUpdateAgent(path, "", nil)

	info, err := a.GetInstalledImageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetName, info.Name)
	assert.Equal(t, uint64(len(DefaultTargetName)), info.Length)

	data := []byte("new firmware")
	target := binaryTarget(t, "fw-2.bin", data)
	require.NoError(t, a.Download(ctx, target, data))
	assert.Equal(t, uptane.ResultOk, a.Install(ctx, target))

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)

	info, err = a.GetInstalledImageInfo(ctx)
	require.NoError(t, err)
	sum, _ := target.Hash(uptane.HashSHA256)
	assert.Equal(t, sum, info.Hash)
	assert.Equal(t, target.Length, info.Length)
}

func TestFileUpdateAgent_RejectsMutatedPayload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	a := NewFileUpdateAgent(path, "fw", nil)

	data := []byte("new firmware")
	target := binaryTarget(t, "fw-2.bin", data)

	mutated := append([]byte(nil), data...)
	mutated[0] ^= 0x01
	require.ErrorIs(t, a.Download(ctx, target, mutated), ErrHashMismatch)
	require.ErrorIs(t, a.Download(ctx, target, data[:4]), ErrLengthMismatch)

	// nothing was written and no temp files are left behind
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(written))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileUpdateAgent_Capabilities(t *testing.T) {
	a := NewFileUpdateAgent(filepath.Join(t.TempDir(), "fw.bin"), "", nil)

	assert.True(t, a.IsTargetSupported(uptane.Target{Filename: "fw.bin"}))
	assert.False(t, a.IsTargetSupported(uptane.Target{Filename: "os", Format: uptane.FormatOSTree}))

	res := a.ApplyPendingInstall(context.Background(), uptane.Target{})
	assert.Equal(t, uptane.ResultInternalError, res.Code)
	assert.True(t, a.CompleteInstall(context.Background()).Success())
}
