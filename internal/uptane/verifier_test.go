/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testID      = EcuIdentity{Serial: "secondary-1", HardwareID: "ecu-A"}
	allFormats  = func(Target) bool { return true }
	firmwareOne = []byte("firmware image one")
)

func TestVerify_MatchingBundle(t *testing.T) {
	ctx := context.Background()
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	other := testTarget(t, "fw-other.bin", []byte("other"), "secondary-2", "ecu-A")
	pack := keys.pack(t, []Target{fw, other}, []Target{fw, other})

	got, err := v.Verify(ctx, pack, testID, allFormats)
	require.NoError(t, err)
	if diff := cmp.Diff(fw, got.Target, cmpopts.IgnoreFields(Target{}, "Custom")); diff != "" {
		t.Fatalf("matched target mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.VerifiedAt.IsZero())

	// director root+targets, image root+timestamp+snapshot+targets
	assert.Len(t, store.metas, 6)

	// verifying the same bundle again is idempotent
	again, err := v.Verify(ctx, pack, testID, allFormats)
	require.NoError(t, err)
	assert.True(t, got.Target.Equal(again.Target))
	assert.Len(t, store.metas, 6)
}

func TestVerify_CrossCheckFailures(t *testing.T) {
	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)

	otherHash := fw
	otherHash.Hashes = testTarget(t, "fw-1.bin", []byte("tampered"), testID.Serial, testID.HardwareID).Hashes

	otherLength := fw
	otherLength.Length++

	renamed := fw
	renamed.Filename = "fw-2.bin"

	tests := []struct {
		name  string
		image Target
	}{
		{"hash differs", otherHash},
		{"length differs", otherLength},
		{"filename missing", renamed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newRepoKeys(t)
			store := &memStore{}
			v := NewVerifier(store)

			_, err := v.Verify(context.Background(), keys.pack(t, []Target{fw}, []Target{tt.image}), testID, allFormats)
			require.ErrorIs(t, err, ErrTargetMismatch)
			assert.Empty(t, store.metas)
			assert.Zero(t, store.stores)
		})
	}
}

func TestVerify_HardwareIDMismatch(t *testing.T) {
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, "ecu-A")
	id := EcuIdentity{Serial: testID.Serial, HardwareID: "ecu-B"}

	_, err := v.Verify(context.Background(), keys.pack(t, []Target{fw}, []Target{fw}), id, allFormats)
	require.ErrorIs(t, err, ErrNoMatchingTarget)
	assert.Empty(t, store.metas)
}

func TestVerify_AmbiguousAssignment(t *testing.T) {
	keys := newRepoKeys(t)
	v := NewVerifier(&memStore{})

	a := testTarget(t, "fw-a.bin", []byte("a"), testID.Serial, testID.HardwareID)
	b := testTarget(t, "fw-b.bin", []byte("b"), testID.Serial, testID.HardwareID)

	_, err := v.Verify(context.Background(), keys.pack(t, []Target{a, b}, []Target{a, b}), testID, allFormats)
	require.ErrorIs(t, err, ErrAmbiguousTarget)
}

func TestVerify_UnsupportedFormat(t *testing.T) {
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	fw := testTarget(t, "os-commit", firmwareOne, testID.Serial, testID.HardwareID)
	fw.Format = FormatOSTree
	binaryOnly := func(t Target) bool { return !t.IsOSTree() }

	_, err := v.Verify(context.Background(), keys.pack(t, []Target{fw}, []Target{fw}), testID, binaryOnly)
	require.ErrorIs(t, err, ErrUnsupportedTarget)
	assert.Empty(t, store.metas)
}

func TestVerify_TargetsSignedByWrongKey(t *testing.T) {
	keys := newRepoKeys(t)
	v := NewVerifier(&memStore{})

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	pack := keys.pack(t, []Target{fw}, []Target{fw})
	pack.DirectorTargets = targetsDoc(t, 1, newTestKey(t, KeyTypeED25519), fw)

	_, err := v.Verify(context.Background(), pack, testID, allFormats)
	require.ErrorIs(t, err, ErrThresholdNotMet)
}

func TestVerify_RootSignedByUnlistedKey(t *testing.T) {
	keys := newRepoKeys(t)
	v := NewVerifier(&memStore{})

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	pack := keys.pack(t, []Target{fw}, []Target{fw})
	pack.ImageRoot = signDoc(t, rootBody(1, keys.imageRoot, keys.imageTargets), keys.imageTargets)

	_, err := v.Verify(context.Background(), pack, testID, allFormats)
	require.ErrorIs(t, err, ErrThresholdNotMet)
}

func TestVerify_DirectorRootRollback(t *testing.T) {
	ctx := context.Background()
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	pack := keys.pack(t, []Target{fw}, []Target{fw})
	pack.DirectorRoot = signDoc(t, rootBody(2, keys.directorRoot, keys.directorTargets), keys.directorRoot)
	_, err := v.Verify(ctx, pack, testID, allFormats)
	require.NoError(t, err)

	older := keys.pack(t, []Target{fw}, []Target{fw})
	_, err = v.Verify(ctx, older, testID, allFormats)
	require.ErrorIs(t, err, ErrRollback)

	root, err := store.LoadLatestRoot(ctx, string(RepoDirector))
	require.NoError(t, err)
	assert.Equal(t, 2, root.Version)
}

func TestVerify_DirectorRootRotation(t *testing.T) {
	ctx := context.Background()
	keys := newRepoKeys(t)
	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	newRoot := newTestKey(t, KeyTypeED25519)

	t.Run("signed by old and new keys", func(t *testing.T) {
		store := &memStore{}
		v := NewVerifier(store)
		_, err := v.Verify(ctx, keys.pack(t, []Target{fw}, []Target{fw}), testID, allFormats)
		require.NoError(t, err)

		pack := keys.pack(t, []Target{fw}, []Target{fw})
		pack.DirectorRoot = signDoc(t, rootBody(2, newRoot, keys.directorTargets), keys.directorRoot, newRoot)
		_, err = v.Verify(ctx, pack, testID, allFormats)
		require.NoError(t, err)

		root, err := store.LoadLatestRoot(ctx, string(RepoDirector))
		require.NoError(t, err)
		assert.Equal(t, 2, root.Version)
	})

	t.Run("signed by new key only", func(t *testing.T) {
		v := NewVerifier(&memStore{})
		_, err := v.Verify(ctx, keys.pack(t, []Target{fw}, []Target{fw}), testID, allFormats)
		require.NoError(t, err)

		pack := keys.pack(t, []Target{fw}, []Target{fw})
		pack.DirectorRoot = signDoc(t, rootBody(2, newRoot, keys.directorTargets), newRoot)
		_, err = v.Verify(ctx, pack, testID, allFormats)
		require.ErrorIs(t, err, ErrThresholdNotMet)
	})

	t.Run("skipping a version", func(t *testing.T) {
		v := NewVerifier(&memStore{})
		_, err := v.Verify(ctx, keys.pack(t, []Target{fw}, []Target{fw}), testID, allFormats)
		require.NoError(t, err)

		pack := keys.pack(t, []Target{fw}, []Target{fw})
		pack.DirectorRoot = signDoc(t, rootBody(3, keys.directorRoot, keys.directorTargets), keys.directorRoot)
		_, err = v.Verify(ctx, pack, testID, allFormats)
		require.ErrorIs(t, err, ErrRootJump)
	})
}

func TestVerify_TargetsRollback(t *testing.T) {
	ctx := context.Background()
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	pack := keys.pack(t, []Target{fw}, []Target{fw})
	pack.DirectorTargets = targetsDoc(t, 5, keys.directorTargets, fw)
	_, err := v.Verify(ctx, pack, testID, allFormats)
	require.NoError(t, err)

	pack.DirectorTargets = targetsDoc(t, 4, keys.directorTargets, fw)
	_, err = v.Verify(ctx, pack, testID, allFormats)
	require.ErrorIs(t, err, ErrRollback)

	// once the cached targets are dropped, the lower version is accepted again
	require.NoError(t, v.InvalidateDirectorTargets(ctx))
	_, err = v.Verify(ctx, pack, testID, allFormats)
	require.NoError(t, err)
}

func TestVerify_MalformedDocument(t *testing.T) {
	keys := newRepoKeys(t)
	v := NewVerifier(&memStore{})

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	pack := keys.pack(t, []Target{fw}, []Target{fw})
	pack.ImageTargets = "{not json"

	_, err := v.Verify(context.Background(), pack, testID, allFormats)
	require.ErrorIs(t, err, ErrInvalidMetadata)

	pack = keys.pack(t, []Target{fw}, []Target{fw})
	pack.DirectorTargets = pack.DirectorRoot
	_, err = v.Verify(context.Background(), pack, testID, allFormats)
	require.ErrorIs(t, err, ErrUnexpectedRoleType)
}

func TestVerifyRole_DistinctKeysOnly(t *testing.T) {
	a := newTestKey(t, KeyTypeED25519)
	b := newTestKey(t, KeyTypeECDSAP256)
	root := rootBody(1, a, a)
	root.Keys[b.id] = b.pub
	root.Roles[RoleRoot] = RoleKeys{KeyIDs: []string{a.id, b.id}, Threshold: 2}

	body := map[string]any{"_type": "root", "version": 1}
	twiceSameKey, err := Sign(body, a, a)
	require.NoError(t, err)
	require.ErrorIs(t, root.VerifyRole(RoleRoot, twiceSameKey), ErrThresholdNotMet)

	both, err := Sign(body, a, b)
	require.NoError(t, err)
	require.NoError(t, root.VerifyRole(RoleRoot, both))
}

func TestStoredTarget(t *testing.T) {
	ctx := context.Background()
	keys := newRepoKeys(t)
	store := &memStore{}
	v := NewVerifier(store)

	_, ok, err := v.StoredTarget(ctx, testID, allFormats)
	require.NoError(t, err)
	assert.False(t, ok)

	fw := testTarget(t, "fw-1.bin", firmwareOne, testID.Serial, testID.HardwareID)
	_, err = v.Verify(ctx, keys.pack(t, []Target{fw}, []Target{fw}), testID, allFormats)
	require.NoError(t, err)

	got, ok, err := v.StoredTarget(ctx, testID, allFormats)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, fw.Equal(got))

	_, _, err = v.StoredTarget(ctx, testID, func(Target) bool { return false })
	require.ErrorIs(t, err, ErrUnsupportedTarget)
	_, _, err = v.StoredTarget(ctx, EcuIdentity{Serial: testID.Serial, HardwareID: "ecu-B"}, allFormats)
	require.ErrorIs(t, err, ErrNoMatchingTarget)

	// stored targets are re-checked against the stored root
	targets, err := store.LoadNonRoot(ctx, string(RepoDirector), string(RoleTargets))
	require.NoError(t, err)
	targets.Body = []byte(targetsDoc(t, 1, newTestKey(t, KeyTypeED25519), fw))
	_, _, err = v.StoredTarget(ctx, testID, allFormats)
	require.ErrorIs(t, err, ErrThresholdNotMet)

	require.NoError(t, v.InvalidateDirectorTargets(ctx))
	_, ok, err = v.StoredTarget(ctx, testID, allFormats)
	require.NoError(t, err)
	assert.False(t, ok)
}
