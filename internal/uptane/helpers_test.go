/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/kentakayama/uptane-secondary/internal/domain/model"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
)

type testKey struct {
	pub    PublicKey
	id     string
	signer cose.Signer
}

func newTestKey(t *testing.T, kt KeyType) *testKey {
	t.Helper()
	var priv crypto.Signer
	var alg cose.Algorithm
	var err error
	switch kt {
	case KeyTypeED25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		alg = cose.AlgorithmEdDSA
	case KeyTypeECDSAP256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		alg = cose.AlgorithmES256
	case KeyTypeRSA2048:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
		alg = cose.AlgorithmPS256
	default:
		t.Fatalf("unsupported test key type %v", kt)
	}
	require.NoError(t, err)

	pub, err := NewPublicKey(priv.Public())
	require.NoError(t, err)
	id, err := pub.KeyID()
	require.NoError(t, err)
	signer, err := cose.NewSigner(alg, priv)
	require.NoError(t, err)
	return &testKey{pub: pub, id: id, signer: signer}
}

func (k *testKey) Sign(msg []byte) (Signature, error) {
	sig, err := k.signer.Sign(rand.Reader, msg)
	if err != nil {
		return Signature{}, err
	}
	return Signature{KeyID: k.id, Method: k.pub.Method(), Sig: base64.StdEncoding.EncodeToString(sig)}, nil
}

func rootBody(version int, rootKey, targetsKey *testKey) *Root {
	return &Root{
		Type:    "root",
		Version: version,
		Expires: "2030-01-01T00:00:00Z",
		Keys: map[string]PublicKey{
			rootKey.id:    rootKey.pub,
			targetsKey.id: targetsKey.pub,
		},
		Roles: map[Role]RoleKeys{
			RoleRoot:      {KeyIDs: []string{rootKey.id}, Threshold: 1},
			RoleTargets:   {KeyIDs: []string{targetsKey.id}, Threshold: 1},
			RoleSnapshot:  {KeyIDs: []string{targetsKey.id}, Threshold: 1},
			RoleTimestamp: {KeyIDs: []string{targetsKey.id}, Threshold: 1},
		},
	}
}

func signDoc(t *testing.T, body any, signers ...*testKey) string {
	t.Helper()
	ss := make([]Signer, 0, len(signers))
	for _, s := range signers {
		ss = append(ss, s)
	}
	signed, err := Sign(body, ss...)
	require.NoError(t, err)
	raw, err := json.Marshal(signed)
	require.NoError(t, err)
	return string(raw)
}

func targetsDoc(t *testing.T, version int, key *testKey, targets ...Target) string {
	t.Helper()
	body, err := NewTargets(version, "2030-01-01T00:00:00Z", targets...)
	require.NoError(t, err)
	return signDoc(t, body, key)
}

func testTarget(t *testing.T, name string, data []byte, serial, hwid string) Target {
	t.Helper()
	h, err := ComputeHash(HashSHA256, data)
	require.NoError(t, err)
	return Target{
		Filename: name,
		Hashes:   []Hash{h},
		Length:   uint64(len(data)),
		ECUs:     map[string]string{serial: hwid},
	}
}

// repoKeys is the key material of both repositories.
type repoKeys struct {
	directorRoot, directorTargets *testKey
	imageRoot, imageTargets       *testKey
}

func newRepoKeys(t *testing.T) *repoKeys {
	return &repoKeys{
		directorRoot:    newTestKey(t, KeyTypeED25519),
		directorTargets: newTestKey(t, KeyTypeED25519),
		imageRoot:       newTestKey(t, KeyTypeECDSAP256),
		imageTargets:    newTestKey(t, KeyTypeED25519),
	}
}

func (k *repoKeys) pack(t *testing.T, director, image []Target) RawMetaPack {
	t.Helper()
	return RawMetaPack{
		DirectorRoot:    signDoc(t, rootBody(1, k.directorRoot, k.directorTargets), k.directorRoot),
		DirectorTargets: targetsDoc(t, 1, k.directorTargets, director...),
		ImageRoot:       signDoc(t, rootBody(1, k.imageRoot, k.imageTargets), k.imageRoot),
		ImageTargets:    targetsDoc(t, 1, k.imageTargets, image...),
		ImageSnapshot:   signDoc(t, map[string]any{"_type": "snapshot", "version": 1}, k.imageTargets),
		ImageTimestamp:  signDoc(t, map[string]any{"_type": "timestamp", "version": 1}, k.imageTargets),
	}
}

// memStore is an in-memory MetaRepository.
type memStore struct {
	metas  []*model.Meta
	stores int
}

func (s *memStore) LoadLatestRoot(_ context.Context, repo string) (*model.Meta, error) {
	var latest *model.Meta
	for _, m := range s.metas {
		if m.Repo == repo && m.Role == string(RoleRoot) && (latest == nil || m.Version > latest.Version) {
			latest = m
		}
	}
	return latest, nil
}

func (s *memStore) LoadNonRoot(_ context.Context, repo, role string) (*model.Meta, error) {
	for _, m := range s.metas {
		if m.Repo == repo && m.Role == role {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memStore) StoreAll(_ context.Context, metas []*model.Meta) error {
	s.stores++
	for _, m := range metas {
		if m.Role != string(RoleRoot) {
			s.remove(m.Repo, m.Role)
		}
		cp := *m
		s.metas = append(s.metas, &cp)
	}
	return nil
}

func (s *memStore) DropTargets(_ context.Context, repo string) error {
	s.remove(repo, string(RoleTargets))
	return nil
}

func (s *memStore) remove(repo, role string) {
	kept := s.metas[:0]
	for _, m := range s.metas {
		if m.Repo != repo || m.Role != role {
			kept = append(kept, m)
		}
	}
	s.metas = kept
}
