/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package uptanetest builds signed Director and Image metadata for tests.
package uptanetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/veraison/go-cose"
)

const Expires = "2030-01-01T00:00:00Z"

// Key is an ED25519 repository key.
type Key struct {
	Pub    uptane.PublicKey
	ID     string
	signer cose.Signer
}

func NewKey(t testing.TB) *Key {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := uptane.NewPublicKey(priv.Public())
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	id, err := pub.KeyID()
	if err != nil {
		t.Fatalf("key id: %v", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return &Key{Pub: pub, ID: id, signer: signer}
}

func (k *Key) Sign(msg []byte) (uptane.Signature, error) {
	sig, err := k.signer.Sign(rand.Reader, msg)
	if err != nil {
		return uptane.Signature{}, err
	}
	return uptane.Signature{KeyID: k.ID, Method: k.Pub.Method(), Sig: base64.StdEncoding.EncodeToString(sig)}, nil
}

// Repos holds the keys of a Director and an Image repository.
type Repos struct {
	DirectorRoot, DirectorTargets *Key
	ImageRoot, ImageTargets       *Key
}

func NewRepos(t testing.TB) *Repos {
	return &Repos{
		DirectorRoot:    NewKey(t),
		DirectorTargets: NewKey(t),
		ImageRoot:       NewKey(t),
		ImageTargets:    NewKey(t),
	}
}

// Root returns a root body giving one key to the root role and one to the
// other roles.
func Root(version int, root, targets *Key) *uptane.Root {
	return &uptane.Root{
		Type:    "root",
		Version: version,
		Expires: Expires,
		Keys: map[string]uptane.PublicKey{
			root.ID:    root.Pub,
			targets.ID: targets.Pub,
		},
		Roles: map[uptane.Role]uptane.RoleKeys{
			uptane.RoleRoot:      {KeyIDs: []string{root.ID}, Threshold: 1},
			uptane.RoleTargets:   {KeyIDs: []string{targets.ID}, Threshold: 1},
			uptane.RoleSnapshot:  {KeyIDs: []string{targets.ID}, Threshold: 1},
			uptane.RoleTimestamp: {KeyIDs: []string{targets.ID}, Threshold: 1},
		},
	}
}

// SignDoc signs body and returns the JSON envelope.
func SignDoc(t testing.TB, body any, signers ...*Key) string {
	t.Helper()
	ss := make([]uptane.Signer, 0, len(signers))
	for _, s := range signers {
		ss = append(ss, s)
	}
	signed, err := uptane.Sign(body, ss...)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TargetsDoc(t testing.TB, version int, key *Key, targets ...uptane.Target) string {
	t.Helper()
	body, err := uptane.NewTargets(version, Expires, targets...)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	return SignDoc(t, body, key)
}

// Pack builds a version 1 bundle where Director lists director and Image
// lists image.
func (r *Repos) Pack(t testing.TB, director, image []uptane.Target) uptane.RawMetaPack {
	t.Helper()
	return uptane.RawMetaPack{
		DirectorRoot:    SignDoc(t, Root(1, r.DirectorRoot, r.DirectorTargets), r.DirectorRoot),
		DirectorTargets: TargetsDoc(t, 1, r.DirectorTargets, director...),
		ImageRoot:       SignDoc(t, Root(1, r.ImageRoot, r.ImageTargets), r.ImageRoot),
		ImageTargets:    TargetsDoc(t, 1, r.ImageTargets, image...),
		ImageSnapshot:   SignDoc(t, map[string]any{"_type": "snapshot", "version": 1}, r.ImageTargets),
		ImageTimestamp:  SignDoc(t, map[string]any{"_type": "timestamp", "version": 1}, r.ImageTargets),
	}
}

// Target describes data as a binary target assigned to one ECU.
func Target(t testing.TB, name string, data []byte, serial, hardwareID string) uptane.Target {
	t.Helper()
	h, err := uptane.ComputeHash(uptane.HashSHA256, data)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return uptane.Target{
		Filename: name,
		Hashes:   []uptane.Hash{h},
		Length:   uint64(len(data)),
		ECUs:     map[string]string{serial: hardwareID},
	}
}
