/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kentakayama/uptane-secondary/internal/util"
)

type Role string

const (
	RoleRoot      Role = "root"
	RoleTargets   Role = "targets"
	RoleSnapshot  Role = "snapshot"
	RoleTimestamp Role = "timestamp"
)

type RepositoryType string

const (
	RepoDirector RepositoryType = "director"
	RepoImage    RepositoryType = "image"
)

// RawMetaPack carries every signed document of one metadata push, as
// received from the primary.
type RawMetaPack struct {
	DirectorRoot    string
	DirectorTargets string
	ImageRoot       string
	ImageTargets    string
	ImageSnapshot   string
	ImageTimestamp  string
}

type Signature struct {
	KeyID  string `json:"keyid"`
	Method string `json:"method"`
	Sig    string `json:"sig"`
}

// Signed is the outer envelope shared by all metadata and the manifest.
type Signed struct {
	Signatures []Signature     `json:"signatures"`
	Signed     json.RawMessage `json:"signed"`
}

// Signer produces one signature over canonical bytes.
type Signer interface {
	Sign(canonical []byte) (Signature, error)
}

// ParseSigned decodes the outer envelope. The body is left raw.
func ParseSigned(raw []byte) (*Signed, error) {
	var s Signed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if len(s.Signed) == 0 {
		return nil, fmt.Errorf("%w: missing signed body", ErrInvalidMetadata)
	}
	return &s, nil
}

// Sign canonicalizes body and attaches one signature per signer.
func Sign(body any, signers ...Signer) (*Signed, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return nil, err
	}
	s := &Signed{Signed: canonical, Signatures: []Signature{}}
	for _, signer := range signers {
		sig, err := signer.Sign(canonical)
		if err != nil {
			return nil, err
		}
		s.Signatures = append(s.Signatures, sig)
	}
	return s, nil
}

type header struct {
	Type    string `json:"_type"`
	Version int    `json:"version"`
	Expires string `json:"expires"`
}

func (s *Signed) header(expected Role) (header, error) {
	var h header
	if err := json.Unmarshal(s.Signed, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if !sameRole(h.Type, expected) {
		return h, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedRoleType, h.Type, expected)
	}
	return h, nil
}

func sameRole(t string, role Role) bool {
	switch t {
	case string(role):
		return true
	case "Root":
		return role == RoleRoot
	case "Targets":
		return role == RoleTargets
	case "Snapshot":
		return role == RoleSnapshot
	case "Timestamp":
		return role == RoleTimestamp
	}
	return false
}

type RoleKeys struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

type Root struct {
	Type    string               `json:"_type"`
	Version int                  `json:"version"`
	Expires string               `json:"expires"`
	Keys    map[string]PublicKey `json:"keys"`
	Roles   map[Role]RoleKeys    `json:"roles"`
}

// ParseRoot decodes a root document. It does not check signatures.
func ParseRoot(s *Signed) (*Root, error) {
	if _, err := s.header(RoleRoot); err != nil {
		return nil, err
	}
	var r Root
	if err := json.Unmarshal(s.Signed, &r); err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrInvalidMetadata, err)
	}
	if r.Version < 1 {
		return nil, fmt.Errorf("%w: root version %d", ErrInvalidMetadata, r.Version)
	}
	return &r, nil
}

// VerifyRole checks that s carries valid signatures from at least threshold
// distinct keys that this root assigns to role.
func (r *Root) VerifyRole(role Role, s *Signed) error {
	rk, ok := r.Roles[role]
	if !ok || rk.Threshold < 1 {
		return fmt.Errorf("%w: root v%d defines no usable %s role", ErrInvalidMetadata, r.Version, role)
	}
	msg, err := Canonicalize(s.Signed)
	if err != nil {
		return err
	}

	allowed := util.NewSet(rk.KeyIDs...)
	counted := util.NewSet[string]()
	for _, sig := range s.Signatures {
		if !allowed.Has(sig.KeyID) || counted.Has(sig.KeyID) {
			continue
		}
		key, ok := r.Keys[sig.KeyID]
		if !ok {
			continue
		}
		if id, err := key.KeyID(); err != nil || id != sig.KeyID {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(sig.Sig)
		if err != nil {
			continue
		}
		if err := key.Verify(sig.Method, msg, raw); err != nil {
			continue
		}
		counted.Add(sig.KeyID)
	}
	if counted.Len() < rk.Threshold {
		return fmt.Errorf("%w: %s has %d of %d valid signatures", ErrThresholdNotMet, role, counted.Len(), rk.Threshold)
	}
	return nil
}

// Targets is the signed body of a targets role. Delegations are decoded
// but never acted on.
type Targets struct {
	Type        string                `json:"_type"`
	Version     int                   `json:"version"`
	Expires     string                `json:"expires"`
	Targets     map[string]targetJSON `json:"targets"`
	Delegations json.RawMessage       `json:"delegations,omitempty"`
}

func ParseTargets(s *Signed) (*Targets, error) {
	if _, err := s.header(RoleTargets); err != nil {
		return nil, err
	}
	var t Targets
	if err := json.Unmarshal(s.Signed, &t); err != nil {
		return nil, fmt.Errorf("%w: targets: %v", ErrInvalidMetadata, err)
	}
	return &t, nil
}

// List returns the targets sorted by filename.
func (t *Targets) List() ([]Target, error) {
	names := make([]string, 0, len(t.Targets))
	for name := range t.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Target, 0, len(names))
	for _, name := range names {
		target, err := parseTarget(name, t.Targets[name])
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

// NewTargets builds a targets body from typed targets.
func NewTargets(version int, expires string, targets ...Target) (*Targets, error) {
	t := &Targets{
		Type:    string(RoleTargets),
		Version: version,
		Expires: expires,
		Targets: make(map[string]targetJSON, len(targets)),
	}
	for _, target := range targets {
		raw, err := target.toJSON()
		if err != nil {
			return nil, err
		}
		t.Targets[target.Filename] = raw
	}
	return t, nil
}
