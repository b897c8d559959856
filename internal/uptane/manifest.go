/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"encoding/json"
	"fmt"
	"time"
)

// Manifest is the signed report of the installed image. It is computed on
// demand and never stored.
type Manifest Signed

func (m *Manifest) IsEmpty() bool {
	return m == nil || len(m.Signed) == 0
}

type manifestFileInfo struct {
	Hashes map[string]string `json:"hashes"`
	Length uint64            `json:"length"`
}

type manifestImage struct {
	Filepath string           `json:"filepath"`
	FileInfo manifestFileInfo `json:"fileinfo"`
}

type manifestResult struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
}

// ManifestBody is the signed part of a Manifest.
type ManifestBody struct {
	ECUSerial          string          `json:"ecu_serial"`
	InstalledImage     manifestImage   `json:"installed_image"`
	Timestamp          string          `json:"timestamp"`
	InstallationResult *manifestResult `json:"installation_result,omitempty"`
}

// Body decodes the signed part.
func (m *Manifest) Body() (*ManifestBody, error) {
	if m.IsEmpty() {
		return nil, ErrEmptyManifest
	}
	var b ManifestBody
	if err := json.Unmarshal(m.Signed, &b); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrInvalidMetadata, err)
	}
	return &b, nil
}

// Verify checks that the manifest is signed by key.
func (m *Manifest) Verify(key PublicKey) error {
	if m.IsEmpty() {
		return ErrEmptyManifest
	}
	id, err := key.KeyID()
	if err != nil {
		return err
	}
	root := &Root{
		Version: 1,
		Keys:    map[string]PublicKey{id: key},
		Roles:   map[Role]RoleKeys{"manifest": {KeyIDs: []string{id}, Threshold: 1}},
	}
	return root.VerifyRole("manifest", (*Signed)(m))
}

// ManifestIssuer signs manifests for one ECU.
type ManifestIssuer struct {
	signer Signer
	serial string
	now    func() time.Time
}

func NewManifestIssuer(signer Signer, serial string) *ManifestIssuer {
	return &ManifestIssuer{signer: signer, serial: serial, now: time.Now}
}

// Issue signs a report of image. result is attached when not nil.
func (i *ManifestIssuer) Issue(image InstalledImageInfo, result *InstallationResult) (*Manifest, error) {
	body := ManifestBody{
		ECUSerial: i.serial,
		InstalledImage: manifestImage{
			Filepath: image.Name,
			FileInfo: manifestFileInfo{
				Hashes: map[string]string{string(HashSHA256): image.Hash},
				Length: image.Length,
			},
		},
		Timestamp: i.now().UTC().Format(time.RFC3339),
	}
	if result != nil {
		body.InstallationResult = &manifestResult{
			Code:        int(result.Code),
			Description: result.Description,
			Success:     result.Success(),
		}
	}
	signed, err := Sign(body, i.signer)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	return (*Manifest)(signed), nil
}

// ParseManifest decodes a JSON manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	s, err := ParseSigned(raw)
	if err != nil {
		return nil, err
	}
	return (*Manifest)(s), nil
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	if m.IsEmpty() {
		return []byte("{}"), nil
	}
	return json.Marshal((*Signed)(m))
}
