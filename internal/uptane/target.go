/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kentakayama/uptane-secondary/internal/util"
)

const (
	FormatBinary = "BINARY"
	FormatOSTree = "OSTREE"
)

// Target is a named, hash-identified unit of software referenced by
// targets metadata. It is treated as an immutable value.
type Target struct {
	Filename string
	Hashes   []Hash
	Length   uint64
	// Format is the custom "targetFormat" tag; empty means binary.
	Format string
	// ECUs maps ECU serial to hardware id, from custom "ecuIdentifiers".
	ECUs map[string]string
	// Custom holds the custom object as received, including the keys above.
	Custom json.RawMessage
}

type targetJSON struct {
	Hashes map[string]string `json:"hashes"`
	Length uint64            `json:"length"`
	Custom json.RawMessage   `json:"custom,omitempty"`
}

type ecuIdentifierJSON struct {
	HardwareID string `json:"hardwareId"`
}

type targetCustomJSON struct {
	ECUIdentifiers map[string]ecuIdentifierJSON `json:"ecuIdentifiers"`
	TargetFormat   string                       `json:"targetFormat"`
}

func parseTarget(name string, raw targetJSON) (Target, error) {
	if name == "" {
		return Target{}, fmt.Errorf("%w: target without filename", ErrInvalidMetadata)
	}
	if len(raw.Hashes) == 0 {
		return Target{}, fmt.Errorf("%w: %s", ErrMissingHashes, name)
	}
	t := Target{
		Filename: name,
		Hashes:   hashesFromMap(raw.Hashes),
		Length:   raw.Length,
		Custom:   raw.Custom,
	}
	if len(raw.Custom) > 0 {
		var custom targetCustomJSON
		if err := json.Unmarshal(raw.Custom, &custom); err != nil {
			return Target{}, fmt.Errorf("%w: custom of %s: %v", ErrInvalidMetadata, name, err)
		}
		t.Format = custom.TargetFormat
		if len(custom.ECUIdentifiers) > 0 {
			t.ECUs = make(map[string]string, len(custom.ECUIdentifiers))
			for serial, id := range custom.ECUIdentifiers {
				t.ECUs[serial] = id.HardwareID
			}
		}
	}
	return t, nil
}

func (t Target) toJSON() (targetJSON, error) {
	custom, err := t.customJSON()
	if err != nil {
		return targetJSON{}, err
	}
	return targetJSON{Hashes: hashesToMap(t.Hashes), Length: t.Length, Custom: custom}, nil
}

// customJSON merges Format and ECUs back over the opaque custom object.
func (t Target) customJSON() (json.RawMessage, error) {
	m := map[string]any{}
	if len(t.Custom) > 0 {
		if err := json.Unmarshal(t.Custom, &m); err != nil {
			return nil, err
		}
	}
	if len(t.ECUs) > 0 {
		ids := make(map[string]ecuIdentifierJSON, len(t.ECUs))
		for serial, hwid := range t.ECUs {
			ids[serial] = ecuIdentifierJSON{HardwareID: hwid}
		}
		m["ecuIdentifiers"] = ids
	}
	if t.Format != "" {
		m["targetFormat"] = t.Format
	}
	if len(m) == 0 {
		return nil, nil
	}
	return CanonicalJSON(m)
}

// MarshalJSON encodes the target as a standalone object, used for
// persistence and the wire.
func (t Target) MarshalJSON() ([]byte, error) {
	body, err := t.toJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Filename string `json:"filename"`
		targetJSON
	}{t.Filename, body})
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var v struct {
		Filename string `json:"filename"`
		targetJSON
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := parseTarget(v.Filename, v.targetJSON)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Type returns the target format, defaulting to binary.
func (t Target) Type() string {
	if t.Format == "" {
		return FormatBinary
	}
	return strings.ToUpper(t.Format)
}

func (t Target) IsOSTree() bool {
	return t.Type() == FormatOSTree
}

func (t Target) hashSet() util.Set[Hash] {
	return util.NewSet(t.Hashes...)
}

// Hash returns the value of the given hash type, if the target carries one.
func (t Target) Hash(ht HashType) (string, bool) {
	for _, h := range t.Hashes {
		if h.Type == ht {
			return h.Value, true
		}
	}
	return "", false
}

// Equal compares filename and hash set.
func (t Target) Equal(o Target) bool {
	return t.Filename == o.Filename && t.hashSet().Equal(o.hashSet())
}

// MatchesImage is the Director/Image cross-check: filename, hash set and
// length must all agree.
func (t Target) MatchesImage(image Target) bool {
	return t.Equal(image) && t.Length == image.Length
}

// MatchesECU reports whether the target is assigned to exactly this
// (serial, hardware id) pair.
func (t Target) MatchesECU(serial, hardwareID string) bool {
	hwid, ok := t.ECUs[serial]
	return ok && hwid == hardwareID
}

func (t Target) String() string {
	return t.Filename
}
