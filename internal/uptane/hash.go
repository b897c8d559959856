/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

type HashType string

const (
	HashSHA256 HashType = "sha256"
	HashSHA512 HashType = "sha512"
)

// Hash is one (type, value) pair of a target. Value is lowercase hex.
type Hash struct {
	Type  HashType
	Value string
}

func NewHash(t HashType, value string) Hash {
	return Hash{Type: HashType(strings.ToLower(string(t))), Value: strings.ToLower(value)}
}

// ComputeHash digests data with the algorithm named by t.
func ComputeHash(t HashType, data []byte) (Hash, error) {
	switch t {
	case HashSHA256:
		sum := sha256.Sum256(data)
		return Hash{Type: t, Value: hex.EncodeToString(sum[:])}, nil
	case HashSHA512:
		sum := sha512.Sum512(data)
		return Hash{Type: t, Value: hex.EncodeToString(sum[:])}, nil
	default:
		return Hash{}, fmt.Errorf("%w: %q", ErrUnknownHashType, t)
	}
}

func (h Hash) String() string {
	return string(h.Type) + ":" + h.Value
}

// hashesFromMap converts the metadata form {"sha256": "..."} into the sorted
// slice form kept on a Target.
func hashesFromMap(m map[string]string) []Hash {
	out := make([]Hash, 0, len(m))
	for t, v := range m {
		out = append(out, NewHash(HashType(t), v))
	}
	sortHashes(out)
	return out
}

func hashesToMap(hashes []Hash) map[string]string {
	m := make(map[string]string, len(hashes))
	for _, h := range hashes {
		m[string(h.Type)] = h.Value
	}
	return m
}

func sortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		if hashes[i].Type != hashes[j].Type {
			return hashes[i].Type < hashes[j].Type
		}
		return hashes[i].Value < hashes[j].Value
	})
}
