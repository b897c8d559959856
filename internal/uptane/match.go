/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import "fmt"

// CrossCheck requires every Director target to exist in the Image targets
// with identical filename, hash set and length.
func CrossCheck(director, image []Target) error {
	byName := make(map[string]Target, len(image))
	for _, t := range image {
		byName[t.Filename] = t
	}
	for _, d := range director {
		img, ok := byName[d.Filename]
		if !ok {
			return fmt.Errorf("%w: %s missing from image repository", ErrTargetMismatch, d.Filename)
		}
		if !d.MatchesImage(img) {
			return fmt.Errorf("%w: %s differs in hashes or length", ErrTargetMismatch, d.Filename)
		}
	}
	return nil
}

// TargetsFor filters targets down to those assigned to (serial, hardwareID).
func TargetsFor(targets []Target, serial, hardwareID string) []Target {
	var out []Target
	for _, t := range targets {
		if t.MatchesECU(serial, hardwareID) {
			out = append(out, t)
		}
	}
	return out
}

// SelectTarget returns the single target assigned to this ECU. Zero or more
// than one match is an error.
func SelectTarget(targets []Target, serial, hardwareID string) (Target, error) {
	matched := TargetsFor(targets, serial, hardwareID)
	switch len(matched) {
	case 1:
		return matched[0], nil
	case 0:
		return Target{}, fmt.Errorf("%w: serial %s hardware id %s", ErrNoMatchingTarget, serial, hardwareID)
	default:
		return Target{}, fmt.Errorf("%w: %d targets for serial %s", ErrAmbiguousTarget, len(matched), serial)
	}
}
