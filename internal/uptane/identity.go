/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

// EcuIdentity is established once at provisioning and never changes.
type EcuIdentity struct {
	Serial     string
	HardwareID string
	PublicKey  PublicKey
}

// InstalledImageInfo describes what an update agent currently runs.
type InstalledImageInfo struct {
	Name   string
	Length uint64
	Hash   string // sha256, hex
}
