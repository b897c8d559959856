/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

type InstallMode int

const (
	InstallModeNone InstallMode = iota
	InstallModeCurrent
	InstallModePendingReboot
)

func (m InstallMode) String() string {
	switch m {
	case InstallModeCurrent:
		return "current"
	case InstallModePendingReboot:
		return "pending-reboot"
	default:
		return "none"
	}
}

// InstalledVersion records one target known to be installed, or about to be,
// on an ECU. Target is the JSON encoded target.
type InstalledVersion struct {
	ID        int64
	ECUSerial string
	Name      string
	Target    []byte
	IsCurrent bool
	IsPending bool
	UpdatedAt time.Time
}
