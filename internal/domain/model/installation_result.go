/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// InstallationResult is the last install outcome reported for an ECU.
type InstallationResult struct {
	ECUSerial   string
	TargetName  string
	Code        int
	Description string
	UpdatedAt   time.Time
}
