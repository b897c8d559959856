/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// ECUSerial is the identity established at provisioning. It is written once.
type ECUSerial struct {
	Serial     string
	HardwareID string
	CreatedAt  time.Time
}
