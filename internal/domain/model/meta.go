/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// Meta is one signed metadata document of a repository role.
type Meta struct {
	ID        int64
	Repo      string // director or image
	Role      string // root, targets, snapshot, timestamp
	Version   int
	Body      []byte
	CreatedAt time.Time
}
