/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// ECUKey holds the ECU signing key as a CBOR encoded COSE_Key, including
// the private part.
type ECUKey struct {
	ID        int64
	KeyType   int
	CoseKey   []byte
	CreatedAt time.Time
}
