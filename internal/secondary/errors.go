/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package secondary

import "errors"

var (
	ErrProvisioning       = errors.New("unable to establish ECU identity")
	ErrNoPendingTarget    = errors.New("no pending target")
	ErrTargetNameMismatch = errors.New("target name does not match the pending target")
)

// failure kinds, logged under the "kind" field
const (
	kindVerification = "verification"
	kindTransfer     = "transfer"
	kindInstall      = "install"
	kindStorage      = "storage"
	kindProvisioning = "provisioning"
)
