/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

import "errors"

var (
	ErrInvalidMetadata    = errors.New("invalid metadata")
	ErrUnknownKeyType     = errors.New("unknown key type")
	ErrBadSignature       = errors.New("bad signature")
	ErrThresholdNotMet    = errors.New("signature threshold not met")
	ErrRollback           = errors.New("metadata version rollback")
	ErrRootJump           = errors.New("root version skips an intermediate root")
	ErrTargetMismatch     = errors.New("director target does not match image target")
	ErrNoMatchingTarget   = errors.New("no target matches this ECU")
	ErrAmbiguousTarget    = errors.New("more than one target matches this ECU")
	ErrUnsupportedTarget  = errors.New("target format is not supported")
	ErrUnknownHashType    = errors.New("unknown hash type")
	ErrEmptyManifest      = errors.New("manifest is empty")
	ErrMissingHashes      = errors.New("target has no hashes")
	ErrUnexpectedRoleType = errors.New("unexpected role type")
)
