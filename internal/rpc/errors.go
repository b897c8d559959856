/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import "errors"

var (
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum size")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnexpectedResponse = errors.New("unexpected response kind")
	ErrNotSupported       = errors.New("request not supported by peer")
	ErrDataNotFetched     = errors.New("download data was not fetched")
)
