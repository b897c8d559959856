/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxPayloadSize bounds a single frame.
const MaxPayloadSize = 16 << 20

// WriteFrame writes one frame to w:
//
//	[4 bytes] payload length (little-endian uint32)
//	[1 byte]  kind
//	[N bytes] payload
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	hdr[4] = byte(kind)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r. It returns io.EOF when r is exhausted
// before a header starts.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return KindUnknown, nil, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	kind := Kind(hdr[4])
	if length > MaxPayloadSize {
		return KindUnknown, nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return KindUnknown, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return kind, payload, nil
}

// WriteMessage encodes m and writes it as one frame.
func WriteMessage(w io.Writer, m *Message) error {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, m.Kind, payload)
}

// ReadMessage reads one frame and decodes it by its kind. The raw payload
// is returned as well, for logging.
func ReadMessage(r io.Reader) (*Message, []byte, error) {
	kind, payload, err := ReadFrame(r)
	if err != nil {
		return nil, nil, err
	}
	m, err := DecodeMessage(kind, payload)
	return m, payload, err
}

// DecodeMessage decodes the payload of a frame of the given kind.
func DecodeMessage(kind Kind, payload []byte) (*Message, error) {
	m := &Message{Kind: kind}
	if err := cbor.Unmarshal(payload, m); err != nil {
		return nil, err
	}
	return m, nil
}
