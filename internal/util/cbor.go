/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxRenderedBytes caps how much of a byte string is shown, firmware
// payloads travel in frames.
const maxRenderedBytes = 16

// RenderCBOR renders an encoded CBOR item as single line JSON for debug
// logs. Byte strings are shown as h'..' and cut after a short prefix.
func RenderCBOR(data []byte) (string, error) {
	var decoded any
	if err := cbor.Unmarshal(data, &decoded); err != nil {
		return "", err
	}
	normalised, err := normaliseCBORForJSON(decoded)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(normalised)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func normaliseCBORForJSON(value any) (any, error) {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			norm, err := normaliseCBORForJSON(elem)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case map[any]any:
		// encoding/json sorts the keys
		values := make(map[string]any, len(v))
		for key, val := range v {
			norm, err := normaliseCBORForJSON(val)
			if err != nil {
				return nil, err
			}
			values[stringifyCBORKey(key)] = norm
		}
		return values, nil
	case []byte:
		return renderBytes(v), nil
	case cbor.Tag:
		content, err := normaliseCBORForJSON(v.Content)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"_cborTag": v.Number,
			"content":  content,
		}, nil
	default:
		return v, nil
	}
}

func renderBytes(b []byte) string {
	if len(b) <= maxRenderedBytes {
		return fmt.Sprintf("h'%x'", b)
	}
	return fmt.Sprintf("h'%x'...(%d bytes)", b[:maxRenderedBytes], len(b))
}

func stringifyCBORKey(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	case []byte:
		return renderBytes(k)
	default:
		return fmt.Sprint(k)
	}
}
