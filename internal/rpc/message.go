/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package rpc is the primary/secondary wire protocol: one CBOR encoded
// message per frame, one request and one response per connection.
package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

// Kind values are stable on the wire.
type Kind byte

const (
	KindUnknown Kind = iota
	KindGetInfoReq
	KindGetInfoResp
	KindManifestReq
	KindManifestResp
	KindPutMetaReq
	KindPutMetaResp
	KindSendFirmwareReq
	KindSendFirmwareResp
	KindInstallReq
	KindInstallResp
	KindSendFirmwareReqV1
	KindNotSupportedResp
	KindDownloadFileReq
	KindDownloadFileResp
)

var kindNames = map[Kind]string{
	KindUnknown:           "UNKNOWN",
	KindGetInfoReq:        "GET_INFO_REQ",
	KindGetInfoResp:       "GET_INFO_RESP",
	KindManifestReq:       "MANIFEST_REQ",
	KindManifestResp:      "MANIFEST_RESP",
	KindPutMetaReq:        "PUT_META_REQ",
	KindPutMetaResp:       "PUT_META_RESP",
	KindSendFirmwareReq:   "SEND_FIRMWARE_REQ",
	KindSendFirmwareResp:  "SEND_FIRMWARE_RESP",
	KindInstallReq:        "INSTALL_REQ",
	KindInstallResp:       "INSTALL_RESP",
	KindSendFirmwareReqV1: "SEND_FIRMWARE_REQ_V1",
	KindNotSupportedResp:  "NOT_SUPPORTED_RESP",
	KindDownloadFileReq:   "DOWNLOAD_FILE_REQ",
	KindDownloadFileResp:  "DOWNLOAD_FILE_RESP",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", byte(k))
}

type ManifestFormat int

const (
	ManifestFormatJSON ManifestFormat = 0
)

// Message is one request or response. Kind travels in the frame header;
// only the fields used by Kind are encoded.
type Message struct {
	Kind Kind

	// GetInfoResp
	Serial     string
	HardwareID string
	KeyType    uptane.KeyType
	PublicKey  string

	// ManifestResp
	ManifestFormat ManifestFormat
	Manifest       []byte

	// PutMetaReq
	Meta uptane.RawMetaPack

	// PutMetaResp, SendFirmwareResp
	OK bool

	// SendFirmwareReq, SendFirmwareReqV1, InstallReq, DownloadFileReq
	TargetName string
	Firmware   []byte

	// InstallResp, DownloadFileResp
	Code uptane.ResultCode

	// NotSupportedResp
	RequestKind Kind

	// DownloadFileReq
	DataAddr string
	Length   uint64
}

func (m Message) MarshalCBOR() ([]byte, error) {
	switch m.Kind {
	case KindGetInfoReq, KindManifestReq:
		return cbor.Marshal([]any{})
	case KindGetInfoResp:
		return cbor.Marshal([]any{m.Serial, m.HardwareID, int(m.KeyType), m.PublicKey})
	case KindManifestResp:
		return cbor.Marshal([]any{int(m.ManifestFormat), m.Manifest})
	case KindPutMetaReq:
		return cbor.Marshal([]any{
			m.Meta.DirectorRoot, m.Meta.DirectorTargets,
			m.Meta.ImageRoot, m.Meta.ImageTargets, m.Meta.ImageSnapshot, m.Meta.ImageTimestamp,
		})
	case KindPutMetaResp, KindSendFirmwareResp:
		return cbor.Marshal([]any{m.OK})
	case KindSendFirmwareReq:
		return cbor.Marshal([]any{m.Firmware})
	case KindSendFirmwareReqV1:
		return cbor.Marshal([]any{m.TargetName, m.Firmware})
	case KindInstallReq:
		return cbor.Marshal([]any{m.TargetName})
	case KindInstallResp, KindDownloadFileResp:
		return cbor.Marshal([]any{int(m.Code)})
	case KindNotSupportedResp:
		return cbor.Marshal([]any{byte(m.RequestKind)})
	case KindDownloadFileReq:
		return cbor.Marshal([]any{m.TargetName, m.DataAddr, m.Length})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}
}

// UnmarshalCBOR decodes a payload according to the Kind already set on m.
func (m *Message) UnmarshalCBOR(data []byte) error {
	var a []cbor.RawMessage
	if err := cbor.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, m.Kind, err)
	}

	var fields []any
	switch m.Kind {
	case KindGetInfoReq, KindManifestReq:
		fields = nil
	case KindGetInfoResp:
		fields = []any{&m.Serial, &m.HardwareID, &m.KeyType, &m.PublicKey}
	case KindManifestResp:
		fields = []any{&m.ManifestFormat, &m.Manifest}
	case KindPutMetaReq:
		fields = []any{
			&m.Meta.DirectorRoot, &m.Meta.DirectorTargets,
			&m.Meta.ImageRoot, &m.Meta.ImageTargets, &m.Meta.ImageSnapshot, &m.Meta.ImageTimestamp,
		}
	case KindPutMetaResp, KindSendFirmwareResp:
		fields = []any{&m.OK}
	case KindSendFirmwareReq:
		fields = []any{&m.Firmware}
	case KindSendFirmwareReqV1:
		fields = []any{&m.TargetName, &m.Firmware}
	case KindInstallReq:
		fields = []any{&m.TargetName}
	case KindInstallResp, KindDownloadFileResp:
		var code int
		if len(a) != 1 {
			return fmt.Errorf("%w: %s has %d fields", ErrMalformedMessage, m.Kind, len(a))
		}
		if err := cbor.Unmarshal(a[0], &code); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, m.Kind, err)
		}
		m.Code = uptane.ParseResultCode(code)
		return nil
	case KindNotSupportedResp:
		fields = []any{&m.RequestKind}
	case KindDownloadFileReq:
		fields = []any{&m.TargetName, &m.DataAddr, &m.Length}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}

	if len(a) != len(fields) {
		return fmt.Errorf("%w: %s has %d fields, want %d", ErrMalformedMessage, m.Kind, len(a), len(fields))
	}
	for i, f := range fields {
		if err := cbor.Unmarshal(a[i], f); err != nil {
			return fmt.Errorf("%w: %s field %d: %v", ErrMalformedMessage, m.Kind, i, err)
		}
	}
	return nil
}

// isRequest reports whether k is sent by the primary.
func (k Kind) isRequest() bool {
	switch k {
	case KindGetInfoReq, KindManifestReq, KindPutMetaReq, KindSendFirmwareReq,
		KindInstallReq, KindSendFirmwareReqV1, KindDownloadFileReq:
		return true
	}
	return false
}
