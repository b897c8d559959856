/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import (
	"context"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

// Info is what a secondary reports about itself.
type Info struct {
	Serial     string
	HardwareID string
	PublicKey  uptane.PublicKey
}

// DownloadFileRequest asks the secondary to fetch a target from DataAddr.
type DownloadFileRequest struct {
	TargetName string
	DataAddr   string
	Length     uint64
}

// Handlers holds the secondary side operations. A nil handler answers its
// request with NotSupportedResp.
type Handlers struct {
	GetInfo        func(ctx context.Context) (Info, error)
	GetManifest    func(ctx context.Context) (*uptane.Manifest, error)
	PutMetadata    func(ctx context.Context, pack uptane.RawMetaPack) error
	SendFirmware   func(ctx context.Context, data []byte) error
	SendFirmwareV1 func(ctx context.Context, name string, data []byte) error
	Install        func(ctx context.Context, name string) uptane.ResultCode
	DownloadFile   func(ctx context.Context, req DownloadFileRequest) uptane.ResultCode
}

func notSupported(k Kind) *Message {
	return &Message{Kind: KindNotSupportedResp, RequestKind: k}
}

// Dispatch answers one request. Handler errors become negative responses
// on the wire.
func (h *Handlers) Dispatch(ctx context.Context, req *Message, logger logging.Logger) *Message {
	if logger == nil {
		logger = logging.Discard()
	}
	switch req.Kind {
	case KindGetInfoReq:
		if h.GetInfo == nil {
			return notSupported(req.Kind)
		}
		info, err := h.GetInfo(ctx)
		if err != nil {
			logger.WithError(err).WithField("kind", "info").Error("cannot report ECU info")
			return notSupported(req.Kind)
		}
		return &Message{
			Kind:       KindGetInfoResp,
			Serial:     info.Serial,
			HardwareID: info.HardwareID,
			KeyType:    info.PublicKey.Type,
			PublicKey:  info.PublicKey.Value,
		}
	case KindManifestReq:
		if h.GetManifest == nil {
			return notSupported(req.Kind)
		}
		resp := &Message{Kind: KindManifestResp, ManifestFormat: ManifestFormatJSON}
		m, err := h.GetManifest(ctx)
		if err != nil {
			logger.WithError(err).WithField("kind", "manifest").Error("cannot issue manifest, answering with an empty one")
			m = nil
		}
		raw, err := m.MarshalJSON()
		if err != nil {
			raw = []byte("{}")
		}
		resp.Manifest = raw
		return resp
	case KindPutMetaReq:
		if h.PutMetadata == nil {
			return notSupported(req.Kind)
		}
		return &Message{Kind: KindPutMetaResp, OK: h.PutMetadata(ctx, req.Meta) == nil}
	case KindSendFirmwareReq:
		if h.SendFirmware == nil {
			return notSupported(req.Kind)
		}
		return &Message{Kind: KindSendFirmwareResp, OK: h.SendFirmware(ctx, req.Firmware) == nil}
	case KindSendFirmwareReqV1:
		if h.SendFirmwareV1 == nil {
			return notSupported(req.Kind)
		}
		return &Message{Kind: KindSendFirmwareResp, OK: h.SendFirmwareV1(ctx, req.TargetName, req.Firmware) == nil}
	case KindInstallReq:
		if h.Install == nil {
			return notSupported(req.Kind)
		}
		return &Message{Kind: KindInstallResp, Code: h.Install(ctx, req.TargetName)}
	case KindDownloadFileReq:
		if h.DownloadFile == nil {
			return notSupported(req.Kind)
		}
		code := h.DownloadFile(ctx, DownloadFileRequest{TargetName: req.TargetName, DataAddr: req.DataAddr, Length: req.Length})
		return &Message{Kind: KindDownloadFileResp, Code: code}
	// kinds only a secondary sends
	case KindUnknown, KindGetInfoResp, KindManifestResp, KindPutMetaResp, KindSendFirmwareResp,
		KindInstallResp, KindNotSupportedResp, KindDownloadFileResp:
		return notSupported(req.Kind)
	default:
		// not a kind of this protocol version
		return notSupported(req.Kind)
	}
}
