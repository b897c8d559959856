/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/rpc"
	"github.com/kentakayama/uptane-secondary/internal/secondary"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
)

type handler struct {
	sec     *secondary.Secondary
	timeout time.Duration
	logger  logging.Logger
}

func newHandler(sec *secondary.Secondary, timeout time.Duration, logger logging.Logger) *handler {
	return &handler{sec: sec, timeout: timeout, logger: logger}
}

func (h *handler) handlers() *rpc.Handlers {
	return &rpc.Handlers{
		GetInfo:        h.getInfo,
		GetManifest:    h.sec.GetManifest,
		PutMetadata:    h.sec.PutMetadata,
		SendFirmware:   h.sec.DownloadFirmware,
		SendFirmwareV1: h.sec.DownloadFirmwareFor,
		Install:        h.sec.Install,
		DownloadFile:   h.downloadFile,
	}
}

func (h *handler) getInfo(context.Context) (rpc.Info, error) {
	id := h.sec.Identity()
	return rpc.Info{Serial: id.Serial, HardwareID: id.HardwareID, PublicKey: id.PublicKey}, nil
}

// downloadFile fetches the target from the primary, then installs it.
func (h *handler) downloadFile(ctx context.Context, req rpc.DownloadFileRequest) uptane.ResultCode {
	log := h.logger.WithField("target", req.TargetName)

	fetchCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	data, err := rpc.FetchData(fetchCtx, req.DataAddr, req.Length)
	if err != nil {
		log.WithError(err).WithField("addr", req.DataAddr).Error("download failed")
		return uptane.ResultDownloadFailed
	}
	if err := h.sec.DownloadFirmwareFor(ctx, req.TargetName, data); err != nil {
		return uptane.ResultDownloadFailed
	}
	return h.sec.Install(ctx, req.TargetName)
}
