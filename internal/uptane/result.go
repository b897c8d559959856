/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package uptane

// ResultCode values are part of the wire protocol and must not be renumbered.
type ResultCode int

const (
	ResultOk                 ResultCode = 0
	ResultAlreadyProcessed   ResultCode = 1
	ResultVerificationFailed ResultCode = 3
	ResultInstallFailed      ResultCode = 4
	ResultDownloadFailed     ResultCode = 5
	ResultInternalError      ResultCode = 18
	ResultGeneralError       ResultCode = 19
	ResultNeedCompletion     ResultCode = 21
	ResultCustomError        ResultCode = 22
	ResultUnknown            ResultCode = -1
)

func (c ResultCode) String() string {
	switch c {
	case ResultOk:
		return "OK"
	case ResultAlreadyProcessed:
		return "ALREADY_PROCESSED"
	case ResultVerificationFailed:
		return "VERIFICATION_FAILED"
	case ResultInstallFailed:
		return "INSTALL_FAILED"
	case ResultDownloadFailed:
		return "DOWNLOAD_FAILED"
	case ResultInternalError:
		return "INTERNAL_ERROR"
	case ResultGeneralError:
		return "GENERAL_ERROR"
	case ResultNeedCompletion:
		return "NEED_COMPLETION"
	case ResultCustomError:
		return "CUSTOM_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseResultCode maps a wire integer back to a known code, or Unknown.
func ParseResultCode(v int) ResultCode {
	c := ResultCode(v)
	if c.String() == "UNKNOWN" {
		return ResultUnknown
	}
	return c
}

type InstallationResult struct {
	Code        ResultCode
	Description string
}

func NewInstallationResult(code ResultCode, description string) InstallationResult {
	return InstallationResult{Code: code, Description: description}
}

func (r InstallationResult) Success() bool {
	return r.Code == ResultOk || r.Code == ResultAlreadyProcessed
}

func (r InstallationResult) NeedCompletion() bool {
	return r.Code == ResultNeedCompletion
}

func (r InstallationResult) String() string {
	if r.Description == "" {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Description
}
