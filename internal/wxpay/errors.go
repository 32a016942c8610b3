// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package wxpay

import (
	"github.com/leafkit/leaf/internal/errs"
)

// Error kinds raised by the payment integration.
var (
	KindInvalidConfig = errs.Kind{
		Code:        "WXPAY_CONFIG_INVALID",
		Description: "wxpay merchant settings are missing or malformed",
	}
	KindSignatureInvalid = errs.Kind{
		Code:        "WXPAY_SIGNATURE_INVALID",
		Description: "payload signature is missing or does not match the API key",
	}
	KindRequestFailed = errs.Kind{
		Code:        "WXPAY_REQUEST_FAILED",
		Description: "the payment API could not be reached or returned an unreadable response",
	}
	KindTradeFailed = errs.Kind{
		Code:        "WXPAY_TRADE_FAILED",
		Description: "the payment API rejected the request",
		Payload:     tradePayload{},
	}
	KindCertRequired = errs.Kind{
		Code:        "WXPAY_CERT_REQUIRED",
		Description: "the operation needs the merchant client certificate",
	}
)

// Kinds returns every error kind declared by this package.
func Kinds() []errs.Kind {
	return []errs.Kind{KindInvalidConfig, KindSignatureInvalid, KindRequestFailed, KindTradeFailed, KindCertRequired}
}

type tradePayload struct {
	ReturnCode string `json:"return_code"`
	ErrCode    string `json:"err_code,omitempty"`
}
