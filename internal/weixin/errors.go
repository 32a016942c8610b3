// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin

import (
	"github.com/leafkit/leaf/internal/errs"
)

// Error kinds raised by the messaging integration.
var (
	KindInvalidConfig = errs.Kind{
		Code:        "WEIXIN_CONFIG_INVALID",
		Description: "weixin app id, token or AES key is missing or malformed",
	}
	KindSignatureMismatch = errs.Kind{
		Code:        "WEIXIN_SIGNATURE_MISMATCH",
		Description: "request signature does not match the configured token",
	}
	KindDecryptFailed = errs.Kind{
		Code:        "WEIXIN_DECRYPT_FAILED",
		Description: "encrypted message could not be decoded or decrypted",
	}
	KindAppIDMismatch = errs.Kind{
		Code:        "WEIXIN_APPID_MISMATCH",
		Description: "decrypted message belongs to a different app id",
		Payload:     appIDPayload{},
	}
)

// Kinds returns every error kind declared by this package.
func Kinds() []errs.Kind {
	return []errs.Kind{KindInvalidConfig, KindSignatureMismatch, KindDecryptFailed, KindAppIDMismatch}
}

type appIDPayload struct {
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}
