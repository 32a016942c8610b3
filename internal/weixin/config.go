// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package weixin implements the encrypted message protocol of the Weixin
// official account platform and the /weixin callback routes.
package weixin

import (
	"encoding/base64"

	"github.com/samber/oops"
)

// aesKeyLength is the length of the base64 encoding key without padding.
const aesKeyLength = 43

// Config holds the official account credentials.
type Config struct {
	AppID  string `koanf:"appid"`
	Token  string `koanf:"token"`
	AESKey string `koanf:"aeskey"`
}

// Enabled reports whether an app id is configured.
func (c Config) Enabled() bool { return c.AppID != "" }

// Validate checks that every credential is present and the AES key decodes
// to 32 bytes.
func (c Config) Validate() error {
	b := oops.Code(KindInvalidConfig.Code)
	switch {
	case c.AppID == "":
		return b.With("field", "appid").Errorf("weixin appid is required")
	case c.Token == "":
		return b.With("field", "token").Errorf("weixin token is required")
	case len(c.AESKey) != aesKeyLength:
		return b.With("field", "aeskey").Errorf("weixin aeskey must be %d characters, got %d", aesKeyLength, len(c.AESKey))
	}
	if _, err := decodeKey(c.AESKey); err != nil {
		return b.With("field", "aeskey").Wrap(err)
	}
	return nil
}

func decodeKey(aesKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(aesKey + "=")
	if err != nil {
		return nil, oops.Wrapf(err, "decode aeskey")
	}
	if len(key) != 32 {
		return nil, oops.Errorf("aeskey decodes to %d bytes, want 32", len(key))
	}
	return key, nil
}
