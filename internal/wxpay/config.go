// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package wxpay is a client for the Weixin Pay merchant API (v2, XML) and
// serves the asynchronous payment notification route.
package wxpay

import (
	"net/url"
	"time"

	"github.com/samber/oops"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.mch.weixin.qq.com"

// Sign types.
const (
	SignMD5        = "MD5"
	SignHMACSHA256 = "HMAC-SHA256"
)

// Config holds merchant settings.
type Config struct {
	AppID     string        `koanf:"appid"`
	MchID     string        `koanf:"mchid"`
	APIKey    string        `koanf:"apikey"`
	NotifyURL string        `koanf:"notify_url"`
	CertFile  string        `koanf:"cert_file"`
	KeyFile   string        `koanf:"key_file"`
	SignType  string        `koanf:"sign_type"`
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DefaultConfig uses MD5 signatures against the production endpoint.
func DefaultConfig() Config {
	return Config{SignType: SignMD5, BaseURL: DefaultBaseURL, Timeout: 10 * time.Second}
}

// Enabled reports whether a merchant is configured.
func (c Config) Enabled() bool { return c.MchID != "" }

// Validate checks required settings.
func (c Config) Validate() error {
	b := oops.Code(KindInvalidConfig.Code)
	switch {
	case c.AppID == "":
		return b.With("field", "appid").Errorf("wxpay appid is required")
	case c.MchID == "":
		return b.With("field", "mchid").Errorf("wxpay mchid is required")
	case len(c.APIKey) != 32:
		return b.With("field", "apikey").Errorf("wxpay apikey must be 32 characters")
	case c.SignType != SignMD5 && c.SignType != SignHMACSHA256:
		return b.With("field", "sign_type").Errorf("unsupported sign type %q", c.SignType)
	case (c.CertFile == "") != (c.KeyFile == ""):
		return b.With("field", "cert_file").Errorf("cert_file and key_file must be set together")
	case c.Timeout < 0:
		return b.With("field", "timeout").Errorf("timeout must not be negative")
	}
	for field, raw := range map[string]string{"notify_url": c.NotifyURL, "base_url": c.BaseURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return b.With("field", field).Errorf("%s must be an absolute URL", field)
		}
	}
	return nil
}
