// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package wxpay

import "log/slog"

// Suite groups the payment objects published to the application: one
// client per payment method, the signer and the notification routes.
type Suite struct {
	JSAPI     *Payment
	Native    *Payment
	InApp     *Payment
	Signature *Signature
	Routes    *Routes
}

// New validates cfg and builds the payment clients and routes.
func New(cfg Config, bus Notifier, logger *slog.Logger) (*Suite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sign := NewSignature(cfg.APIKey, cfg.SignType)
	s := &Suite{Signature: sign, Routes: NewRoutes(sign, bus, logger)}
	for _, m := range Methods() {
		p, err := NewPayment(cfg, m, sign)
		if err != nil {
			return nil, err
		}
		switch m {
		case JSAPI:
			s.JSAPI = p
		case Native:
			s.Native = p
		case InApp:
			s.InApp = p
		}
	}
	return s, nil
}

// Payment returns the client for m, or nil.
func (s *Suite) Payment(m Method) *Payment {
	switch m {
	case JSAPI:
		return s.JSAPI
	case Native:
		return s.Native
	case InApp:
		return s.InApp
	}
	return nil
}
