// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package weixin

import "log/slog"

// Suite groups the messaging objects published to the application.
type Suite struct {
	Encrypt *Encryptor
	Message *Message
	Event   *Event
	Routes  *Routes
}

// New validates cfg and builds the encryptor, reply builders and routes.
func New(cfg Config, bus Notifier, logger *slog.Logger) (*Suite, error) {
	enc, err := NewEncryptor(cfg)
	if err != nil {
		return nil, err
	}
	return &Suite{
		Encrypt: enc,
		Message: NewMessage(enc),
		Event:   NewEvent(enc),
		Routes:  NewRoutes(enc, bus, logger),
	}, nil
}
