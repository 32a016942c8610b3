// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package event

import (
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
)

// Error kinds raised by the event system.
var (
	KindEventNotFound = errs.Kind{
		Code:        "EVENT_NOT_FOUND",
		Description: "no event is registered under the requested identifier",
		Payload:     namePayload{},
	}
	KindInvalidEventName = errs.Kind{
		Code:        "INVALID_EVENT_NAME",
		Description: "event identifier is empty, not namespaced, or has a malformed segment",
		Payload:     namePayload{},
	}
	KindInvalidRootName = errs.Kind{
		Code:        "INVALID_ROOT_NAME",
		Description: "event identifier has a malformed or disallowed namespace root",
		Payload:     rootPayload{},
	}
	KindReachedMaxReg = errs.Kind{
		Code:        "REACHED_MAX_REG",
		Description: "registration ceiling for events or hooks was exceeded",
		Payload:     limitPayload{},
	}
	KindEventExists = errs.Kind{
		Code:        "EVENT_ALREADY_EXISTS",
		Description: "an event is already registered under this identifier",
		Payload:     namePayload{},
	}
	KindHookFailed = errs.Kind{
		Code:        "HOOK_FAILED",
		Description: "a hook returned an error, panicked or timed out during notification",
	}
)

// Kinds returns every error kind declared by this package.
func Kinds() []errs.Kind {
	return []errs.Kind{
		KindEventNotFound,
		KindInvalidEventName,
		KindInvalidRootName,
		KindReachedMaxReg,
		KindEventExists,
		KindHookFailed,
	}
}

type namePayload struct {
	Event string `json:"event"`
}

type rootPayload struct {
	Event string `json:"event"`
	Root  string `json:"root"`
}

type limitPayload struct {
	Event string `json:"event,omitempty"`
	Limit int    `json:"limit"`
}

// ErrEventNotFound creates an error for a lookup of an unregistered event.
func ErrEventNotFound(id string) error {
	return oops.Code(KindEventNotFound.Code).
		With("event", id).
		Errorf("event %q not found", id)
}

// ErrInvalidEventName creates an error for a malformed event identifier.
func ErrInvalidEventName(id, reason string) error {
	return oops.Code(KindInvalidEventName.Code).
		With("event", id).
		Errorf("invalid event name %q: %s", id, reason)
}

// ErrInvalidRootName creates an error for a malformed or disallowed root.
func ErrInvalidRootName(id, root, reason string) error {
	return oops.Code(KindInvalidRootName.Code).
		With("event", id).
		With("root", root).
		Errorf("invalid root %q in event name %q: %s", root, id, reason)
}

// ErrReachedMaxReg creates an error for an exceeded registration ceiling.
// id is empty when the bus-wide event ceiling was hit.
func ErrReachedMaxReg(id string, limit int) error {
	b := oops.Code(KindReachedMaxReg.Code).With("limit", limit)
	if id == "" {
		return b.Errorf("event registration limit of %d reached", limit)
	}
	return b.With("event", id).Errorf("hook registration limit of %d reached for event %q", limit, id)
}

// ErrEventExists creates an error for a duplicate event identifier.
func ErrEventExists(id string) error {
	return oops.Code(KindEventExists.Code).
		With("event", id).
		Errorf("event %q already registered", id)
}
