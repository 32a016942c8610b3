// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
)

// Error kinds raised by the plugin manager.
var (
	KindImportError = errs.Kind{
		Code:        "PLUGIN_IMPORT_ERROR",
		Description: "plugin could not be discovered or loaded",
		Payload:     pluginPayload{},
	}
	KindNotFound = errs.Kind{
		Code:        "PLUGIN_NOT_FOUND",
		Description: "no plugin is known under the requested name",
		Payload:     pluginPayload{},
	}
	KindInitError = errs.Kind{
		Code:        "PLUGIN_INIT_ERROR",
		Description: "plugin loaded but its initialization routine failed",
		Payload:     pluginPayload{},
	}
	KindRuntimeError = errs.Kind{
		Code:        "PLUGIN_RUNTIME_ERROR",
		Description: "plugin failed after it became active",
		Payload:     pluginPayload{},
	}
	KindCapabilityDenied = errs.Kind{
		Code:        "PLUGIN_CAPABILITY_DENIED",
		Description: "plugin tried to hook an event outside its declared event patterns",
		Payload:     capabilityPayload{},
	}
)

// Kinds returns every error kind declared by this package.
func Kinds() []errs.Kind {
	return []errs.Kind{
		KindImportError,
		KindNotFound,
		KindInitError,
		KindRuntimeError,
		KindCapabilityDenied,
	}
}

type pluginPayload struct {
	Plugin string `json:"plugin"`
}

type capabilityPayload struct {
	Plugin string `json:"plugin"`
	Event  string `json:"event"`
}

// ErrNotFound creates an error for an unknown plugin name.
func ErrNotFound(name string) error {
	return oops.Code(KindNotFound.Code).
		With("plugin", name).
		Errorf("plugin %q not found", name)
}

func errImport(name string, err error) error {
	return oops.Code(KindImportError.Code).
		With("plugin", name).
		Wrapf(err, "import plugin %s", name)
}

func errImportf(name, format string, args ...any) error {
	return oops.Code(KindImportError.Code).
		With("plugin", name).
		Errorf(format, args...)
}

func errInit(name string, err error) error {
	return oops.Code(KindInitError.Code).
		With("plugin", name).
		Wrapf(err, "init plugin %s", name)
}

func errRuntime(name string, err error) error {
	return oops.Code(KindRuntimeError.Code).
		With("plugin", name).
		Wrapf(err, "plugin %s", name)
}

func errCapabilityDenied(name, eventID string) error {
	return oops.Code(KindCapabilityDenied.Code).
		With("plugin", name).
		With("event", eventID).
		Errorf("plugin %s may not hook %s", name, eventID)
}
