// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package boot

import (
	"github.com/samber/oops"

	"github.com/leafkit/leaf/internal/errs"
)

// Error kinds raised when boot steps run out of order.
var (
	KindKernelNotInitialized = errs.Kind{
		Code:        "KERNEL_NOT_INITIALIZED",
		Description: "a boot step needs the kernel (error registry, event bus, exit event) which has not been initialized",
		Payload:     stepPayload{},
	}
	KindServerNotInitialized = errs.Kind{
		Code:        "SERVER_NOT_INITIALIZED",
		Description: "a boot step needs the HTTP server which has not been created",
		Payload:     stepPayload{},
	}
)

// Kinds returns every error kind declared by this package.
func Kinds() []errs.Kind {
	return []errs.Kind{KindKernelNotInitialized, KindServerNotInitialized}
}

type stepPayload struct {
	Step string `json:"step"`
}

func errKernelNotInitialized(step string) error {
	return oops.Code(KindKernelNotInitialized.Code).
		With("step", step).
		Errorf("%s requires the kernel to be initialized first", step)
}

func errServerNotInitialized(step string) error {
	return oops.Code(KindServerNotInitialized.Code).
		With("step", step).
		Errorf("%s requires the server to be created first", step)
}
