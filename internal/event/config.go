// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package event

import (
	"time"

	"github.com/samber/oops"
)

// CodeInvalidConfig marks invalid event bus settings.
const CodeInvalidConfig = "EVENTS_CONFIG_INVALID"

// Config holds event bus settings.
type Config struct {
	// HookTimeout bounds each hook during notification unless the hook
	// was registered with its own limit. Zero disables the bound.
	HookTimeout time.Duration `koanf:"hook_timeout"`
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{HookTimeout: DefaultHookTimeout}
}

// Validate rejects a negative hook timeout.
func (c Config) Validate() error {
	if c.HookTimeout < 0 {
		return oops.Code(CodeInvalidConfig).
			With("field", "hook_timeout").
			Errorf("hook_timeout must not be negative")
	}
	return nil
}

// Options converts the config to bus options.
func (c Config) Options() []Option {
	return []Option{WithHookTimeout(c.HookTimeout)}
}
