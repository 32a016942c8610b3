// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package xdg provides XDG Base Directory paths for Leaf.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "leaf"

// ConfigFileName is the configuration file looked up in ConfigDir.
const ConfigFileName = "leaf.yaml"

func home() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" || !filepath.IsAbs(base) {
		base = filepath.Join(append([]string{home()}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns $XDG_CONFIG_HOME/leaf, falling back to ~/.config/leaf.
// Relative XDG values are ignored, as the base directory spec requires.
func ConfigDir() string { return dir("XDG_CONFIG_HOME", ".config") }

// DataDir returns $XDG_DATA_HOME/leaf, falling back to ~/.local/share/leaf.
func DataDir() string { return dir("XDG_DATA_HOME", ".local", "share") }

// StateDir returns $XDG_STATE_HOME/leaf, falling back to ~/.local/state/leaf.
func StateDir() string { return dir("XDG_STATE_HOME", ".local", "state") }

// ConfigFile is the default configuration file path.
func ConfigFile() string { return filepath.Join(ConfigDir(), ConfigFileName) }

// PluginsDir is the default plugin discovery directory.
func PluginsDir() string { return filepath.Join(DataDir(), "plugins") }

// LogFile is the default log file path.
func LogFile() string { return filepath.Join(StateDir(), "leaf.log") }

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "failed to create directory")
	}
	return nil
}
