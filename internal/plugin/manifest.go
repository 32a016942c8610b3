// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package plugin discovers plugins, drives their lifecycle and exposes them
// for administration.
package plugin

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/leafkit/leaf/internal/plugin/capability"
)

// ManifestFile is the file name a plugin directory must contain.
const ManifestFile = "plugin.yaml"

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the host.
const (
	TypeLua     Type = "lua"
	TypeBinary  Type = "binary"
	TypeBuiltin Type = "builtin"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Type         Type              `yaml:"type" json:"type" jsonschema:"enum=lua,enum=binary,enum=builtin"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Autorun      bool              `yaml:"autorun,omitempty" json:"autorun,omitempty"`
	Requires     string            `yaml:"requires,omitempty" json:"requires,omitempty"`
	Events       []string          `yaml:"events,omitempty" json:"events,omitempty"`
	Config       map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
	LuaPlugin    *LuaConfig        `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig     `yaml:"binary-plugin,omitempty" json:"binary-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable"`
}

const maxNameLength = 64

// namePattern: starts with a-z, then a-z, 0-9 or hyphens, no trailing
// hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses, schema-checks and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(KindImportError.Code).Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints the schema cannot express.
func (m *Manifest) Validate() error {
	b := oops.Code(KindImportError.Code).With("plugin", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return b.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return b.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return b.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return b.Wrapf(err, "version %q is not semantic", m.Version)
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return b.Wrapf(err, "requires %q is not a version constraint", m.Requires)
		}
	}

	for _, pattern := range m.Events {
		if _, err := capability.Compile(pattern); err != nil {
			return b.Wrapf(err, "invalid event pattern %q", pattern)
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil || m.LuaPlugin.Entry == "" {
			return b.Errorf("lua-plugin.entry is required when type is lua")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil || m.BinaryPlugin.Executable == "" {
			return b.Errorf("binary-plugin.executable is required when type is binary")
		}
	case TypeBuiltin:
	default:
		return b.Errorf("type must be 'lua', 'binary' or 'builtin', got %q", m.Type)
	}

	return nil
}

// Satisfies reports whether host meets the manifest's requires constraint.
// An empty constraint or a nil host version always satisfies.
func (m *Manifest) Satisfies(host *semver.Version) (bool, error) {
	if m.Requires == "" || host == nil {
		return true, nil
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return false, oops.Code(KindImportError.Code).With("plugin", m.Name).Wrap(err)
	}
	return c.Check(host), nil
}
