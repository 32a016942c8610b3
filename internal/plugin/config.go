// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// CodeInvalidConfig marks invalid plugin settings.
const CodeInvalidConfig = "PLUGIN_CONFIG_INVALID"

// Config holds plugin manager settings.
type Config struct {
	// Directory is scanned for plugin subdirectories. Empty uses the
	// builtin catalog.
	Directory string `koanf:"directory"`
	// AutorunOnly initializes only plugins whose manifest sets autorun.
	AutorunOnly bool          `koanf:"autorun_only"`
	Ignore      []string      `koanf:"ignore"`
	StopTimeout time.Duration `koanf:"stop_timeout"`
	// HostVersion is checked against manifest requires constraints. Empty
	// uses the build version.
	HostVersion string `koanf:"host_version"`
}

// DefaultConfig returns the plugin defaults.
func DefaultConfig() Config {
	return Config{AutorunOnly: true, StopTimeout: DefaultStopTimeout}
}

// Validate checks ignore patterns, the host version and the timeout.
func (c Config) Validate() error {
	for _, p := range c.Ignore {
		if _, err := glob.Compile(p); err != nil {
			return oops.Code(CodeInvalidConfig).With("field", "ignore").With("pattern", p).Wrap(err)
		}
	}
	if c.HostVersion != "" {
		if _, err := semver.NewVersion(c.HostVersion); err != nil {
			return oops.Code(CodeInvalidConfig).With("field", "host_version").Wrap(err)
		}
	}
	if c.StopTimeout < 0 {
		return oops.Code(CodeInvalidConfig).With("field", "stop_timeout").Errorf("stop_timeout must not be negative")
	}
	return nil
}

// Source returns the discovery root the config names.
func (c Config) Source() Source {
	if c.Directory == "" {
		return DefaultCatalog
	}
	return NewDirSource(c.Directory)
}

// Options converts the config to manager options. buildVersion is used
// when HostVersion is empty; a build version that is not semver (such as
// "dev") leaves requires constraints unchecked.
func (c Config) Options(buildVersion string) []Option {
	opts := []Option{WithIgnore(c.Ignore...), WithStopTimeout(c.StopTimeout)}
	switch {
	case c.HostVersion != "":
		opts = append(opts, WithHostVersion(c.HostVersion))
	case buildVersion != "":
		if _, err := semver.NewVersion(buildVersion); err == nil {
			opts = append(opts, WithHostVersion(buildVersion))
		}
	}
	return opts
}
