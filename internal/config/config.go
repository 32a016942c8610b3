// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package config assembles the process configuration from defaults, the
// leaf.yaml file, LEAF_ environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/leafkit/leaf/internal/errs"
	"github.com/leafkit/leaf/internal/event"
	"github.com/leafkit/leaf/internal/logging"
	"github.com/leafkit/leaf/internal/plugin"
	"github.com/leafkit/leaf/internal/schedule"
	"github.com/leafkit/leaf/internal/server"
	"github.com/leafkit/leaf/internal/store"
	"github.com/leafkit/leaf/internal/weixin"
	"github.com/leafkit/leaf/internal/wxpay"
	"github.com/leafkit/leaf/internal/xdg"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore: LEAF_SERVER__ADDR sets server.addr.
const EnvPrefix = "LEAF_"

// KindInvalid marks configuration that cannot be read or decoded.
var KindInvalid = errs.Kind{
	Code:        "CONFIG_INVALID",
	Description: "configuration file, environment or flags could not be read or decoded",
}

// Kinds returns the configuration error kinds, including those raised by
// section validation.
func Kinds() []errs.Kind {
	return []errs.Kind{
		KindInvalid,
		{Code: server.CodeInvalidConfig, Description: "server section is invalid"},
		{Code: logging.CodeInvalidConfig, Description: "logging section is invalid"},
		{Code: store.CodeInvalidConfig, Description: "database section is invalid"},
		{Code: plugin.CodeInvalidConfig, Description: "plugins section is invalid"},
		{Code: schedule.CodeInvalidConfig, Description: "schedule section is invalid"},
		{Code: event.CodeInvalidConfig, Description: "events section is invalid"},
	}
}

// Config is the full process configuration.
type Config struct {
	Server   server.Config   `koanf:"server"`
	Logging  logging.Config  `koanf:"logging"`
	Database store.Config    `koanf:"database"`
	Plugins  plugin.Config   `koanf:"plugins"`
	Weixin   weixin.Config   `koanf:"weixin"`
	Wxpay    wxpay.Config    `koanf:"wxpay"`
	Schedule schedule.Config `koanf:"schedule"`
	Events   event.Config    `koanf:"events"`
}

// Default returns the built-in defaults. Database, weixin and wxpay are
// disabled until configured.
func Default() Config {
	return Config{
		Server:   server.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Database: store.DefaultConfig(),
		Plugins:  plugin.DefaultConfig(),
		Wxpay:    wxpay.DefaultConfig(),
		Schedule: schedule.DefaultConfig(),
		Events:   event.DefaultConfig(),
	}
}

// Validate checks every section. Optional integrations are validated only
// when enabled.
func (c Config) Validate() error {
	sections := []struct {
		name     string
		enabled  bool
		validate func() error
	}{
		{"server", true, c.Server.Validate},
		{"logging", true, c.Logging.Validate},
		{"database", c.Database.Enabled(), c.Database.Validate},
		{"plugins", true, c.Plugins.Validate},
		{"weixin", c.Weixin.Enabled(), c.Weixin.Validate},
		{"wxpay", c.Wxpay.Enabled(), c.Wxpay.Validate},
		{"schedule", true, c.Schedule.Validate},
		{"events", true, c.Events.Validate},
	}
	for _, s := range sections {
		if !s.enabled {
			continue
		}
		if err := s.validate(); err != nil {
			return oops.In("config").With("section", s.name).Wrapf(err, "invalid %s configuration", s.name)
		}
	}
	return nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file.path",
	"database-url": "database.url",
	"plugins-dir":  "plugins.directory",
	"autorun-only": "plugins.autorun_only",
	"timezone":     "schedule.timezone",
}

// BindFlags registers the configuration override flags.
func BindFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("addr", d.Server.Addr, "HTTP listen address")
	flags.String("log-level", d.Logging.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", d.Logging.Format, "log format (json, text)")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("plugins-dir", "", "plugin directory (default: builtin catalog)")
	flags.Bool("autorun-only", d.Plugins.AutorunOnly, "initialize only autorun plugins")
	flags.String("timezone", d.Schedule.Timezone, "time zone for periodic tasks")
}

// Load reads configuration. An empty path means the XDG config file, which
// may be absent; an explicit path must exist. flags may be nil; only flags
// changed on the command line override other sources.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	required := path != ""
	if path == "" {
		path = xdg.ConfigFile()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, oops.Code(KindInvalid.Code).With("path", path).Wrapf(err, "read config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code(KindInvalid.Code).Wrapf(err, "read environment")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code(KindInvalid.Code).Wrapf(err, "read flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code(KindInvalid.Code).With("path", path).Wrapf(err, "decode config")
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
