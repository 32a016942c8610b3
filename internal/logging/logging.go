// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// CodeInvalidConfig is raised for unusable logging configuration.
const CodeInvalidConfig = "LOGGING_CONFIG_INVALID"

// OutputConfig configures one log destination.
type OutputConfig struct {
	// Level is the minimum level written to this output; empty inherits
	// the global level.
	Level string `koanf:"level"`
	// Format is "json" or "text"; empty inherits the global format.
	Format string `koanf:"format"`
	// Path is the file to append to (file output only). Empty disables
	// the file output.
	Path string `koanf:"path"`
}

// Config configures the logging handle.
type Config struct {
	Level   string       `koanf:"level"`
	Format  string       `koanf:"format"`
	Console OutputConfig `koanf:"console"`
	File    OutputConfig `koanf:"file"`
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatJSON}
}

// Validate checks that levels and formats are recognised.
func (c Config) Validate() error {
	for field, level := range map[string]string{
		"level":         c.Level,
		"console.level": c.Console.Level,
		"file.level":    c.File.Level,
	} {
		if level == "" {
			continue
		}
		if _, err := ParseLevel(level); err != nil {
			return oops.Code(CodeInvalidConfig).With("field", field).Wrap(err)
		}
	}
	for field, format := range map[string]string{
		"format":         c.Format,
		"console.format": c.Console.Format,
		"file.format":    c.File.Format,
	} {
		if format != "" && format != FormatJSON && format != FormatText {
			return oops.Code(CodeInvalidConfig).
				With("field", field).
				Errorf("%s must be 'json' or 'text', got %q", field, format)
		}
	}
	return nil
}

// ParseLevel parses debug, info, warn/warning or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, oops.Code(CodeInvalidConfig).With("level", s).Errorf("unknown log level %q", s)
	}
}

// Logging is the process logging handle: a logger plus the levers to adjust
// it at runtime.
type Logging struct {
	logger  *slog.Logger
	global  *slog.LevelVar
	console *slog.LevelVar
	file    *slog.LevelVar
	closer  io.Closer
	once    sync.Once
}

// Option configures New.
type Option func(*newOptions)

type newOptions struct {
	console io.Writer
}

// WithConsoleWriter replaces stderr as the console destination.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *newOptions) { o.console = w }
}

// New builds a logging handle from cfg.
func New(service, version string, cfg Config, opts ...Option) (*Logging, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions{console: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	global := levelVar(cfg.Level, slog.LevelInfo)
	l := &Logging{
		global:  global,
		console: levelVar(cfg.Console.Level, global.Level()),
	}

	outputs := []slog.Handler{
		newFormatHandler(orDefault(cfg.Console.Format, cfg.Format), o.console, l.console),
	}

	if cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750); err != nil {
			return nil, oops.Code(CodeInvalidConfig).With("path", cfg.File.Path).Wrap(err)
		}
		f, err := os.OpenFile(filepath.Clean(cfg.File.Path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, oops.Code(CodeInvalidConfig).With("path", cfg.File.Path).Wrap(err)
		}
		l.closer = f
		l.file = levelVar(cfg.File.Level, global.Level())
		outputs = append(outputs, newFormatHandler(orDefault(cfg.File.Format, cfg.Format), f, l.file))
	}

	l.logger = slog.New(newContextHandler(&fanoutHandler{min: global, outputs: outputs}, service, version))
	return l, nil
}

// Logger returns the configured logger.
func (l *Logging) Logger() *slog.Logger { return l.logger }

// SetLevel changes the global minimum level.
func (l *Logging) SetLevel(level slog.Level) { l.global.Set(level) }

// SetConsoleLevel changes the console output level.
func (l *Logging) SetConsoleLevel(level slog.Level) { l.console.Set(level) }

// SetFileLevel changes the file output level. It is a no-op without a file
// output.
func (l *Logging) SetFileLevel(level slog.Level) {
	if l.file != nil {
		l.file.Set(level)
	}
}

// Close releases the file output, if any. It is safe to call more than once.
func (l *Logging) Close() error {
	var err error
	l.once.Do(func() {
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

func levelVar(s string, fallback slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(fallback)
	if s != "" {
		if level, err := ParseLevel(s); err == nil {
			v.Set(level)
		}
	}
	return v
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
