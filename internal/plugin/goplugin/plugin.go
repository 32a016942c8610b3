// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package goplugin

import (
	"log/slog"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/leafkit/leaf/pkg/pluginsdk"
)

// HandshakeConfig is imported from pluginsdk to ensure host and plugins
// use identical configuration. Do not define locally to prevent drift.
var HandshakeConfig = pluginsdk.HandshakeConfig

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string, logger *slog.Logger) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client. Plugin process output is
// logged through logger at debug level.
func (f *DefaultClientFactory) NewClient(execPath string, logger *slog.Logger) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from plugin manifest inside the plugin directory
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           hclogAdapter(logger),
	})
}

// hclogAdapter routes go-plugin's hclog output into slog.
func hclogAdapter(logger *slog.Logger) hclog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return hclog.FromStandardLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug), &hclog.LoggerOptions{
		Name:  "plugin",
		Level: hclog.Debug,
	})
}
