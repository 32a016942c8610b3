// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

// Package pluginsdk provides the SDK for building Leaf binary plugins.
//
// Binary plugins run as child processes of the Leaf host and talk to it over
// gRPC using the HashiCorp go-plugin framework. A plugin implements Handler
// and calls Serve from main:
//
//	type Greeter struct{}
//
//	func (g *Greeter) Init(ctx context.Context, req pluginsdk.InitRequest) (pluginsdk.InitResponse, error) {
//		return pluginsdk.InitResponse{Events: []string{"leaf.exit"}}, nil
//	}
//
//	func (g *Greeter) HandleEvent(ctx context.Context, evt pluginsdk.Event) error {
//		log.Printf("got %s", evt.ID)
//		return nil
//	}
//
//	func (g *Greeter) Stop(ctx context.Context) error { return nil }
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Handler: &Greeter{}})
//	}
package pluginsdk

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the name the host dispenses.
const PluginName = "plugin"

// InitRequest is sent once after the plugin process starts.
type InitRequest struct {
	// Name is the plugin name from its manifest.
	Name string
	// Config is the manifest config map.
	Config map[string]string
}

// InitResponse lists the events the plugin wants delivered. Each must be
// allowed by the events patterns in the plugin manifest.
type InitResponse struct {
	Events []string
}

// Event is a notification delivered to the plugin.
type Event struct {
	// ID is the event identifier, e.g. "leaf.exit".
	ID string
	// Args holds positional arguments.
	Args []any
	// Kwargs holds keyword arguments.
	Kwargs map[string]any
}

// Handler is the interface binary plugins implement.
type Handler interface {
	// Init prepares the plugin and returns the events to hook.
	Init(ctx context.Context, req InitRequest) (InitResponse, error)
	// HandleEvent processes one notification.
	HandleEvent(ctx context.Context, evt Event) error
	// Stop releases plugin resources before the process is killed.
	Stop(ctx context.Context) error
}

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "LEAF_PLUGIN",
	MagicCookieValue: "leaf-v1",
}

// PluginMap is the set of plugins a host can dispense.
func PluginMap() map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{PluginName: &GRPCPlugin{}}
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Handler is the plugin implementation.
	// Required; Serve will panic if nil.
	Handler Handler
}

// Serve starts the plugin server. This should be called from main().
// It blocks until the host kills the process.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Handler == nil {
		panic("pluginsdk: config.Handler cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         map[string]hashiplug.Plugin{PluginName: &GRPCPlugin{Impl: config.Handler}},
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the plugin process; the host leaves it nil.
	Impl Handler
}

// GRPCServer registers the plugin service (called by plugin process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("pluginsdk: handler is nil")
	}
	RegisterServer(s, p.Impl)
	return nil
}

// GRPCClient returns a Handler backed by the connection (called by host
// process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewClient(c), nil
}
