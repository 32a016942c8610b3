// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package pluginsdk

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service binary plugins expose. Messages are
// protobuf well-known types: Struct for payloads and Empty for no payload.
const ServiceName = "leaf.plugin.v1.Plugin"

const (
	methodInit        = "/" + ServiceName + "/Init"
	methodHandleEvent = "/" + ServiceName + "/HandleEvent"
	methodStop        = "/" + ServiceName + "/Stop"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: unary(methodInit, newStruct, serveInit)},
		{MethodName: "HandleEvent", Handler: unary(methodHandleEvent, newStruct, serveHandleEvent)},
		{MethodName: "Stop", Handler: unary(methodStop, newEmpty, serveStop)},
	},
	Metadata: "leaf/plugin/v1/plugin.proto",
}

// RegisterServer exposes h on s.
func RegisterServer(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }

func unary[Req proto.Message](
	method string,
	newReq func() Req,
	serve func(ctx context.Context, h Handler, req Req) (proto.Message, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return serve(ctx, srv.(Handler), req.(Req))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, call)
	}
}

func serveInit(ctx context.Context, h Handler, req *structpb.Struct) (proto.Message, error) {
	fields := req.AsMap()
	name, _ := fields["name"].(string)
	resp, err := h.Init(ctx, InitRequest{Name: name, Config: stringMap(fields["config"])})
	if err != nil {
		return nil, err
	}
	events := make([]any, 0, len(resp.Events))
	for _, e := range resp.Events {
		events = append(events, e)
	}
	return structpb.NewStruct(map[string]any{"events": events})
}

func serveHandleEvent(ctx context.Context, h Handler, req *structpb.Struct) (proto.Message, error) {
	fields := req.AsMap()
	evt := Event{}
	evt.ID, _ = fields["id"].(string)
	evt.Args, _ = fields["args"].([]any)
	evt.Kwargs, _ = fields["kwargs"].(map[string]any)
	if err := h.HandleEvent(ctx, evt); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func serveStop(ctx context.Context, h Handler, _ *emptypb.Empty) (proto.Message, error) {
	if err := h.Stop(ctx); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Client is the host-side Handler that forwards calls over gRPC.
type Client struct {
	conn grpc.ClientConnInterface
}

var _ Handler = (*Client)(nil)

// NewClient wraps a connection to a plugin process.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Init implements Handler.
func (c *Client) Init(ctx context.Context, req InitRequest) (InitResponse, error) {
	config := make(map[string]any, len(req.Config))
	for k, v := range req.Config {
		config[k] = v
	}
	in, err := structpb.NewStruct(map[string]any{"name": req.Name, "config": config})
	if err != nil {
		return InitResponse{}, fmt.Errorf("encode init request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodInit, in, out); err != nil {
		return InitResponse{}, err
	}

	var resp InitResponse
	events, _ := out.AsMap()["events"].([]any)
	for _, e := range events {
		if s, ok := e.(string); ok {
			resp.Events = append(resp.Events, s)
		}
	}
	return resp, nil
}

// HandleEvent implements Handler. Argument values that protobuf Struct
// cannot carry are sent as their fmt representation.
func (c *Client) HandleEvent(ctx context.Context, evt Event) error {
	args := make([]any, 0, len(evt.Args))
	for _, v := range evt.Args {
		args = append(args, normalize(v))
	}
	kwargs := make(map[string]any, len(evt.Kwargs))
	for k, v := range evt.Kwargs {
		kwargs[k] = normalize(v)
	}

	in, err := structpb.NewStruct(map[string]any{"id": evt.ID, "args": args, "kwargs": kwargs})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	return c.conn.Invoke(ctx, methodHandleEvent, in, new(emptypb.Empty))
}

// Stop implements Handler.
func (c *Client) Stop(ctx context.Context) error {
	return c.conn.Invoke(ctx, methodStop, &emptypb.Empty{}, new(emptypb.Empty))
}

// normalize converts v to a value structpb.NewValue accepts.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, []byte:
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}

func stringMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		if s, ok := item.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(item)
		}
	}
	return out
}
