// Package safeframev1 is the SafeFrameService gRPC contract the host runtime calls
// at each hook point. Messages travel through the JSON codec in package wire.
package safeframev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chatabc/open-safe-frame/internal/wire"
)

const ServiceName = "safeframe.v1.SafeFrameService"

const (
	StartSessionMethod      = "/" + ServiceName + "/StartSession"
	EndSessionMethod        = "/" + ServiceName + "/EndSession"
	MessageReceivedMethod   = "/" + ServiceName + "/MessageReceived"
	BeforeToolCallMethod    = "/" + ServiceName + "/BeforeToolCall"
	AfterToolCallMethod     = "/" + ServiceName + "/AfterToolCall"
	ExportConstraintsMethod = "/" + ServiceName + "/ExportConstraints"
	ImportConstraintsMethod = "/" + ServiceName + "/ImportConstraints"
)

// SafeFrameServiceServer is the server API for SafeFrameService.
type SafeFrameServiceServer interface {
	StartSession(context.Context, *StartSessionRequest) (*StartSessionResponse, error)
	EndSession(context.Context, *EndSessionRequest) (*EndSessionResponse, error)
	MessageReceived(context.Context, *MessageReceivedRequest) (*MessageReceivedResponse, error)
	BeforeToolCall(context.Context, *BeforeToolCallRequest) (*BeforeToolCallResponse, error)
	AfterToolCall(context.Context, *AfterToolCallRequest) (*AfterToolCallResponse, error)
	ExportConstraints(context.Context, *ExportConstraintsRequest) (*ExportConstraintsResponse, error)
	ImportConstraints(context.Context, *ImportConstraintsRequest) (*ImportConstraintsResponse, error)
}

// UnimplementedSafeFrameServiceServer can be embedded for forward compatibility.
type UnimplementedSafeFrameServiceServer struct{}

func (UnimplementedSafeFrameServiceServer) StartSession(context.Context, *StartSessionRequest) (*StartSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartSession not implemented")
}
func (UnimplementedSafeFrameServiceServer) EndSession(context.Context, *EndSessionRequest) (*EndSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method EndSession not implemented")
}
func (UnimplementedSafeFrameServiceServer) MessageReceived(context.Context, *MessageReceivedRequest) (*MessageReceivedResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method MessageReceived not implemented")
}
func (UnimplementedSafeFrameServiceServer) BeforeToolCall(context.Context, *BeforeToolCallRequest) (*BeforeToolCallResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BeforeToolCall not implemented")
}
func (UnimplementedSafeFrameServiceServer) AfterToolCall(context.Context, *AfterToolCallRequest) (*AfterToolCallResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AfterToolCall not implemented")
}
func (UnimplementedSafeFrameServiceServer) ExportConstraints(context.Context, *ExportConstraintsRequest) (*ExportConstraintsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ExportConstraints not implemented")
}
func (UnimplementedSafeFrameServiceServer) ImportConstraints(context.Context, *ImportConstraintsRequest) (*ImportConstraintsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ImportConstraints not implemented")
}

// RegisterSafeFrameServiceServer registers srv on s.
func RegisterSafeFrameServiceServer(s grpc.ServiceRegistrar, srv SafeFrameServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method into a grpc.MethodHandler.
func unary[Req, Resp any](method string, call func(SafeFrameServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(SafeFrameServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

// ServiceDesc is the grpc.ServiceDesc for SafeFrameService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SafeFrameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartSession", Handler: unary(StartSessionMethod, SafeFrameServiceServer.StartSession)},
		{MethodName: "EndSession", Handler: unary(EndSessionMethod, SafeFrameServiceServer.EndSession)},
		{MethodName: "MessageReceived", Handler: unary(MessageReceivedMethod, SafeFrameServiceServer.MessageReceived)},
		{MethodName: "BeforeToolCall", Handler: unary(BeforeToolCallMethod, SafeFrameServiceServer.BeforeToolCall)},
		{MethodName: "AfterToolCall", Handler: unary(AfterToolCallMethod, SafeFrameServiceServer.AfterToolCall)},
		{MethodName: "ExportConstraints", Handler: unary(ExportConstraintsMethod, SafeFrameServiceServer.ExportConstraints)},
		{MethodName: "ImportConstraints", Handler: unary(ImportConstraintsMethod, SafeFrameServiceServer.ImportConstraints)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safeframe/v1/safeframe.json",
}

// SafeFrameServiceClient is the client API for SafeFrameService.
type SafeFrameServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSafeFrameServiceClient(cc grpc.ClientConnInterface) *SafeFrameServiceClient {
	return &SafeFrameServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{wire.CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SafeFrameServiceClient) StartSession(ctx context.Context, in *StartSessionRequest, opts ...grpc.CallOption) (*StartSessionResponse, error) {
	return invoke[StartSessionResponse](ctx, c.cc, StartSessionMethod, in, opts)
}

func (c *SafeFrameServiceClient) EndSession(ctx context.Context, in *EndSessionRequest, opts ...grpc.CallOption) (*EndSessionResponse, error) {
	return invoke[EndSessionResponse](ctx, c.cc, EndSessionMethod, in, opts)
}

func (c *SafeFrameServiceClient) MessageReceived(ctx context.Context, in *MessageReceivedRequest, opts ...grpc.CallOption) (*MessageReceivedResponse, error) {
	return invoke[MessageReceivedResponse](ctx, c.cc, MessageReceivedMethod, in, opts)
}

func (c *SafeFrameServiceClient) BeforeToolCall(ctx context.Context, in *BeforeToolCallRequest, opts ...grpc.CallOption) (*BeforeToolCallResponse, error) {
	return invoke[BeforeToolCallResponse](ctx, c.cc, BeforeToolCallMethod, in, opts)
}

func (c *SafeFrameServiceClient) AfterToolCall(ctx context.Context, in *AfterToolCallRequest, opts ...grpc.CallOption) (*AfterToolCallResponse, error) {
	return invoke[AfterToolCallResponse](ctx, c.cc, AfterToolCallMethod, in, opts)
}

func (c *SafeFrameServiceClient) ExportConstraints(ctx context.Context, in *ExportConstraintsRequest, opts ...grpc.CallOption) (*ExportConstraintsResponse, error) {
	return invoke[ExportConstraintsResponse](ctx, c.cc, ExportConstraintsMethod, in, opts)
}

func (c *SafeFrameServiceClient) ImportConstraints(ctx context.Context, in *ImportConstraintsRequest, opts ...grpc.CallOption) (*ImportConstraintsResponse, error) {
	return invoke[ImportConstraintsResponse](ctx, c.cc, ImportConstraintsMethod, in, opts)
}
