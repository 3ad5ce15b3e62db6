// Package proto defines the gRPC parse service.
//
// There is no protoc step: messages are plain Go structs carried by the JSON
// codec registered in codec.go, and the service descriptor is written by hand.
package proto

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "theparser.ParseService"

// Full method names.
const (
	ParseDocumentsMethod = "/" + ServiceName + "/ParseDocuments"
	CapabilitiesMethod   = "/" + ServiceName + "/Capabilities"
)

// ParseServiceServer is the server-side interface for the ParseService.
type ParseServiceServer interface {
	ParseDocuments(context.Context, *ParseRequest) (*ParseResponse, error)
	Capabilities(context.Context, *CapabilitiesRequest) (*CapabilitiesResponse, error)
}

// ParseServiceClient is the client-side interface for the ParseService.
type ParseServiceClient interface {
	ParseDocuments(ctx context.Context, in *ParseRequest, opts ...grpc.CallOption) (*ParseResponse, error)
	Capabilities(ctx context.Context, in *CapabilitiesRequest, opts ...grpc.CallOption) (*CapabilitiesResponse, error)
}

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for the ParseService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ParseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ParseDocuments",
			Handler:    _ParseService_ParseDocuments_Handler,
		},
		{
			MethodName: "Capabilities",
			Handler:    _ParseService_Capabilities_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/parse.proto",
}

// RegisterParseServiceServer registers the server implementation with a gRPC server.
func RegisterParseServiceServer(s grpc.ServiceRegistrar, srv ParseServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func _ParseService_ParseDocuments_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ParseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ParseServiceServer).ParseDocuments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ParseDocumentsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ParseServiceServer).ParseDocuments(ctx, req.(*ParseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ParseService_Capabilities_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CapabilitiesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ParseServiceServer).Capabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CapabilitiesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ParseServiceServer).Capabilities(ctx, req.(*CapabilitiesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ---- client implementation ----

type parseServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewParseServiceClient creates a new ParseService gRPC client. Calls are
// sent with the JSON content subtype.
func NewParseServiceClient(cc grpc.ClientConnInterface) ParseServiceClient {
	return &parseServiceClient{cc: cc}
}

func (c *parseServiceClient) ParseDocuments(ctx context.Context, in *ParseRequest, opts ...grpc.CallOption) (*ParseResponse, error) {
	out := new(ParseResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, ParseDocumentsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *parseServiceClient) Capabilities(ctx context.Context, in *CapabilitiesRequest, opts ...grpc.CallOption) (*CapabilitiesResponse, error) {
	out := new(CapabilitiesResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, CapabilitiesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
