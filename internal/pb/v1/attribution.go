// Package v1 describes the AttributionService gRPC API.
//
// Requests and responses are protobuf well-known types (Empty and Struct),
// so the service descriptor and the client stub are written by hand.
package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmrelay.v1.AttributionService"

// Full method names.
const (
	GetLastAttributionMethod    = "/" + ServiceName + "/GetLastAttribution"
	ListRecentActivationsMethod = "/" + ServiceName + "/ListRecentActivations"
)

// Request and response field names.
const (
	// FieldWindowSeconds limits ListRecentActivations to activations this recent.
	FieldWindowSeconds = "window_seconds"
	// FieldActivations holds the activation list, newest first.
	FieldActivations = "activations"
	// FieldCacheSize is the number of remembered activations.
	FieldCacheSize = "cache_size"
	// FieldDisplayName is an activation's display name.
	FieldDisplayName = "display_name"
	// FieldState is an activation's normalized state.
	FieldState = "state"
)

// AttributionServiceServer is the server API for AttributionService.
type AttributionServiceServer interface {
	// GetLastAttribution returns the last attributed trigger, an empty Struct if none.
	GetLastAttribution(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	// ListRecentActivations returns remembered activations, newest first.
	ListRecentActivations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedAttributionServiceServer answers every method with codes.Unimplemented.
type UnimplementedAttributionServiceServer struct{}

// GetLastAttribution implements AttributionServiceServer.
func (UnimplementedAttributionServiceServer) GetLastAttribution(
	context.Context,
	*emptypb.Empty,
) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLastAttribution not implemented")
}

// ListRecentActivations implements AttributionServiceServer.
func (UnimplementedAttributionServiceServer) ListRecentActivations(
	context.Context,
	*structpb.Struct,
) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRecentActivations not implemented")
}

// RegisterAttributionServiceServer registers srv with the gRPC server.
func RegisterAttributionServiceServer(s grpc.ServiceRegistrar, srv AttributionServiceServer) {
	s.RegisterService(&AttributionServiceDesc, srv)
}

// AttributionServiceDesc is the grpc.ServiceDesc for AttributionService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by gRPC convention.
var AttributionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AttributionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetLastAttribution",
			Handler:    getLastAttributionHandler,
		},
		{
			MethodName: "ListRecentActivations",
			Handler:    listRecentActivationsHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func getLastAttributionHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	server, _ := srv.(AttributionServiceServer)

	if interceptor == nil {
		return server.GetLastAttribution(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetLastAttributionMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		typed, _ := req.(*emptypb.Empty)

		return server.GetLastAttribution(ctx, typed)
	}

	return interceptor(ctx, in, info, handler)
}

func listRecentActivationsHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	server, _ := srv.(AttributionServiceServer)

	if interceptor == nil {
		return server.ListRecentActivations(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ListRecentActivationsMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		typed, _ := req.(*structpb.Struct)

		return server.ListRecentActivations(ctx, typed)
	}

	return interceptor(ctx, in, info, handler)
}

// AttributionServiceClient is the client API for AttributionService.
type AttributionServiceClient interface {
	GetLastAttribution(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListRecentActivations(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type attributionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAttributionServiceClient creates a client stub on cc.
func NewAttributionServiceClient(cc grpc.ClientConnInterface) AttributionServiceClient {
	return &attributionServiceClient{cc: cc}
}

func (c *attributionServiceClient) GetLastAttribution(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetLastAttributionMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *attributionServiceClient) ListRecentActivations(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListRecentActivationsMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
