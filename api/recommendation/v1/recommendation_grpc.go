// Package recommendationv1 defines the comboz.v1.RecommendationService gRPC
// contract. Messages are protobuf well-known types so the service can be
// served and called without generated message code.
package recommendationv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "comboz.v1.RecommendationService"

	RecommendationService_Recommend_FullMethodName  = "/comboz.v1.RecommendationService/Recommend"
	RecommendationService_ListRules_FullMethodName  = "/comboz.v1.RecommendationService/ListRules"
	RecommendationService_GetPackage_FullMethodName = "/comboz.v1.RecommendationService/GetPackage"
)

// RecommendationServiceServer is the server API for RecommendationService.
//
// Recommend takes trip attributes as a Struct with the same field names as the
// HTTP API and returns the match result as a Struct. ListRules returns
// {"rules": [...]} and GetPackage returns the package object.
type RecommendationServiceServer interface {
	Recommend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPackage(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// UnimplementedRecommendationServiceServer can be embedded to have forward
// compatible implementations.
type UnimplementedRecommendationServiceServer struct{}

func (UnimplementedRecommendationServiceServer) Recommend(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Recommend not implemented")
}

func (UnimplementedRecommendationServiceServer) ListRules(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRules not implemented")
}

func (UnimplementedRecommendationServiceServer) GetPackage(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetPackage not implemented")
}

// RegisterRecommendationServiceServer registers srv on s.
func RegisterRecommendationServiceServer(s grpc.ServiceRegistrar, srv RecommendationServiceServer) {
	s.RegisterService(&RecommendationService_ServiceDesc, srv)
}

func recommendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecommendationServiceServer).Recommend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RecommendationService_Recommend_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecommendationServiceServer).Recommend(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listRulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecommendationServiceServer).ListRules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RecommendationService_ListRules_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecommendationServiceServer).ListRules(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getPackageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecommendationServiceServer).GetPackage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RecommendationService_GetPackage_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecommendationServiceServer).GetPackage(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RecommendationService_ServiceDesc is the grpc.ServiceDesc for
// RecommendationService.
var RecommendationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecommendationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Recommend", Handler: recommendHandler},
		{MethodName: "ListRules", Handler: listRulesHandler},
		{MethodName: "GetPackage", Handler: getPackageHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "comboz/v1/recommendation.proto",
}

// RecommendationServiceClient is the client API for RecommendationService.
type RecommendationServiceClient interface {
	Recommend(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListRules(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetPackage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type recommendationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRecommendationServiceClient(cc grpc.ClientConnInterface) RecommendationServiceClient {
	return &recommendationServiceClient{cc: cc}
}

func (c *recommendationServiceClient) Recommend(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RecommendationService_Recommend_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recommendationServiceClient) ListRules(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RecommendationService_ListRules_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recommendationServiceClient) GetPackage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RecommendationService_GetPackage_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
