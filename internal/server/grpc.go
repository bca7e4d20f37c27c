package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	recommendationv1 "github.com/matt-riley/comboz/api/recommendation/v1"
	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/service"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCServer implements comboz.v1.RecommendationService on top of [Service].
type GRPCServer struct {
	recommendationv1.UnimplementedRecommendationServiceServer
	service Service
}

func NewGRPCServer(svc Service) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	return &GRPCServer{service: svc}
}

func (s *GRPCServer) Recommend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "trip attributes are required")
	}

	input, err := decodeTripAttributes(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.service.Resolve(ctx, input)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toStruct(result)
}

func (s *GRPCServer) ListRules(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rules, err := s.service.ListActiveRules(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}
	if rules == nil {
		rules = []core.Rule{}
	}

	return toStruct(rulesJSONResponse{Rules: rules})
}

func (s *GRPCServer) GetPackage(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "package id is required")
	}

	pkg, err := s.service.GetPackage(ctx, id)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return toStruct(pkg)
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, service.ErrPackageNotFound):
		return status.Error(codes.NotFound, "package not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case service.IsRepositoryError(err):
		return status.Error(codes.Unavailable, "rule storage unavailable")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

// decodeTripAttributes applies the same strict decoding as the HTTP API:
// unknown fields and mistyped values are rejected.
func decodeTripAttributes(req *structpb.Struct) (core.TripAttributes, error) {
	payload, err := json.Marshal(req.AsMap())
	if err != nil {
		return core.TripAttributes{}, fmt.Errorf("encode trip attributes: %w", err)
	}
	return decodeTripAttributesJSON(payload)
}

func decodeTripAttributesJSON(payload []byte) (core.TripAttributes, error) {
	var input core.TripAttributes
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		return core.TripAttributes{}, fmt.Errorf("invalid trip attributes: %w", err)
	}
	if decoder.More() {
		return core.TripAttributes{}, errors.New("invalid trip attributes: trailing data")
	}
	return input, nil
}

func toStruct(payload any) (*structpb.Struct, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}

	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}
