// Package grpc provides a gRPC client for the comboz recommendation service.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	recommendationv1 "github.com/matt-riley/comboz/api/recommendation/v1"
	comboz "github.com/matt-riley/comboz/clients/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Config holds configuration for the gRPC client.
type Config struct {
	// Address is the host:port of the comboz gRPC server, e.g. "localhost:9090".
	Address string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// DialOpts are additional gRPC dial options (e.g. TLS credentials).
	// If empty, insecure credentials are used.
	DialOpts []grpc.DialOption
}

// Client implements comboz.Recommender and comboz.Catalogue over gRPC.
type Client struct {
	cfg  Config
	stub recommendationv1.RecommendationServiceClient
	conn *grpc.ClientConn
}

var (
	_ comboz.Recommender = (*Client)(nil)
	_ comboz.Catalogue   = (*Client)(nil)
)

// NewGRPCClient creates a client connection to the comboz gRPC server.
// Call Close() when done.
func NewGRPCClient(cfg Config) (*Client, error) {
	opts := []grpc.DialOption{}
	if len(cfg.DialOpts) > 0 {
		opts = append(opts, cfg.DialOpts...)
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("comboz: grpc dial: %w", err)
	}
	return &Client{cfg: cfg, stub: recommendationv1.NewRecommendationServiceClient(conn), conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// authCtx injects the bearer token into outgoing gRPC metadata.
func (c *Client) authCtx(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.cfg.APIKey)
}

func (c *Client) Recommend(ctx context.Context, trip comboz.TripAttributes) (comboz.Recommendation, error) {
	req, err := encodeStruct(trip)
	if err != nil {
		return comboz.Recommendation{}, err
	}
	resp, err := c.stub.Recommend(c.authCtx(ctx), req)
	if err != nil {
		return comboz.Recommendation{}, fmt.Errorf("comboz: Recommend: %w", err)
	}

	var out comboz.Recommendation
	if err := decodeStruct(resp, &out); err != nil {
		return comboz.Recommendation{}, err
	}
	return out, nil
}

func (c *Client) ListRules(ctx context.Context) ([]comboz.Rule, error) {
	resp, err := c.stub.ListRules(c.authCtx(ctx), &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("comboz: ListRules: %w", err)
	}

	var out struct {
		Rules []comboz.Rule `json:"rules"`
	}
	if err := decodeStruct(resp, &out); err != nil {
		return nil, err
	}
	return out.Rules, nil
}

func (c *Client) GetPackage(ctx context.Context, id string) (comboz.Package, error) {
	resp, err := c.stub.GetPackage(c.authCtx(ctx), wrapperspb.String(id))
	if err != nil {
		return comboz.Package{}, fmt.Errorf("comboz: GetPackage: %w", err)
	}

	var out comboz.Package
	if err := decodeStruct(resp, &out); err != nil {
		return comboz.Package{}, err
	}
	return out, nil
}

// encodeStruct converts a JSON-tagged value into a protobuf Struct.
func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("comboz: encode request: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("comboz: encode request: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("comboz: encode request: %w", err)
	}
	return s, nil
}

// decodeStruct converts a protobuf Struct response into a JSON-tagged value.
func decodeStruct(s *structpb.Struct, out any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("comboz: decode response: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("comboz: decode response: %w", err)
	}
	return nil
}
