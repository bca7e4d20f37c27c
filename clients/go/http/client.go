// Package http provides an HTTP client for the comboz recommendation service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	comboz "github.com/matt-riley/comboz/clients/go"
)

const maxErrorBodyBytes = 64 << 10

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the comboz server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements comboz.Recommender and comboz.Catalogue over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ comboz.Recommender = (*Client)(nil)
	_ comboz.Catalogue   = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the comboz service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("comboz: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Recommend(ctx context.Context, trip comboz.TripAttributes) (comboz.Recommendation, error) {
	var out comboz.Recommendation
	if err := c.doJSON(ctx, http.MethodPost, "/v1/recommendations", trip, &out); err != nil {
		return comboz.Recommendation{}, err
	}
	return out, nil
}

func (c *Client) ListRules(ctx context.Context) ([]comboz.Rule, error) {
	var out struct {
		Rules []comboz.Rule `json:"rules"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/rules", nil, &out); err != nil {
		return nil, err
	}
	return out.Rules, nil
}

func (c *Client) GetPackage(ctx context.Context, id string) (comboz.Package, error) {
	var out comboz.Package
	if err := c.doJSON(ctx, http.MethodGet, "/v1/packages/"+url.PathEscape(id), nil, &out); err != nil {
		return comboz.Package{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("comboz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("comboz: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("comboz: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("comboz: decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the trimmed raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
