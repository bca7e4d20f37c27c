package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/metrics"
	"github.com/matt-riley/comboz/internal/middleware"
	"github.com/matt-riley/comboz/internal/server"
)

func mustHashAPIKey(t *testing.T, apiKey string) string {
	t.Helper()

	hash, err := middleware.HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey(%q) error = %v", apiKey, err)
	}

	return hash
}

func TestNewHTTPHandlerProtectsV1RoutesIncludingEscapedPaths(t *testing.T) {
	apiHandler := http.NewServeMux()
	apiHandler.HandleFunc("GET /v1/rules", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	validator := &fakeHTTPTokenValidator{principal: "key-test"}
	handler := newHTTPHandler(apiHandler, validator)

	t.Run("unauthenticated escaped v1 path is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/%76%31/rules", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("WWW-Authenticate = %q, want %q", got, "Bearer")
		}
	})

	t.Run("authenticated v1 path is allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
		req.Header.Set("Authorization", "Bearer key.secret")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if validator.calls != 1 {
			t.Fatalf("ValidateToken calls = %d, want %d", validator.calls, 1)
		}
	})
}

func TestNewHTTPHandlerKeepsPublicEndpointsAccessible(t *testing.T) {
	apiHandler := http.NewServeMux()
	apiHandler.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	apiHandler.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	apiHandler.HandleFunc("GET /debug", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := newHTTPHandler(apiHandler, &fakeHTTPTokenValidator{err: errors.New("invalid token")})

	for _, path := range []string{"/healthz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", "Bearer bad")
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}

	t.Run("non-whitelisted public routes are not exposed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestNewHTTPHandlerServesRecommendationsEndToEnd(t *testing.T) {
	svc := &fakeRecommendationService{
		result: core.Matched(
			core.Package{ID: "pkg-family", Name: "Family Fun", PriceCents: 129900, Currency: "USD", Active: true},
			core.Rule{ID: "rule-family", Priority: 100, TargetPackageID: "pkg-family", Active: true},
			[]string{core.ReasonHasChildren},
		),
	}
	m := metrics.New()
	apiHandler := server.NewHTTPHandler(svc, server.WithMetrics(m))
	handler := newHTTPHandler(apiHandler, &fakeHTTPTokenValidator{principal: "key-1"},
		middleware.WithOnAuthFailure(m.IncAuthFailures),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", strings.NewReader(`{"trip_days":4,"has_children":true}`))
	req.Header.Set("Authorization", "Bearer key-1.secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"outcome":"matched"`) {
		t.Fatalf("body = %s, want matched outcome", rec.Body.String())
	}
	if svc.gotInput.TripDays != 4 || !svc.gotInput.HasChildren {
		t.Fatalf("Resolve input = %+v, want trip_days 4 with children", svc.gotInput)
	}

	metricsRec := httptest.NewRecorder()
	handler.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), `comboz_http_requests_total{method="POST",route="/v1/recommendations",status="200"} 1`) {
		t.Fatalf("metrics output missing recommendation request:\n%s", metricsRec.Body.String())
	}
}

func TestAPIKeyTokenValidatorValidateToken(t *testing.T) {
	t.Run("nil validator", func(t *testing.T) {
		var validator *apiKeyTokenValidator
		_, err := validator.ValidateToken(context.Background(), "key.secret")
		if err == nil || err.Error() != "api key validator is nil" {
			t.Fatalf("ValidateToken() error = %v, want api key validator is nil", err)
		}
	})

	t.Run("invalid token format", func(t *testing.T) {
		lookup := &fakeAPIKeyHashLookup{}
		validator := &apiKeyTokenValidator{lookup: lookup}

		for _, token := range []string{"", "no-delimiter", ".secret", "key."} {
			t.Run(token, func(t *testing.T) {
				_, err := validator.ValidateToken(context.Background(), token)
				if err == nil || err.Error() != "invalid token format" {
					t.Fatalf("ValidateToken(%q) error = %v, want invalid token format", token, err)
				}
			})
		}

		if lookup.calls != 0 {
			t.Fatalf("ValidateAPIKey calls = %d, want 0", lookup.calls)
		}
	})

	t.Run("lookup error", func(t *testing.T) {
		lookupErr := errors.New("lookup failed")
		validator := &apiKeyTokenValidator{
			lookup: &fakeAPIKeyHashLookup{err: lookupErr},
		}

		_, err := validator.ValidateToken(context.Background(), "key.secret")
		if err == nil || !strings.Contains(err.Error(), "lookup key hash") {
			t.Fatalf("ValidateToken() error = %v, want wrapped lookup error", err)
		}
		if !errors.Is(err, lookupErr) {
			t.Fatalf("ValidateToken() error = %v, want wrapped %v", err, lookupErr)
		}
	})

	t.Run("invalid secret", func(t *testing.T) {
		lookup := &fakeAPIKeyHashLookup{hash: mustHashAPIKey(t, "expected-secret")}
		validator := &apiKeyTokenValidator{lookup: lookup}

		_, err := validator.ValidateToken(context.Background(), "key.bad-secret")
		if err == nil || err.Error() != "invalid token" {
			t.Fatalf("ValidateToken() error = %v, want invalid token", err)
		}
		if lookup.gotID != "key" {
			t.Fatalf("ValidateAPIKey id = %q, want %q", lookup.gotID, "key")
		}
	})

	t.Run("valid token", func(t *testing.T) {
		lookup := &fakeAPIKeyHashLookup{hash: mustHashAPIKey(t, "good-secret")}
		validator := &apiKeyTokenValidator{lookup: lookup}

		principal, err := validator.ValidateToken(context.Background(), "my-key.good-secret")
		if err != nil {
			t.Fatalf("ValidateToken() error = %v, want nil", err)
		}
		if principal != "my-key" {
			t.Fatalf("ValidateToken() principal = %q, want my-key", principal)
		}
		if lookup.gotID != "my-key" {
			t.Fatalf("ValidateAPIKey id = %q, want %q", lookup.gotID, "my-key")
		}
	})
}

type fakeAPIKeyHashLookup struct {
	hash  string
	err   error
	calls int
	gotID string
}

func (f *fakeAPIKeyHashLookup) ValidateAPIKey(_ context.Context, id string) (string, error) {
	f.calls++
	f.gotID = id
	if f.err != nil {
		return "", f.err
	}
	return f.hash, nil
}

type fakeHTTPTokenValidator struct {
	err       error
	calls     int
	principal string
}

func (f *fakeHTTPTokenValidator) ValidateToken(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.principal, f.err
}

type fakeRecommendationService struct {
	result   core.MatchResult
	gotInput core.TripAttributes
}

func (f *fakeRecommendationService) Resolve(_ context.Context, input core.TripAttributes) (core.MatchResult, error) {
	f.gotInput = input
	return f.result, nil
}

func (f *fakeRecommendationService) ListActiveRules(context.Context) ([]core.Rule, error) {
	return nil, nil
}

func (f *fakeRecommendationService) GetPackage(context.Context, string) (core.Package, error) {
	return core.Package{}, errors.New("not implemented")
}
