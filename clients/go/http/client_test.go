package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	comboz "github.com/matt-riley/comboz/clients/go"
	combozhttp "github.com/matt-riley/comboz/clients/go/http"
)

const matchedJSON = `{
  "outcome": "matched",
  "package": {"id":"pkg-family","name":"Family Fun","price_cents":129900,"currency":"USD","is_active":true,
              "created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"},
  "rule": {"id":"rule-family","name":"Families","priority":100,"conditions":{"has_children":true},
           "target_package_id":"pkg-family","max_discount_percent":12.5,"upsell_package_ids":["pkg-kids-club"],
           "is_active":true,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"},
  "reasons": ["has children"]
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *combozhttp.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return combozhttp.NewHTTPClient(combozhttp.Config{
		BaseURL: srv.URL + "/",
		APIKey:  "test-key",
	})
}

func assertAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("auth header: got %q, want %q", got, "Bearer test-key")
	}
}

func TestRecommendMatched(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/recommendations" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["trip_days"] != float64(4) || body["has_children"] != true {
			t.Errorf("unexpected request body: %v", body)
		}
		if _, ok := body["budget_tier"]; ok {
			t.Errorf("empty budget_tier should be omitted: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, matchedJSON)
	})

	rec, err := c.Recommend(context.Background(), comboz.TripAttributes{TripDays: 4, HasChildren: true})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Matched() {
		t.Fatalf("expected match, got %+v", rec)
	}
	if rec.Package.ID != "pkg-family" || rec.Package.PriceCents != 129900 {
		t.Errorf("unexpected package: %+v", rec.Package)
	}
	if rec.Rule.ID != "rule-family" || !rec.Rule.Conditions.HasChildren {
		t.Errorf("unexpected rule: %+v", rec.Rule)
	}
	if len(rec.Rule.UpsellPackageIDs) != 1 || rec.Rule.MaxDiscountPercent != 12.5 {
		t.Errorf("pass-through fields lost: %+v", rec.Rule)
	}
	if rec.Package.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestRecommendNoMatch(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"outcome":"no_match","no_match_reason":"no_rules"}`)
	})

	rec, err := c.Recommend(context.Background(), comboz.TripAttributes{TripDays: 2})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Matched() {
		t.Fatalf("expected no match, got %+v", rec)
	}
	if rec.Outcome != comboz.OutcomeNoMatch || rec.NoMatchReason != "no_rules" {
		t.Errorf("unexpected recommendation: %+v", rec)
	}
}

func TestListRules(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/v1/rules" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"rules":[{"id":"r1","priority":10,"conditions":{}},{"id":"r2","priority":5,"conditions":{"trip_days_max":3}}]}`)
	})

	rules, err := c.ListRules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].ID != "r1" || rules[1].Conditions.TripDaysMax != 3 {
		t.Errorf("unexpected rules: %+v", rules)
	}
}

func TestGetPackageEscapesID(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/v1/packages/pkg%2Fodd" {
			t.Errorf("escaped path = %q", r.URL.EscapedPath())
		}
		fmt.Fprint(w, `{"id":"pkg/odd","name":"Odd","price_cents":1,"currency":"USD","is_active":true}`)
	})

	pkg, err := c.GetPackage(context.Background(), "pkg/odd")
	if err != nil {
		t.Fatal(err)
	}
	if pkg.ID != "pkg/odd" {
		t.Errorf("unexpected package: %+v", pkg)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{name: "json error body", status: http.StatusNotFound, body: `{"error":"package not found"}`, wantMessage: "package not found"},
		{name: "plain text body", status: http.StatusUnauthorized, body: "Unauthorized\n", wantMessage: "Unauthorized"},
		{name: "storage down", status: http.StatusServiceUnavailable, body: `{"error":"rule storage unavailable"}`, wantMessage: "rule storage unavailable"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(test.status)
				fmt.Fprint(w, test.body)
			})

			_, err := c.GetPackage(context.Background(), "missing")
			var apiErr *combozhttp.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != test.status || apiErr.Message != test.wantMessage {
				t.Errorf("APIError = %+v, want status %d message %q", apiErr, test.status, test.wantMessage)
			}
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"outcome":`)
	})

	if _, err := c.Recommend(context.Background(), comboz.TripAttributes{TripDays: 1}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestContextCancellation(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"rules":[]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListRules(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
