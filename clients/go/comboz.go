// Package comboz provides client interfaces and domain types for the comboz
// combo-package recommendation service.
//
// Use the sub-packages to create transport-specific clients:
//
//	import combozhttp "github.com/matt-riley/comboz/clients/go/http"
//	import combozgrpc "github.com/matt-riley/comboz/clients/go/grpc"
package comboz

import (
	"context"
	"time"
)

// Recommender resolves the best combo package for a trip.
type Recommender interface {
	Recommend(ctx context.Context, trip TripAttributes) (Recommendation, error)
}

// Catalogue exposes the read-only diagnostics endpoints.
type Catalogue interface {
	ListRules(ctx context.Context) ([]Rule, error)
	GetPackage(ctx context.Context, id string) (Package, error)
}

const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
)

// TripAttributes describes the traveler's trip. TripDays must be positive for
// the server to consider any rule.
type TripAttributes struct {
	TripDays    int    `json:"trip_days"`
	TravelStyle string `json:"travel_style,omitempty"`
	BudgetTier  string `json:"budget_tier,omitempty"`
	HasChildren bool   `json:"has_children"`
	Nationality string `json:"nationality,omitempty"`
}

// Recommendation is the outcome of a Recommend call. Package and Rule are nil
// unless Outcome is OutcomeMatched.
type Recommendation struct {
	Outcome       string   `json:"outcome"`
	Package       *Package `json:"package,omitempty"`
	Rule          *Rule    `json:"rule,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
	NoMatchReason string   `json:"no_match_reason,omitempty"`
}

// Matched reports whether a package was recommended.
func (r Recommendation) Matched() bool {
	return r.Outcome == OutcomeMatched && r.Package != nil
}

type Conditions struct {
	TripDaysMin int    `json:"trip_days_min,omitempty"`
	TripDaysMax int    `json:"trip_days_max,omitempty"`
	TravelStyle string `json:"travel_style,omitempty"`
	BudgetTier  string `json:"budget_tier,omitempty"`
	HasChildren bool   `json:"has_children,omitempty"`
}

type Rule struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Priority           int        `json:"priority"`
	Conditions         Conditions `json:"conditions"`
	TargetPackageID    string     `json:"target_package_id"`
	MaxDiscountPercent float64    `json:"max_discount_percent,omitempty"`
	UpsellPackageIDs   []string   `json:"upsell_package_ids,omitempty"`
	Active             bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Inclusions  []string  `json:"inclusions,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
