package core

import (
	"slices"
	"time"
)

// Conditions is the sparse predicate set attached to a rule. A zero field is
// a wildcard.
type Conditions struct {
	TripDaysMin int    `json:"trip_days_min,omitempty" yaml:"trip_days_min,omitempty"`
	TripDaysMax int    `json:"trip_days_max,omitempty" yaml:"trip_days_max,omitempty"`
	TravelStyle string `json:"travel_style,omitempty" yaml:"travel_style,omitempty"`
	BudgetTier  string `json:"budget_tier,omitempty" yaml:"budget_tier,omitempty"`
	// HasChildren only constrains when true; there is no "must not have
	// children" predicate.
	HasChildren bool `json:"has_children,omitempty" yaml:"has_children,omitempty"`
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

// Clone returns a copy of r that shares no slices with it.
func (r Rule) Clone() Rule {
	r.UpsellPackageIDs = slices.Clone(r.UpsellPackageIDs)
	return r
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

// TripAttributes is the per-request input to a recommendation.
type TripAttributes struct {
	TripDays    int    `json:"trip_days"`
	TravelStyle string `json:"travel_style,omitempty"`
	BudgetTier  string `json:"budget_tier,omitempty"`
	HasChildren bool   `json:"has_children"`
	// Nationality is accepted but not matched on.
	Nationality string `json:"nationality,omitempty"`
}

type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
)

type NoMatchReason string

const (
	NoMatchInvalidInput NoMatchReason = "invalid_input"
	NoMatchNoRules      NoMatchReason = "no_rules"
	NoMatchNoCandidate  NoMatchReason = "no_match"
)

// MatchResult is the tagged outcome of a resolution. Package and Rule are set
// only when Outcome is OutcomeMatched.
type MatchResult struct {
	Outcome       Outcome       `json:"outcome"`
	Package       *Package      `json:"package,omitempty"`
	Rule          *Rule         `json:"rule,omitempty"`
	Reasons       []string      `json:"reasons,omitempty"`
	NoMatchReason NoMatchReason `json:"no_match_reason,omitempty"`
}

func Matched(pkg Package, rule Rule, reasons []string) MatchResult {
	return MatchResult{
		Outcome: OutcomeMatched,
		Package: &pkg,
		Rule:    &rule,
		Reasons: reasons,
	}
}

func NoMatch(reason NoMatchReason) MatchResult {
	return MatchResult{Outcome: OutcomeNoMatch, NoMatchReason: reason}
}

func (r MatchResult) IsMatch() bool {
	return r.Outcome == OutcomeMatched && r.Package != nil && r.Rule != nil
}
