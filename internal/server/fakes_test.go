package server

import (
	"context"
	"errors"
	"time"

	"github.com/matt-riley/comboz/internal/core"
)

type fakeService struct {
	resolveFunc         func(ctx context.Context, input core.TripAttributes) (core.MatchResult, error)
	listActiveRulesFunc func(ctx context.Context) ([]core.Rule, error)
	getPackageFunc      func(ctx context.Context, id string) (core.Package, error)
}

func (f *fakeService) Resolve(ctx context.Context, input core.TripAttributes) (core.MatchResult, error) {
	if f.resolveFunc != nil {
		return f.resolveFunc(ctx, input)
	}
	return core.MatchResult{}, errors.New("Resolve not implemented")
}

func (f *fakeService) ListActiveRules(ctx context.Context) ([]core.Rule, error) {
	if f.listActiveRulesFunc != nil {
		return f.listActiveRulesFunc(ctx)
	}
	return nil, errors.New("ListActiveRules not implemented")
}

func (f *fakeService) GetPackage(ctx context.Context, id string) (core.Package, error) {
	if f.getPackageFunc != nil {
		return f.getPackageFunc(ctx, id)
	}
	return core.Package{}, errors.New("GetPackage not implemented")
}

var testCreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func familyRule() core.Rule {
	return core.Rule{
		ID:                 "rule-family",
		Name:               "Family short break",
		Priority:           10,
		Conditions:         core.Conditions{TripDaysMax: 5, TravelStyle: "family", HasChildren: true},
		TargetPackageID:    "pkg-family",
		MaxDiscountPercent: 12.5,
		UpsellPackageIDs:   []string{"pkg-kids-club"},
		Active:             true,
		CreatedAt:          testCreatedAt,
		UpdatedAt:          testCreatedAt,
	}
}

func familyPackage() core.Package {
	return core.Package{
		ID:         "pkg-family",
		Name:       "Family Fun",
		Inclusions: []string{"hotel", "water park"},
		PriceCents: 129900,
		Currency:   "USD",
		Active:     true,
		CreatedAt:  testCreatedAt,
		UpdatedAt:  testCreatedAt,
	}
}
