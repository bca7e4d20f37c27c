package server

import (
	"context"

	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/service"
)

type Service interface {
	Resolve(ctx context.Context, input core.TripAttributes) (core.MatchResult, error)
	ListActiveRules(ctx context.Context) ([]core.Rule, error)
	GetPackage(ctx context.Context, id string) (core.Package, error)
}

var _ Service = (*service.Service)(nil)
