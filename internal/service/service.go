package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/repository"
)

const (
	DefaultRuleCacheTTL = 30 * time.Second
	cacheResyncInterval = time.Minute
	cacheReloadTimeout  = 5 * time.Second
	tracerName          = "github.com/matt-riley/comboz/internal/service"
)

// Repository is the storage the resolver reads from.
type Repository interface {
	ListActiveRules(ctx context.Context) ([]repository.Rule, error)
	GetActivePackageForRule(ctx context.Context, ruleID, packageID string) (core.Package, error)
	GetActivePackage(ctx context.Context, id string) (core.Package, error)
}

type cacheInvalidationSubscriber interface {
	SubscribeRuleInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger used for rule evaluation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRuleCacheTTL sets how long a loaded rule list is reused. Zero or a
// negative value disables caching and reads rules on every call.
func WithRuleCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithCacheMetrics registers callbacks for rule cache activity. Any callback
// may be nil.
func WithCacheMetrics(onLoad, onInvalidation func(), onSize func(float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onCacheInvalidation = onInvalidation
		s.onCacheSize = onSize
	}
}

// WithRecommendationMetrics registers callbacks for resolution outcomes and
// skipped stale packages. Any callback may be nil.
func WithRecommendationMetrics(onOutcome func(outcome string), onStalePackage func()) Option {
	return func(s *Service) {
		s.onOutcome = onOutcome
		s.onStalePackage = onStalePackage
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service resolves trip attributes to a combo package by walking the active
// rules in priority order.
type Service struct {
	repo   Repository
	logger *slog.Logger
	tracer trace.Tracer
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	rules    []core.Rule
	loadedAt time.Time
	cached   bool

	// loadSeq numbers cache loads in start order; appliedSeq is the newest
	// load (or invalidation) reflected in rules.
	loadSeq    atomic.Uint64
	appliedSeq uint64

	onCacheLoad         func()
	onCacheInvalidation func()
	onCacheSize         func(float64)
	onOutcome           func(string)
	onStalePackage      func()
}

// New builds a Service. When caching is enabled the rule list is loaded
// eagerly, and repositories that support it are subscribed to for
// invalidations until ctx is done.
func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:   repo,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		ttl:    DefaultRuleCacheTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if !svc.cacheEnabled() {
		return svc, nil
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(cacheInvalidationSubscriber); ok {
		if err := svc.startCacheInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache reads the active rules from the repository and replaces the
// cached list. A load that finishes after a newer load or invalidation leaves
// the cache untouched.
func (s *Service) LoadCache(ctx context.Context) error {
	_, err := s.loadCache(ctx)
	return err
}

func (s *Service) loadCache(ctx context.Context) ([]core.Rule, error) {
	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}

	seq := s.loadSeq.Add(1)
	rules, err := s.fetchRules(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if seq <= s.appliedSeq {
		s.mu.Unlock()
		return rules, nil
	}
	s.appliedSeq = seq
	s.rules = rules
	s.loadedAt = s.now()
	s.cached = true
	s.mu.Unlock()

	if s.onCacheSize != nil {
		s.onCacheSize(float64(len(rules)))
	}

	return cloneRules(rules), nil
}

// InvalidateCache drops the cached rule list so the next read goes to the
// repository.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cached = false
	s.appliedSeq = s.loadSeq.Load()
	s.mu.Unlock()

	if s.onCacheInvalidation != nil {
		s.onCacheInvalidation()
	}
}

// ListActiveRules returns the decoded active rules in evaluation order. Rules
// whose conditions fail validation are left out. An empty slice means no rule
// is active; storage faults are returned as *RepositoryError.
func (s *Service) ListActiveRules(ctx context.Context) ([]core.Rule, error) {
	if !s.cacheEnabled() {
		return s.fetchRules(ctx)
	}

	if rules, ok := s.cachedRules(); ok {
		return rules, nil
	}

	return s.loadCache(ctx)
}

// GetPackage returns an active package by id.
func (s *Service) GetPackage(ctx context.Context, id string) (core.Package, error) {
	if strings.TrimSpace(id) == "" {
		return core.Package{}, errors.New("package id is required")
	}

	pkg, err := s.repo.GetActivePackage(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Package{}, ErrPackageNotFound
		}
		return core.Package{}, &RepositoryError{Op: "get package", Err: err}
	}

	return pkg, nil
}

// Resolve picks the package of the highest-priority active rule whose
// conditions all hold for input. A missing recommendation is reported as a
// NoMatch result, never as an error.
//
// A matched rule whose package turns out to be missing or inactive is
// skipped. When a package lookup fails for another reason the remaining rules
// are still tried, but if none of them produces a package the lookup failure
// is returned instead of NoMatch.
func (s *Service) Resolve(ctx context.Context, input core.TripAttributes) (core.MatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Resolve")
	defer span.End()

	if err := validateTripAttributes(input); err != nil {
		s.logger.DebugContext(ctx, "recommendation input rejected", "error", err)
		return s.finish(span, core.NoMatch(core.NoMatchInvalidInput)), nil
	}

	rules, err := s.ListActiveRules(ctx)
	if err != nil {
		s.observe("error")
		span.RecordError(err)
		return core.MatchResult{}, err
	}
	if len(rules) == 0 {
		return s.finish(span, core.NoMatch(core.NoMatchNoRules)), nil
	}

	var lookupErr error
	for _, rule := range rules {
		matched, reasons := core.MatchConditions(rule.Conditions, input)
		s.logger.DebugContext(ctx, "rule evaluated",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"priority", rule.Priority,
			"matched", matched,
			"reasons", reasons,
		)
		if !matched {
			continue
		}

		pkg, err := s.repo.GetActivePackageForRule(ctx, rule.ID, rule.TargetPackageID)
		if err == nil {
			return s.finish(span, core.Matched(pkg, rule, reasons)), nil
		}

		if ctx.Err() != nil {
			repoErr := &RepositoryError{Op: "get active package", Err: err}
			s.observe("error")
			span.RecordError(repoErr)
			return core.MatchResult{}, repoErr
		}

		if errors.Is(err, pgx.ErrNoRows) {
			stale := fmt.Errorf("%w: rule %q package %q", ErrStalePackage, rule.ID, rule.TargetPackageID)
			s.logger.WarnContext(ctx, "skipping rule with stale package", "rule_id", rule.ID, "package_id", rule.TargetPackageID, "error", stale)
			if s.onStalePackage != nil {
				s.onStalePackage()
			}
			continue
		}

		s.logger.ErrorContext(ctx, "package lookup failed", "rule_id", rule.ID, "package_id", rule.TargetPackageID, "error", err)
		if lookupErr == nil {
			lookupErr = &RepositoryError{Op: "get active package", Err: err}
		}
	}

	if lookupErr != nil {
		s.observe("error")
		span.RecordError(lookupErr)
		return core.MatchResult{}, lookupErr
	}

	return s.finish(span, core.NoMatch(core.NoMatchNoCandidate)), nil
}

func (s *Service) finish(span trace.Span, result core.MatchResult) core.MatchResult {
	label := string(result.Outcome)
	if !result.IsMatch() {
		label = string(result.NoMatchReason)
	}
	s.observe(label)

	span.SetAttributes(outcomeAttributes(result)...)

	return result
}

func (s *Service) observe(outcome string) {
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
}

func (s *Service) cacheEnabled() bool {
	return s.ttl > 0
}

func (s *Service) cachedRules() ([]core.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.cached || s.now().Sub(s.loadedAt) >= s.ttl {
		return nil, false
	}

	return cloneRules(s.rules), true
}

// cloneRules copies rules so callers can never reach the cached slices.
func cloneRules(rules []core.Rule) []core.Rule {
	cloned := make([]core.Rule, len(rules))
	for i, rule := range rules {
		cloned[i] = rule.Clone()
	}
	return cloned
}

func (s *Service) fetchRules(ctx context.Context) ([]core.Rule, error) {
	stored, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, &RepositoryError{Op: "list active rules", Err: err}
	}

	rules := make([]core.Rule, 0, len(stored))
	for _, row := range stored {
		if !row.Active {
			continue
		}

		rule, err := repositoryRuleToCore(row)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping rule with invalid conditions", "rule_id", row.ID, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	core.SortRules(rules)
	return rules, nil
}

func (s *Service) startCacheInvalidationListener(ctx context.Context, subscriber cacheInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeRuleInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe cache invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(cacheResyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeRuleInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeRuleInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				s.InvalidateCache()
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
	defer cancel()
	if err := s.LoadCache(reloadCtx); err != nil && ctx.Err() == nil {
		s.logger.Warn("rule cache reload failed", "error", err)
	}
}

func validateTripAttributes(input core.TripAttributes) error {
	if input.TripDays <= 0 {
		return fmt.Errorf("%w: trip_days must be > 0, got %d", ErrInvalidInput, input.TripDays)
	}
	return nil
}

func repositoryRuleToCore(row repository.Rule) (core.Rule, error) {
	conditions, err := parseConditionsJSON(row.Conditions)
	if err != nil {
		return core.Rule{}, err
	}

	return core.Rule{
		ID:                 row.ID,
		Name:               row.Name,
		Priority:           row.Priority,
		Conditions:         conditions,
		TargetPackageID:    row.TargetPackageID,
		MaxDiscountPercent: row.MaxDiscountPercent,
		UpsellPackageIDs:   row.UpsellPackageIDs,
		Active:             row.Active,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

func parseConditionsJSON(payload json.RawMessage) (core.Conditions, error) {
	var conditions core.Conditions
	if len(payload) == 0 {
		return conditions, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&conditions); err != nil {
		return core.Conditions{}, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}
	if decoder.More() {
		return core.Conditions{}, fmt.Errorf("%w: trailing data after conditions object", ErrInvalidConditions)
	}

	if err := conditions.Validate(); err != nil {
		return core.Conditions{}, fmt.Errorf("%w: %v", ErrInvalidConditions, err)
	}

	return conditions, nil
}

func outcomeAttributes(result core.MatchResult) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("comboz.outcome", string(result.Outcome))}
	if result.IsMatch() {
		return append(attrs,
			attribute.String("comboz.rule_id", result.Rule.ID),
			attribute.String("comboz.package_id", result.Package.ID),
		)
	}
	return append(attrs, attribute.String("comboz.no_match_reason", string(result.NoMatchReason)))
}
