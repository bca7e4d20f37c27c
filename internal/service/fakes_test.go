package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/repository"
)

type fakeServiceRepository struct {
	mu          sync.RWMutex
	rules       []repository.Rule
	packages    map[string]core.Package
	listErr     error
	packageErrs map[string]error

	listCalls    int
	packageCalls []string
}

func newFakeServiceRepository() *fakeServiceRepository {
	return &fakeServiceRepository{
		packages:    make(map[string]core.Package),
		packageErrs: make(map[string]error),
	}
}

func (f *fakeServiceRepository) ListActiveRules(_ context.Context) ([]repository.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	rules := make([]repository.Rule, 0, len(f.rules))
	for _, rule := range f.rules {
		if rule.Active {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (f *fakeServiceRepository) GetActivePackageForRule(ctx context.Context, ruleID, packageID string) (core.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.packageCalls = append(f.packageCalls, packageID)
	if err := ctx.Err(); err != nil {
		return core.Package{}, err
	}
	if err := f.packageErrs[packageID]; err != nil {
		return core.Package{}, err
	}

	idx := slices.IndexFunc(f.rules, func(rule repository.Rule) bool { return rule.ID == ruleID })
	if idx < 0 || !f.rules[idx].Active || f.rules[idx].TargetPackageID != packageID {
		return core.Package{}, pgx.ErrNoRows
	}

	pkg, ok := f.packages[packageID]
	if !ok || !pkg.Active {
		return core.Package{}, pgx.ErrNoRows
	}
	return pkg, nil
}

func (f *fakeServiceRepository) GetActivePackage(_ context.Context, id string) (core.Package, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.packageErrs[id]; err != nil {
		return core.Package{}, err
	}
	pkg, ok := f.packages[id]
	if !ok || !pkg.Active {
		return core.Package{}, pgx.ErrNoRows
	}
	return pkg, nil
}

func (f *fakeServiceRepository) setRules(rules ...repository.Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
}

func (f *fakeServiceRepository) setPackage(pkg core.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[pkg.ID] = pkg
}

func (f *fakeServiceRepository) setPackageErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packageErrs[id] = err
}

func (f *fakeServiceRepository) deactivateRule(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].Active = false
		}
	}
}

func (f *fakeServiceRepository) listCallCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.listCalls
}

func (f *fakeServiceRepository) packageCallList() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.packageCalls)
}

type notifyingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidations chan struct{}
}

func newNotifyingFakeServiceRepository() *notifyingFakeServiceRepository {
	return &notifyingFakeServiceRepository{
		fakeServiceRepository: newFakeServiceRepository(),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *notifyingFakeServiceRepository) SubscribeRuleInvalidation(_ context.Context) (<-chan struct{}, error) {
	return f.invalidations, nil
}

func (f *notifyingFakeServiceRepository) notifyInvalidation() {
	select {
	case f.invalidations <- struct{}{}:
	default:
	}
}

type resubscribingFakeServiceRepository struct {
	*fakeServiceRepository
	invalidationMu sync.Mutex
	invalidations  chan struct{}
	subscriptions  int
}

func newResubscribingFakeServiceRepository() *resubscribingFakeServiceRepository {
	return &resubscribingFakeServiceRepository{
		fakeServiceRepository: newFakeServiceRepository(),
		invalidations:         make(chan struct{}, 1),
	}
}

func (f *resubscribingFakeServiceRepository) SubscribeRuleInvalidation(_ context.Context) (<-chan struct{}, error) {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()

	if f.invalidations == nil {
		f.invalidations = make(chan struct{}, 1)
	}
	f.subscriptions++
	return f.invalidations, nil
}

func (f *resubscribingFakeServiceRepository) closeInvalidationChannel() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidations = nil
	f.invalidationMu.Unlock()

	if ch != nil {
		close(ch)
	}
}

func (f *resubscribingFakeServiceRepository) notifyInvalidation() {
	f.invalidationMu.Lock()
	ch := f.invalidations
	f.invalidationMu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
	}
}

func (f *resubscribingFakeServiceRepository) subscriptionCalls() int {
	f.invalidationMu.Lock()
	defer f.invalidationMu.Unlock()
	return f.subscriptions
}

// gatedFakeServiceRepository holds the next ListActiveRules call open after
// it has read the rules, until release is closed.
type gatedFakeServiceRepository struct {
	*fakeServiceRepository
	gateMu  sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedFakeServiceRepository() *gatedFakeServiceRepository {
	return &gatedFakeServiceRepository{fakeServiceRepository: newFakeServiceRepository()}
}

func (f *gatedFakeServiceRepository) holdNextList() {
	f.gateMu.Lock()
	defer f.gateMu.Unlock()
	f.armed = true
	f.entered = make(chan struct{})
	f.release = make(chan struct{})
}

func (f *gatedFakeServiceRepository) ListActiveRules(ctx context.Context) ([]repository.Rule, error) {
	rules, err := f.fakeServiceRepository.ListActiveRules(ctx)

	f.gateMu.Lock()
	held := f.armed
	f.armed = false
	entered, release := f.entered, f.release
	f.gateMu.Unlock()

	if held {
		close(entered)
		<-release
	}
	return rules, err
}

var ruleEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func storedRule(id string, priority int, conditions, packageID string) repository.Rule {
	return repository.Rule{
		ID:              id,
		Name:            id,
		Priority:        priority,
		Conditions:      json.RawMessage(conditions),
		TargetPackageID: packageID,
		Active:          true,
		CreatedAt:       ruleEpoch,
		UpdatedAt:       ruleEpoch,
	}
}

func activePackage(id string) core.Package {
	return core.Package{ID: id, Name: "Package " + id, Currency: "USD", PriceCents: 10000, Active: true}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t testing.TB, repo Repository, opts ...Option) *Service {
	t.Helper()

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	svc, err := New(context.Background(), repo, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc
}

func waitForCondition(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if check() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
