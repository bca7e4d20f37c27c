// Package fixtures loads combo packages and rules from a YAML catalogue and
// writes them to rule storage.
package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/matt-riley/comboz/internal/core"
	"github.com/matt-riley/comboz/internal/repository"
	"gopkg.in/yaml.v2"
)

const defaultCurrency = "USD"

var (
	ErrDuplicateID    = errors.New("duplicate id")
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownPackage = errors.New("unknown package")
	ErrNegativePrice  = errors.New("price_cents must be >= 0")
	ErrDiscountRange  = errors.New("max_discount_percent must be between 0 and 100")
	ErrRetiredRule    = errors.New("rule is both defined and retired")
)

// Catalogue is the on-disk seed document.
type Catalogue struct {
	Packages []PackageFixture `yaml:"packages"`
	Rules    []RuleFixture    `yaml:"rules"`

	// RetiredRules lists ids of previously seeded rules to deactivate.
	RetiredRules []string `yaml:"retired_rules"`
}

type PackageFixture struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Inclusions  []string `yaml:"inclusions"`
	PriceCents  int64    `yaml:"price_cents"`
	Currency    string   `yaml:"currency"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

type RuleFixture struct {
	ID                 string          `yaml:"id"`
	Name               string          `yaml:"name"`
	Priority           int             `yaml:"priority"`
	Conditions         core.Conditions `yaml:"conditions"`
	TargetPackageID    string          `yaml:"target_package_id"`
	MaxDiscountPercent float64         `yaml:"max_discount_percent"`
	UpsellPackageIDs   []string        `yaml:"upsell_package_ids"`
	Active             *bool           `yaml:"active"`
}

// Store is the subset of the repository the seeder writes through.
type Store interface {
	UpsertPackage(ctx context.Context, pkg core.Package) (core.Package, error)
	UpsertRule(ctx context.Context, rule repository.Rule) (repository.Rule, error)
	GetRule(ctx context.Context, id string) (repository.Rule, error)
	DeactivateRule(ctx context.Context, id string) error
}

// Summary reports what Apply wrote.
type Summary struct {
	Packages int
	Rules    int
	RuleIDs  []string
	Retired  int
}

// Load reads a catalogue file, expanding ${VAR} references from the
// environment before parsing.
func Load(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes and validates a catalogue. Rules without an id are assigned a
// random UUID so repeated seeding of the same file creates new rules for them.
func Parse(data []byte) (Catalogue, error) {
	var cat Catalogue
	if err := yaml.UnmarshalStrict(data, &cat); err != nil {
		return Catalogue{}, fmt.Errorf("parse catalogue: %w", err)
	}

	for i := range cat.Rules {
		if strings.TrimSpace(cat.Rules[i].ID) == "" {
			cat.Rules[i].ID = uuid.NewString()
		}
	}

	if err := cat.Validate(); err != nil {
		return Catalogue{}, err
	}
	return cat, nil
}

// Validate checks ids, references and rule conditions.
func (c Catalogue) Validate() error {
	packageIDs := make(map[string]struct{}, len(c.Packages))
	for i, pkg := range c.Packages {
		if strings.TrimSpace(pkg.ID) == "" {
			return fmt.Errorf("packages[%d]: %w: id", i, ErrMissingField)
		}
		if strings.TrimSpace(pkg.Name) == "" {
			return fmt.Errorf("package %q: %w: name", pkg.ID, ErrMissingField)
		}
		if pkg.PriceCents < 0 {
			return fmt.Errorf("package %q: %w", pkg.ID, ErrNegativePrice)
		}
		if _, ok := packageIDs[pkg.ID]; ok {
			return fmt.Errorf("package %q: %w", pkg.ID, ErrDuplicateID)
		}
		packageIDs[pkg.ID] = struct{}{}
	}

	ruleIDs := make(map[string]struct{}, len(c.Rules))
	for _, rule := range c.Rules {
		if _, ok := ruleIDs[rule.ID]; ok {
			return fmt.Errorf("rule %q: %w", rule.ID, ErrDuplicateID)
		}
		ruleIDs[rule.ID] = struct{}{}

		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("rule %q: %w: name", rule.ID, ErrMissingField)
		}
		if strings.TrimSpace(rule.TargetPackageID) == "" {
			return fmt.Errorf("rule %q: %w: target_package_id", rule.ID, ErrMissingField)
		}
		if _, ok := packageIDs[rule.TargetPackageID]; !ok {
			return fmt.Errorf("rule %q: %w %q", rule.ID, ErrUnknownPackage, rule.TargetPackageID)
		}
		for _, upsell := range rule.UpsellPackageIDs {
			if _, ok := packageIDs[upsell]; !ok {
				return fmt.Errorf("rule %q upsell: %w %q", rule.ID, ErrUnknownPackage, upsell)
			}
		}
		if rule.MaxDiscountPercent < 0 || rule.MaxDiscountPercent > 100 {
			return fmt.Errorf("rule %q: %w", rule.ID, ErrDiscountRange)
		}
		if err := rule.Conditions.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}

	retired := make(map[string]struct{}, len(c.RetiredRules))
	for i, id := range c.RetiredRules {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("retired_rules[%d]: %w: id", i, ErrMissingField)
		}
		if _, ok := retired[id]; ok {
			return fmt.Errorf("retired rule %q: %w", id, ErrDuplicateID)
		}
		retired[id] = struct{}{}
		if _, ok := ruleIDs[id]; ok {
			return fmt.Errorf("rule %q: %w", id, ErrRetiredRule)
		}
	}

	return nil
}

// Apply upserts every package, then every rule, then deactivates retired
// rules, stopping at the first error. Retired rules that are missing or
// already inactive are left alone so re-seeding does not notify listeners.
func Apply(ctx context.Context, store Store, cat Catalogue) (Summary, error) {
	var summary Summary

	for _, fixture := range cat.Packages {
		if _, err := store.UpsertPackage(ctx, fixture.toPackage()); err != nil {
			return summary, fmt.Errorf("upsert package %q: %w", fixture.ID, err)
		}
		summary.Packages++
	}

	for _, fixture := range cat.Rules {
		row, err := fixture.toRepositoryRule()
		if err != nil {
			return summary, err
		}
		saved, err := store.UpsertRule(ctx, row)
		if err != nil {
			return summary, fmt.Errorf("upsert rule %q: %w", fixture.ID, err)
		}
		summary.Rules++
		summary.RuleIDs = append(summary.RuleIDs, saved.ID)
	}

	for _, id := range cat.RetiredRules {
		current, err := store.GetRule(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("retire rule %q: %w", id, err)
		}
		if !current.Active {
			continue
		}
		if err := store.DeactivateRule(ctx, id); err != nil {
			return summary, fmt.Errorf("retire rule %q: %w", id, err)
		}
		summary.Retired++
	}

	return summary, nil
}

func (p PackageFixture) toPackage() core.Package {
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return core.Package{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Inclusions:  p.Inclusions,
		PriceCents:  p.PriceCents,
		Currency:    currency,
		Active:      boolOrTrue(p.Active),
	}
}

func (r RuleFixture) toRepositoryRule() (repository.Rule, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return repository.Rule{}, fmt.Errorf("encode rule %q conditions: %w", r.ID, err)
	}
	return repository.Rule{
		ID:                 r.ID,
		Name:               r.Name,
		Priority:           r.Priority,
		Conditions:         conditions,
		TargetPackageID:    r.TargetPackageID,
		MaxDiscountPercent: r.MaxDiscountPercent,
		UpsellPackageIDs:   r.UpsellPackageIDs,
		Active:             boolOrTrue(r.Active),
	}, nil
}

func boolOrTrue(v *bool) bool {
	return v == nil || *v
}
