package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/matt-riley/comboz/internal/core"
)

const packageColumns = `p.id, p.name, p.description, p.inclusions, p.price_cents, p.currency,
		p.is_active, p.created_at, p.updated_at`

// GetActivePackage looks up an active package by id. Returns pgx.ErrNoRows
// (wrapped) when the package is missing or inactive.
func (r *PostgresRepository) GetActivePackage(ctx context.Context, id string) (core.Package, error) {
	pkg, err := scanPackage(r.pool.QueryRow(ctx, `
		SELECT `+packageColumns+`
		FROM combo_packages p
		WHERE p.id = $1 AND p.is_active = true
	`, id))
	if err != nil {
		return core.Package{}, fmt.Errorf("get active package: %w", err)
	}

	return pkg, nil
}

// GetActivePackageForRule resolves a rule's target package, requiring both the
// rule and the package to be active at query time. Returns pgx.ErrNoRows
// (wrapped) otherwise.
func (r *PostgresRepository) GetActivePackageForRule(ctx context.Context, ruleID, packageID string) (core.Package, error) {
	pkg, err := scanPackage(r.pool.QueryRow(ctx, `
		SELECT `+packageColumns+`
		FROM combo_packages p
		JOIN combo_rules r ON r.target_package_id = p.id
		WHERE r.id = $1
		  AND r.is_active = true
		  AND p.id = $2
		  AND p.is_active = true
	`, ruleID, packageID))
	if err != nil {
		return core.Package{}, fmt.Errorf("get active package for rule: %w", err)
	}

	return pkg, nil
}

// UpsertPackage inserts or replaces a package row.
func (r *PostgresRepository) UpsertPackage(ctx context.Context, pkg core.Package) (core.Package, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return core.Package{}, fmt.Errorf("begin upsert package tx: %w", err)
	}
	defer tx.Rollback(ctx)

	saved, err := scanPackage(tx.QueryRow(ctx, `
		INSERT INTO combo_packages AS p (id, name, description, inclusions, price_cents, currency, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    inclusions = EXCLUDED.inclusions,
		    price_cents = EXCLUDED.price_cents,
		    currency = EXCLUDED.currency,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
		RETURNING `+packageColumns,
		pkg.ID,
		pkg.Name,
		pkg.Description,
		ensureStrings(pkg.Inclusions),
		pkg.PriceCents,
		pkg.Currency,
		pkg.Active,
	))
	if err != nil {
		return core.Package{}, fmt.Errorf("upsert package: %w", err)
	}

	if err := r.notify(ctx, tx, EventTypePackageUpserted, saved.ID); err != nil {
		return core.Package{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return core.Package{}, fmt.Errorf("commit upsert package tx: %w", err)
	}

	return saved, nil
}

func scanPackage(row pgx.Row) (core.Package, error) {
	var pkg core.Package
	if err := row.Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.Description,
		&pkg.Inclusions,
		&pkg.PriceCents,
		&pkg.Currency,
		&pkg.Active,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	); err != nil {
		return core.Package{}, fmt.Errorf("scan package: %w", err)
	}

	return pkg, nil
}
