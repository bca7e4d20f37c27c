package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Rule is the repository-level representation of a combo_rules row.
// Conditions stay raw JSON; the service layer decodes and validates them.
type Rule struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Priority           int             `json:"priority"`
	Conditions         json.RawMessage `json:"conditions"`
	TargetPackageID    string          `json:"target_package_id"`
	MaxDiscountPercent float64         `json:"max_discount_percent"`
	UpsellPackageIDs   []string        `json:"upsell_package_ids"`
	Active             bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

const ruleColumns = `id, name, priority, conditions, target_package_id, max_discount_percent,
		upsell_package_ids, is_active, created_at, updated_at`

// ListActiveRules returns active rules in evaluation order: priority
// descending, then creation time, then id. An empty slice is returned when no
// rule is active.
func (r *PostgresRepository) ListActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM combo_rules
		WHERE is_active = true
		ORDER BY priority DESC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active rules rows: %w", err)
	}

	return rules, nil
}

// GetRule retrieves a rule by id regardless of its active flag. Returns
// pgx.ErrNoRows (wrapped) if not found.
func (r *PostgresRepository) GetRule(ctx context.Context, id string) (Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM combo_rules
		WHERE id = $1
	`, id))
	if err != nil {
		return Rule{}, fmt.Errorf("get rule: %w", err)
	}

	return rule, nil
}

// UpsertRule inserts or replaces a rule and notifies listeners in the same
// transaction. created_at is preserved on update.
func (r *PostgresRepository) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Rule{}, fmt.Errorf("begin upsert rule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	saved, err := scanRule(tx.QueryRow(ctx, `
		INSERT INTO combo_rules (id, name, priority, conditions, target_package_id,
			max_discount_percent, upsell_package_ids, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    priority = EXCLUDED.priority,
		    conditions = EXCLUDED.conditions,
		    target_package_id = EXCLUDED.target_package_id,
		    max_discount_percent = EXCLUDED.max_discount_percent,
		    upsell_package_ids = EXCLUDED.upsell_package_ids,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
		RETURNING `+ruleColumns,
		rule.ID,
		rule.Name,
		rule.Priority,
		ensureJSON(rule.Conditions, "{}"),
		rule.TargetPackageID,
		rule.MaxDiscountPercent,
		ensureStrings(rule.UpsellPackageIDs),
		rule.Active,
	))
	if err != nil {
		return Rule{}, fmt.Errorf("upsert rule: %w", err)
	}

	if err := r.notify(ctx, tx, EventTypeRuleUpserted, saved.ID); err != nil {
		return Rule{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Rule{}, fmt.Errorf("commit upsert rule tx: %w", err)
	}

	return saved, nil
}

// DeactivateRule clears a rule's active flag. Returns pgx.ErrNoRows (wrapped)
// if the rule does not exist.
func (r *PostgresRepository) DeactivateRule(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deactivate rule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	commandTag, err := tx.Exec(ctx, `
		UPDATE combo_rules SET is_active = false, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate rule: %w", pgx.ErrNoRows)
	}

	if err := r.notify(ctx, tx, EventTypeRuleDeactivated, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deactivate rule tx: %w", err)
	}

	return nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Priority,
		&rule.Conditions,
		&rule.TargetPackageID,
		&rule.MaxDiscountPercent,
		&rule.UpsellPackageIDs,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return Rule{}, fmt.Errorf("scan rule: %w", err)
	}

	return rule, nil
}
