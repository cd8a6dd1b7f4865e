package rules

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists posting rules in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, tenant_id, origin, subtype, financial_category_id, debit_account_id, credit_account_id, automatic, active, description, created_at, updated_at`

func scanRule(row pgx.Row) (PostingRule, error) {
	var rule PostingRule
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Origin, &rule.Subtype, &rule.FinancialCategoryID,
		&rule.DebitAccountID, &rule.CreditAccountID, &rule.Automatic, &rule.Active, &rule.Description,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PostingRule{}, ErrRuleNotFound
		}
		return PostingRule{}, err
	}
	return rule, nil
}

// Resolve selects the automatic active rule for (tenant, origin, category).
// When configuration anomalies leave more than one match, the lowest id wins
// so repeated calls stay deterministic.
func (r *Repository) Resolve(ctx context.Context, tenantID int64, origin Origin, categoryID int64) (PostingRule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM posting_rules
WHERE tenant_id=$1 AND origin=$2 AND financial_category_id=$3 AND automatic AND active
ORDER BY id ASC LIMIT 1`, tenantID, origin, categoryID)
	return scanRule(row)
}

// Insert stores a new rule.
func (r *Repository) Insert(ctx context.Context, in CreateInput) (PostingRule, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO posting_rules
(tenant_id, origin, subtype, financial_category_id, debit_account_id, credit_account_id, automatic, active, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8) RETURNING `+ruleColumns,
		in.TenantID, in.Origin, in.Subtype, in.FinancialCategoryID,
		in.DebitAccountID, in.CreditAccountID, in.Automatic, in.Description)
	return scanRule(row)
}

// List returns all rules for a tenant ordered by id.
func (r *Repository) List(ctx context.Context, tenantID int64) ([]PostingRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM posting_rules WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostingRule
	for rows.Next() {
		var rule PostingRule
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Origin, &rule.Subtype, &rule.FinancialCategoryID,
			&rule.DebitAccountID, &rule.CreditAccountID, &rule.Automatic, &rule.Active, &rule.Description,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Deactivate flips a rule inactive; resolution ignores inactive rules.
func (r *Repository) Deactivate(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE posting_rules SET active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
