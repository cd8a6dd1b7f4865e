package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/coa"
)

// IncomeLine is one account's movement in one calendar month, before group
// tagging.
type IncomeLine struct {
	AccountID int64
	Month     string
	Debit     float64
	Credit    float64
}

// RepositoryPort abstracts the journal read queries behind the aggregator.
type RepositoryPort interface {
	IncomeLines(ctx context.Context, tenantID int64, from, to time.Time) ([]IncomeLine, error)
	BalanceLines(ctx context.Context, tenantID int64, asOf time.Time) ([]AccountBalance, error)
}

// Repository reads journal aggregates from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// IncomeLines aggregates result-account movement per account per month over
// the date range.
func (r *Repository) IncomeLines(ctx context.Context, tenantID int64, from, to time.Time) ([]IncomeLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.account_id, to_char(e.entry_date, 'YYYY-MM') AS month,
COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.tenant_id = $1 AND e.entry_date >= $2 AND e.entry_date <= $3
  AND a.type IN ('REVENUE','EXPENSE','COGS')
GROUP BY l.account_id, month
ORDER BY month, l.account_id`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []IncomeLine
	for rows.Next() {
		var l IncomeLine
		if err := rows.Scan(&l.AccountID, &l.Month, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// BalanceLines aggregates cumulative movement per leaf account up to the
// as-of date, across every category so the builder can derive the current
// result.
func (r *Repository) BalanceLines(ctx context.Context, tenantID int64, asOf time.Time) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.account_id, a.type,
COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.tenant_id = $1 AND e.entry_date <= $2 AND a.accepts_posting
GROUP BY l.account_id, a.type
ORDER BY l.account_id`, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		var accountType string
		if err := rows.Scan(&b.AccountID, &accountType, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		b.Type = coa.AccountType(accountType)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
