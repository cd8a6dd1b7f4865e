package posting

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-fin/meridian/internal/platform/db"
)

// errDuplicateEntry signals the unique (source_table, source_id, event_name)
// index fired. It never escapes the engine: the race loser re-reads the
// winner's entry.
var errDuplicateEntry = errors.New("posting: duplicate journal entry")

// TxRepository exposes transactional journal operations.
type TxRepository interface {
	FindBySourceEvent(ctx context.Context, sourceTable string, sourceID int64, eventName string) (JournalEntry, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
}

// RepositoryPort abstracts journal persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBySource(ctx context.Context, sourceTable string, sourceID int64) ([]JournalEntry, error)
}

// Repository persists journal entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("posting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, tenant_id, entry_date, memo, source_table, source_id, event_name, supplier_id, customer_id, financial_account_id, total_debits, total_credits, created_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.EntryDate, &e.Memo, &e.SourceTable, &e.SourceID, &e.EventName,
		&e.SupplierID, &e.CustomerID, &e.FinancialAccountID, &e.TotalDebits, &e.TotalCredits, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

// ListBySource returns every entry for a business record, lines included,
// oldest first. Used by the audit endpoint.
func (r *Repository) ListBySource(ctx context.Context, sourceTable string, sourceID int64) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_table=$1 AND source_id=$2 ORDER BY id`, sourceTable, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EntryDate, &e.Memo, &e.SourceTable, &e.SourceID, &e.EventName,
			&e.SupplierID, &e.CustomerID, &e.FinancialAccountID, &e.TotalDebits, &e.TotalCredits, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		lines, err := r.listLines(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

func (r *Repository) listLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.Memo, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) FindBySourceEvent(ctx context.Context, sourceTable string, sourceID int64, eventName string) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_table=$1 AND source_id=$2 AND event_name=$3`, sourceTable, sourceID, eventName))
	if err != nil {
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, memo, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id`, entry.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.Memo, &l.CreatedAt); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, l)
	}
	return entry, rows.Err()
}

// InsertEntry writes the header and its lines in the caller's transaction.
func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(tenant_id, entry_date, memo, source_table, source_id, event_name, supplier_id, customer_id, financial_account_id, total_debits, total_credits)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+entryColumns,
		entry.TenantID, entry.EntryDate, entry.Memo, entry.SourceTable, entry.SourceID, entry.EventName,
		entry.SupplierID, entry.CustomerID, entry.FinancialAccountID, entry.TotalDebits, entry.TotalCredits)
	saved, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return JournalEntry{}, errDuplicateEntry
		}
		return JournalEntry{}, err
	}
	for _, line := range entry.Lines {
		var l JournalLine
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5) RETURNING id, entry_id, account_id, debit, credit, memo, created_at`,
			saved.ID, line.AccountID, line.Debit, line.Credit, line.Memo).
			Scan(&l.ID, &l.EntryID, &l.AccountID, &l.Debit, &l.Credit, &l.Memo, &l.CreatedAt)
		if err != nil {
			return JournalEntry{}, err
		}
		saved.Lines = append(saved.Lines, l)
	}
	return saved, nil
}
