package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-fin/meridian/internal/coa"
)

// PathResolver walks the chart of accounts from root to node.
type PathResolver interface {
	AncestryPath(ctx context.Context, accountID int64) ([]coa.Account, error)
}

// Service builds the two financial reports, memoising results in the
// versioned cache.
type Service struct {
	repo   RepositoryPort
	paths  PathResolver
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs the report service. cache may be nil.
func NewService(repo RepositoryPort, paths PathResolver, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, paths: paths, cache: cache, logger: logger}
}

// IncomeStatement aggregates journal lines over the date range into one row
// per (month, group) plus a RESULT row per month.
func (s *Service) IncomeStatement(ctx context.Context, tenantID int64, from, to time.Time) ([]IncomeRow, error) {
	key, err := s.cache.BuildKey(ctx, keyIncome(tenantID, from, to)...)
	if err != nil {
		return nil, err
	}
	var rows []IncomeRow
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (any, error) {
		return s.buildIncomeStatement(ctx, tenantID, from, to)
	})
	return rows, err
}

func (s *Service) buildIncomeStatement(ctx context.Context, tenantID int64, from, to time.Time) ([]IncomeRow, error) {
	lines, err := s.repo.IncomeLines(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	categories := make(map[int64]coa.Category)
	tagged := make([]MonthlyLine, 0, len(lines))
	for _, line := range lines {
		category, ok := categories[line.AccountID]
		if !ok {
			category, err = s.rootCategory(ctx, line.AccountID)
			if err != nil {
				return nil, err
			}
			categories[line.AccountID] = category
		}
		tagged = append(tagged, MonthlyLine{
			Month:    line.Month,
			Category: category,
			Debit:    line.Debit,
			Credit:   line.Credit,
		})
	}
	return BuildIncomeStatement(tagged), nil
}

// BalanceSheet groups cumulative leaf balances as of one date and checks the
// accounting identity. An identity violation indicates an upstream posting
// bug and is logged loudly, never hidden.
func (s *Service) BalanceSheet(ctx context.Context, tenantID int64, asOf time.Time) (BalanceSheet, error) {
	key, err := s.cache.BuildKey(ctx, keyBalance(tenantID, asOf)...)
	if err != nil {
		return BalanceSheet{}, err
	}
	var sheet BalanceSheet
	err = s.cache.FetchJSON(ctx, key, &sheet, func(ctx context.Context) (any, error) {
		balances, err := s.repo.BalanceLines(ctx, tenantID, asOf)
		if err != nil {
			return nil, err
		}
		built := BuildBalanceSheet(asOf, balances)
		if !built.IdentityHolds {
			s.logger.Error("balance sheet identity violated",
				slog.Int64("tenant", tenantID),
				slog.Time("as_of", asOf))
		}
		return built, nil
	})
	return sheet, err
}

// rootCategory returns the category of the account's top-level ancestor.
func (s *Service) rootCategory(ctx context.Context, accountID int64) (coa.Category, error) {
	path, err := s.paths.AncestryPath(ctx, accountID)
	if err != nil {
		return "", err
	}
	if len(path) == 0 {
		return "", coa.ErrAccountNotFound
	}
	return path[0].Type.Category(), nil
}
