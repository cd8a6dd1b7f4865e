package reports

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian/internal/coa"
)

type memoryReportRepo struct {
	income   []IncomeLine
	balances []AccountBalance
	loads    int
}

func (r *memoryReportRepo) IncomeLines(ctx context.Context, tenantID int64, from, to time.Time) ([]IncomeLine, error) {
	r.loads++
	return r.income, nil
}

func (r *memoryReportRepo) BalanceLines(ctx context.Context, tenantID int64, asOf time.Time) ([]AccountBalance, error) {
	r.loads++
	return r.balances, nil
}

// flatPaths treats every account as its own root of the given type.
type flatPaths map[int64]coa.AccountType

func (p flatPaths) AncestryPath(ctx context.Context, accountID int64) ([]coa.Account, error) {
	t, ok := p[accountID]
	if !ok {
		return nil, coa.ErrAccountNotFound
	}
	return []coa.Account{{ID: accountID, Type: t}}, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIncomeStatementKeepsMonthsSeparate(t *testing.T) {
	repo := &memoryReportRepo{income: []IncomeLine{
		{AccountID: 1, Month: "2026-01", Credit: 1000},
		{AccountID: 2, Month: "2026-01", Debit: 300},
		{AccountID: 1, Month: "2026-02", Credit: 500},
		{AccountID: 3, Month: "2026-02", Debit: 120},
	}}
	paths := flatPaths{1: coa.AccountTypeRevenue, 2: coa.AccountTypeExpense, 3: coa.AccountTypeCOGS}
	svc := NewService(repo, paths, nil, slog.Default())

	rows, err := svc.IncomeStatement(context.Background(), 1, date(2026, 1, 1), date(2026, 2, 28))
	require.NoError(t, err)
	require.Equal(t, []IncomeRow{
		{Month: "2026-01", Group: GroupRevenue, Amount: 1000},
		{Month: "2026-01", Group: GroupExpense, Amount: -300},
		{Month: "2026-01", Group: GroupResult, Amount: 700},
		{Month: "2026-02", Group: GroupRevenue, Amount: 500},
		{Month: "2026-02", Group: GroupCOGS, Amount: -120},
		{Month: "2026-02", Group: GroupResult, Amount: 380},
	}, rows)
}

func TestBalanceSheetSeededLedgerHoldsIdentity(t *testing.T) {
	// Seed: {Asset +1000 / Equity +1000} then {Expense +200 / Asset -200}.
	repo := &memoryReportRepo{balances: []AccountBalance{
		{AccountID: 1, Type: coa.AccountTypeAssetCurrent, Debit: 1000, Credit: 200},
		{AccountID: 2, Type: coa.AccountTypeEquity, Credit: 1000},
		{AccountID: 3, Type: coa.AccountTypeExpense, Debit: 200},
	}}
	svc := NewService(repo, flatPaths{}, nil, slog.Default())

	sheet, err := svc.BalanceSheet(context.Background(), 1, date(2026, 3, 31))
	require.NoError(t, err)
	require.True(t, sheet.IdentityHolds)
	require.Equal(t, -200.0, sheet.CurrentResult)

	byGroup := make(map[coa.AccountType]float64)
	for _, row := range sheet.Rows {
		byGroup[row.Group] = row.Amount
	}
	require.Equal(t, 800.0, byGroup[coa.AccountTypeAssetCurrent])
	require.Zero(t, byGroup[coa.AccountTypeLiabilityCurrent])
	require.Zero(t, byGroup[coa.AccountTypeLiabilityNonCurrent])
	require.Equal(t, 1000.0, byGroup[coa.AccountTypeEquity])
}

func TestBalanceSheetFlagsBrokenIdentity(t *testing.T) {
	repo := &memoryReportRepo{balances: []AccountBalance{
		{AccountID: 1, Type: coa.AccountTypeAssetCurrent, Debit: 1000},
	}}
	svc := NewService(repo, flatPaths{}, nil, slog.Default())

	sheet, err := svc.BalanceSheet(context.Background(), 1, date(2026, 3, 31))
	require.NoError(t, err)
	require.False(t, sheet.IdentityHolds)
}

func TestReportCacheServesUntilBumped(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewCache(client, time.Minute)

	repo := &memoryReportRepo{income: []IncomeLine{{AccountID: 1, Month: "2026-01", Credit: 100}}}
	svc := NewService(repo, flatPaths{1: coa.AccountTypeRevenue}, cache, slog.Default())

	for range 3 {
		rows, err := svc.IncomeStatement(context.Background(), 1, date(2026, 1, 1), date(2026, 1, 31))
		require.NoError(t, err)
		require.Len(t, rows, 2)
	}
	require.Equal(t, 1, repo.loads)

	require.NoError(t, cache.Bump(context.Background()))
	_, err := svc.IncomeStatement(context.Background(), 1, date(2026, 1, 1), date(2026, 1, 31))
	require.NoError(t, err)
	require.Equal(t, 2, repo.loads)
}
