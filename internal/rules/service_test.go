package rules

import (
	"context"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRuleRepo struct {
	rules  map[int64]PostingRule
	nextID int64
}

func newMemoryRuleRepo() *memoryRuleRepo {
	return &memoryRuleRepo{rules: make(map[int64]PostingRule)}
}

func (r *memoryRuleRepo) Resolve(ctx context.Context, tenantID int64, origin Origin, categoryID int64) (PostingRule, error) {
	var matches []PostingRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Origin == origin && rule.FinancialCategoryID == categoryID &&
			rule.Automatic && rule.Active {
			matches = append(matches, rule)
		}
	}
	if len(matches) == 0 {
		return PostingRule{}, ErrRuleNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches[0], nil
}

func (r *memoryRuleRepo) Insert(ctx context.Context, in CreateInput) (PostingRule, error) {
	r.nextID++
	rule := PostingRule{
		ID:                  r.nextID,
		TenantID:            in.TenantID,
		Origin:              in.Origin,
		Subtype:             in.Subtype,
		FinancialCategoryID: in.FinancialCategoryID,
		DebitAccountID:      in.DebitAccountID,
		CreditAccountID:     in.CreditAccountID,
		Automatic:           in.Automatic,
		Active:              true,
		Description:         in.Description,
	}
	r.rules[rule.ID] = rule
	return rule, nil
}

func (r *memoryRuleRepo) List(ctx context.Context, tenantID int64) ([]PostingRule, error) {
	var out []PostingRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRuleRepo) Deactivate(ctx context.Context, id int64) error {
	rule, ok := r.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	rule.Active = false
	r.rules[id] = rule
	return nil
}

type allLeaves struct{ summary map[int64]bool }

func (c allLeaves) IsLeaf(ctx context.Context, accountID int64) (bool, error) {
	return !c.summary[accountID], nil
}

func TestResolveTieBreaksOnLowestID(t *testing.T) {
	repo := newMemoryRuleRepo()
	svc := NewService(repo, allLeaves{}, slog.Default())

	input := CreateInput{
		TenantID: 7, Origin: OriginPayableCreated, FinancialCategoryID: 3,
		DebitAccountID: 10, CreditAccountID: 20, Automatic: true,
	}
	first, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), input)
	require.NoError(t, err)

	for range 5 {
		rule, err := svc.Resolve(context.Background(), 7, OriginPayableCreated, 3)
		require.NoError(t, err)
		require.Equal(t, first.ID, rule.ID)
	}
}

func TestResolveNotFoundIsRecoverable(t *testing.T) {
	svc := NewService(newMemoryRuleRepo(), allLeaves{}, slog.Default())
	_, err := svc.Resolve(context.Background(), 1, OriginReceivablePaid, 99)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestResolveIgnoresInactiveAndManualRules(t *testing.T) {
	repo := newMemoryRuleRepo()
	svc := NewService(repo, allLeaves{}, slog.Default())

	manual, err := svc.Create(context.Background(), CreateInput{
		TenantID: 1, Origin: OriginPayablePaid, FinancialCategoryID: 2,
		DebitAccountID: 10, CreditAccountID: 20, Automatic: false,
	})
	require.NoError(t, err)
	_ = manual

	inactive, err := svc.Create(context.Background(), CreateInput{
		TenantID: 1, Origin: OriginPayablePaid, FinancialCategoryID: 2,
		DebitAccountID: 10, CreditAccountID: 20, Automatic: true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(context.Background(), inactive.ID))

	_, err = svc.Resolve(context.Background(), 1, OriginPayablePaid, 2)
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestCreateRejectsSameAccount(t *testing.T) {
	svc := NewService(newMemoryRuleRepo(), allLeaves{}, slog.Default())
	_, err := svc.Create(context.Background(), CreateInput{
		TenantID: 1, Origin: OriginPayableCreated, FinancialCategoryID: 1,
		DebitAccountID: 5, CreditAccountID: 5, Automatic: true,
	})
	require.ErrorIs(t, err, ErrSameAccount)
}

func TestCreateRejectsSummaryAccounts(t *testing.T) {
	svc := NewService(newMemoryRuleRepo(), allLeaves{summary: map[int64]bool{20: true}}, slog.Default())
	_, err := svc.Create(context.Background(), CreateInput{
		TenantID: 1, Origin: OriginPayableCreated, FinancialCategoryID: 1,
		DebitAccountID: 10, CreditAccountID: 20, Automatic: true,
	})
	require.ErrorIs(t, err, ErrAccountNotPostable)
}
