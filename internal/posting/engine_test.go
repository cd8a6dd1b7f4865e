package posting

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-fin/meridian/internal/outbox"
	"github.com/meridian-fin/meridian/internal/rules"
)

type memoryJournalRepo struct {
	entries map[int64]JournalEntry
	nextID  int64
}

func newMemoryJournalRepo() *memoryJournalRepo {
	return &memoryJournalRepo{entries: make(map[int64]JournalEntry)}
}

func (r *memoryJournalRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryJournalRepo) FindBySourceEvent(ctx context.Context, sourceTable string, sourceID int64, eventName string) (JournalEntry, error) {
	for _, e := range r.entries {
		if e.SourceTable == sourceTable && e.SourceID == sourceID && e.EventName == eventName {
			return e, nil
		}
	}
	return JournalEntry{}, ErrEntryNotFound
}

func (r *memoryJournalRepo) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	if _, err := r.FindBySourceEvent(ctx, entry.SourceTable, entry.SourceID, entry.EventName); err == nil {
		return JournalEntry{}, errDuplicateEntry
	}
	r.nextID++
	entry.ID = r.nextID
	entry.CreatedAt = time.Now()
	for i := range entry.Lines {
		r.nextID++
		entry.Lines[i].ID = r.nextID
		entry.Lines[i].EntryID = entry.ID
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

func (r *memoryJournalRepo) ListBySource(ctx context.Context, sourceTable string, sourceID int64) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range r.entries {
		if e.SourceTable == sourceTable && e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubResolver struct {
	rule rules.PostingRule
	err  error
}

func (s stubResolver) Resolve(ctx context.Context, tenantID int64, origin rules.Origin, categoryID int64) (rules.PostingRule, error) {
	if s.err != nil {
		return rules.PostingRule{}, s.err
	}
	return s.rule, nil
}

type leafSet map[int64]bool

func (l leafSet) IsLeaf(ctx context.Context, accountID int64) (bool, error) {
	return l[accountID], nil
}

type bumpRecorder struct{ bumps int }

func (b *bumpRecorder) Bump(ctx context.Context) error {
	b.bumps++
	return nil
}

func testEvent() FinancialEvent {
	return FinancialEvent{
		EventName:           "financial.payable.created",
		TenantID:            1,
		Origin:              rules.OriginPayableCreated,
		FinancialCategoryID: 3,
		SourceTable:         "payables",
		SourceID:            42,
		Amount:              150.505,
		EntryDate:           "2026-02-10",
		Memo:                "supplier invoice",
	}
}

func testRule() rules.PostingRule {
	return rules.PostingRule{ID: 1, TenantID: 1, Origin: rules.OriginPayableCreated,
		FinancialCategoryID: 3, DebitAccountID: 10, CreditAccountID: 20, Automatic: true, Active: true}
}

func TestPostCreatesBalancedTwoLineEntry(t *testing.T) {
	repo := newMemoryJournalRepo()
	bumps := &bumpRecorder{}
	engine := NewEngine(repo, stubResolver{rule: testRule()}, leafSet{10: true, 20: true}, bumps, slog.Default(), nil)

	outcome, err := engine.Post(context.Background(), testEvent())
	require.NoError(t, err)
	require.True(t, outcome.Created)
	require.False(t, outcome.ManualPosting)

	entry := outcome.Entry
	require.Len(t, entry.Lines, 2)
	require.Equal(t, 150.51, entry.TotalDebits)
	require.Equal(t, entry.TotalDebits, entry.TotalCredits)
	require.Equal(t, int64(10), entry.Lines[0].AccountID)
	require.Equal(t, 150.51, entry.Lines[0].Debit)
	require.Zero(t, entry.Lines[0].Credit)
	require.Equal(t, int64(20), entry.Lines[1].AccountID)
	require.Equal(t, 150.51, entry.Lines[1].Credit)
	require.Zero(t, entry.Lines[1].Debit)
	require.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), entry.EntryDate)
	require.Equal(t, 1, bumps.bumps)
}

func TestPostIsIdempotentPerSourceEvent(t *testing.T) {
	repo := newMemoryJournalRepo()
	engine := NewEngine(repo, stubResolver{rule: testRule()}, leafSet{10: true, 20: true}, nil, slog.Default(), nil)

	first, err := engine.Post(context.Background(), testEvent())
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := engine.Post(context.Background(), testEvent())
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Entry.ID, second.Entry.ID)
	require.Len(t, repo.entries, 1)
}

func TestPostManualPostingWhenNoRule(t *testing.T) {
	repo := newMemoryJournalRepo()
	engine := NewEngine(repo, stubResolver{err: rules.ErrRuleNotFound}, leafSet{}, nil, slog.Default(), nil)

	outcome, err := engine.Post(context.Background(), testEvent())
	require.NoError(t, err)
	require.True(t, outcome.ManualPosting)
	require.False(t, outcome.Created)
	require.Nil(t, outcome.Entry)
	require.Empty(t, repo.entries)
}

func TestPostRejectsNonLeafAccount(t *testing.T) {
	repo := newMemoryJournalRepo()
	engine := NewEngine(repo, stubResolver{rule: testRule()}, leafSet{10: true}, nil, slog.Default(), nil)

	_, err := engine.Post(context.Background(), testEvent())
	require.ErrorIs(t, err, ErrAccountNotPostable)
	require.Empty(t, repo.entries)
}

func TestConsumeTreatsManualPostingAsHandled(t *testing.T) {
	engine := NewEngine(newMemoryJournalRepo(), stubResolver{err: rules.ErrRuleNotFound}, leafSet{}, nil, slog.Default(), nil)

	payload, err := json.Marshal(testEvent())
	require.NoError(t, err)
	err = engine.Consume(context.Background(), outbox.Event{
		EventName: "financial.payable.created",
		TenantID:  1,
		Payload:   payload,
	})
	require.NoError(t, err)
}

func TestConsumeFailsForNonLeafAccount(t *testing.T) {
	engine := NewEngine(newMemoryJournalRepo(), stubResolver{rule: testRule()}, leafSet{}, nil, slog.Default(), nil)

	payload, err := json.Marshal(testEvent())
	require.NoError(t, err)
	err = engine.Consume(context.Background(), outbox.Event{
		EventName: "financial.payable.created",
		TenantID:  1,
		Payload:   payload,
	})
	require.ErrorIs(t, err, ErrAccountNotPostable)
}

func TestDecodeEventDerivesOriginFromName(t *testing.T) {
	payload := []byte(`{"tenantId":1,"financialCategoryId":2,"sourceTable":"receivables","sourceId":7,"amount":99.9}`)
	ev, err := DecodeEvent("financial.receivable.paid", payload)
	require.NoError(t, err)
	require.Equal(t, rules.OriginReceivablePaid, ev.Origin)
	require.Equal(t, "financial.receivable.paid", ev.EventName)
}

func TestDecodeEventRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		name    string
		payload string
		want    error
	}{
		"not json":       {"financial.payable.created", `{`, ErrPayloadMalformed},
		"unknown event":  {"financial.mystery", `{"tenantId":1,"financialCategoryId":2,"sourceTable":"t","sourceId":1,"amount":1}`, ErrPayloadMalformed},
		"missing tenant": {"financial.payable.created", `{"financialCategoryId":2,"sourceTable":"t","sourceId":1,"amount":1}`, ErrPayloadMalformed},
		"zero amount":    {"financial.payable.created", `{"tenantId":1,"financialCategoryId":2,"sourceTable":"t","sourceId":1,"amount":0}`, ErrAmountInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent(tc.name, []byte(tc.payload))
			require.ErrorIs(t, err, tc.want)
		})
	}
}
