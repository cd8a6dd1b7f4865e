package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-fin/meridian/internal/observability"
	"github.com/meridian-fin/meridian/internal/outbox"
	"github.com/meridian-fin/meridian/internal/rules"
)

// RuleResolver resolves the automatic posting rule for an event.
type RuleResolver interface {
	Resolve(ctx context.Context, tenantID int64, origin rules.Origin, categoryID int64) (rules.PostingRule, error)
}

// LeafChecker reports whether an account accepts journal postings.
type LeafChecker interface {
	IsLeaf(ctx context.Context, accountID int64) (bool, error)
}

// CacheBumper invalidates cached report reads after a journal write.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// Engine posts financial events to the journal.
type Engine struct {
	repo     RepositoryPort
	resolver RuleResolver
	accounts LeafChecker
	cache    CacheBumper
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewEngine constructs the posting engine. cache and metrics may be nil.
func NewEngine(repo RepositoryPort, resolver RuleResolver, accounts LeafChecker, cache CacheBumper, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{repo: repo, resolver: resolver, accounts: accounts, cache: cache, logger: logger, metrics: metrics}
}

// Post resolves a rule for the event and writes one balanced two-line entry.
// A missing rule is a manual-posting outcome, not an error: the event is
// considered handled with no automatic entry. Re-posting the same
// (sourceTable, sourceID, eventName) returns the existing entry.
func (e *Engine) Post(ctx context.Context, ev FinancialEvent) (Outcome, error) {
	rule, err := e.resolver.Resolve(ctx, ev.TenantID, ev.Origin, ev.FinancialCategoryID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			e.logger.Info("manual posting required",
				slog.Int64("tenant", ev.TenantID),
				slog.String("origin", string(ev.Origin)),
				slog.Int64("category", ev.FinancialCategoryID))
			if e.metrics != nil {
				e.metrics.IncManualPosting()
			}
			return Outcome{ManualPosting: true}, nil
		}
		return Outcome{}, err
	}

	for _, accountID := range []int64{rule.DebitAccountID, rule.CreditAccountID} {
		leaf, err := e.accounts.IsLeaf(ctx, accountID)
		if err != nil {
			return Outcome{}, err
		}
		if !leaf {
			return Outcome{}, fmt.Errorf("%w: account %d", ErrAccountNotPostable, accountID)
		}
	}

	amount := round2(ev.Amount)
	entry := JournalEntry{
		TenantID:           ev.TenantID,
		EntryDate:          ev.entryDate(),
		Memo:               ev.Memo,
		SourceTable:        ev.SourceTable,
		SourceID:           ev.SourceID,
		EventName:          ev.EventName,
		SupplierID:         ev.SupplierID,
		CustomerID:         ev.CustomerID,
		FinancialAccountID: ev.FinancialAccountID,
		TotalDebits:        amount,
		TotalCredits:       amount,
		Lines: []JournalLine{
			{AccountID: rule.DebitAccountID, Debit: amount, Memo: ev.Memo},
			{AccountID: rule.CreditAccountID, Credit: amount, Memo: ev.Memo},
		},
	}
	if err := checkBalanced(entry); err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindBySourceEvent(ctx, ev.SourceTable, ev.SourceID, ev.EventName)
		if err == nil {
			outcome = Outcome{Entry: &existing, Created: false}
			return nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		saved, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		outcome = Outcome{Entry: &saved, Created: true}
		return nil
	})
	if errors.Is(err, errDuplicateEntry) {
		// A concurrent post won the insert race. The unique violation
		// aborted our transaction, so re-read in a fresh one.
		err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.FindBySourceEvent(ctx, ev.SourceTable, ev.SourceID, ev.EventName)
			if err != nil {
				return err
			}
			outcome = Outcome{Entry: &existing, Created: false}
			return nil
		})
	}
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Created {
		if e.metrics != nil {
			e.metrics.IncEntriesPosted()
		}
		e.logger.Info("journal entry posted",
			slog.Int64("entry", outcome.Entry.ID),
			slog.Int64("tenant", outcome.Entry.TenantID),
			slog.String("event", outcome.Entry.EventName),
			slog.Float64("amount", outcome.Entry.TotalDebits))
		if e.cache != nil {
			if err := e.cache.Bump(ctx); err != nil {
				e.logger.Warn("report cache bump failed", slog.Any("error", err))
			}
		}
	}
	return outcome, nil
}

// Consume adapts Post to the outbox consumer contract. Manual-posting and
// idempotent outcomes return nil so the dispatcher marks the event
// dispatched; leaf and infra failures return an error for retry.
func (e *Engine) Consume(ctx context.Context, event outbox.Event) error {
	ev, err := DecodeEvent(event.EventName, event.Payload)
	if err != nil {
		return err
	}
	_, err = e.Post(ctx, ev)
	return err
}

// RegisterConsumers binds the engine to every financial event name.
func (e *Engine) RegisterConsumers(registry *outbox.Registry) {
	for _, name := range EventNames() {
		registry.Register(name, outbox.ConsumerFunc(e.Consume))
	}
}

// checkBalanced verifies header totals match line sums and every line is
// single-sided with a non-negative amount.
func checkBalanced(entry JournalEntry) error {
	var debits, credits float64
	hasDebit, hasCredit := false, false
	for _, line := range entry.Lines {
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: negative line amount", ErrEntryUnbalanced)
		}
		if (line.Debit > 0) == (line.Credit > 0) {
			return fmt.Errorf("%w: line must be exactly one of debit or credit", ErrEntryUnbalanced)
		}
		if line.Debit > 0 {
			hasDebit = true
		}
		if line.Credit > 0 {
			hasCredit = true
		}
		debits += line.Debit
		credits += line.Credit
	}
	if !hasDebit || !hasCredit {
		return fmt.Errorf("%w: entry needs at least one debit and one credit line", ErrEntryUnbalanced)
	}
	if !balanced(debits, credits) || !balanced(debits, entry.TotalDebits) || !balanced(credits, entry.TotalCredits) {
		return fmt.Errorf("%w: debits %.2f credits %.2f", ErrEntryUnbalanced, debits, credits)
	}
	return nil
}
