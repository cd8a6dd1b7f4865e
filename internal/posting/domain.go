// Package posting turns resolved financial events into balanced double-entry
// journal entries. Entries are append-only and idempotent per source record
// and event name.
package posting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/meridian-fin/meridian/internal/rules"
)

// FinancialEvent is the decoded outbox payload for financial event names.
type FinancialEvent struct {
	EventName           string       `json:"eventName"`
	TenantID            int64        `json:"tenantId"`
	Origin              rules.Origin `json:"origin,omitempty"`
	Subtype             string       `json:"subtype,omitempty"`
	FinancialCategoryID int64        `json:"financialCategoryId"`
	SourceTable         string       `json:"sourceTable"`
	SourceID            int64        `json:"sourceId"`
	Amount              float64      `json:"amount"`
	EntryDate           string       `json:"entryDate"`
	Memo                string       `json:"memo,omitempty"`
	SupplierID          *int64       `json:"supplierId,omitempty"`
	CustomerID          *int64       `json:"customerId,omitempty"`
	FinancialAccountID  *int64       `json:"financialAccountId,omitempty"`
}

// JournalEntry is the header of one balanced posting.
type JournalEntry struct {
	ID                 int64         `json:"id"`
	TenantID           int64         `json:"tenantId"`
	EntryDate          time.Time     `json:"entryDate"`
	Memo               string        `json:"memo,omitempty"`
	SourceTable        string        `json:"sourceTable"`
	SourceID           int64         `json:"sourceId"`
	EventName          string        `json:"eventName"`
	SupplierID         *int64        `json:"supplierId,omitempty"`
	CustomerID         *int64        `json:"customerId,omitempty"`
	FinancialAccountID *int64        `json:"financialAccountId,omitempty"`
	TotalDebits        float64       `json:"totalDebits"`
	TotalCredits       float64       `json:"totalCredits"`
	CreatedAt          time.Time     `json:"createdAt"`
	Lines              []JournalLine `json:"lines"`
}

// JournalLine is one side of an entry. Exactly one of Debit and Credit is
// non-zero.
type JournalLine struct {
	ID        int64     `json:"id"`
	EntryID   int64     `json:"entryId"`
	AccountID int64     `json:"accountId"`
	Debit     float64   `json:"debit"`
	Credit    float64   `json:"credit"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome reports what Post did with an event.
type Outcome struct {
	Entry         *JournalEntry `json:"entry,omitempty"`
	Created       bool          `json:"created"`
	ManualPosting bool          `json:"manualPosting"`
}

var (
	// ErrEntryUnbalanced indicates total debits and credits diverge.
	ErrEntryUnbalanced = errors.New("posting: journal entry does not balance")
	// ErrAccountNotPostable indicates a rule account that is not a leaf.
	ErrAccountNotPostable = errors.New("posting: rule account does not accept postings")
	// ErrEntryNotFound indicates no journal entry for the lookup.
	ErrEntryNotFound = errors.New("posting: journal entry not found")
	// ErrPayloadMalformed indicates an undecodable or incomplete event payload.
	ErrPayloadMalformed = errors.New("posting: event payload malformed")
	// ErrAmountInvalid indicates a zero or negative event amount.
	ErrAmountInvalid = errors.New("posting: event amount must be positive")
)

// originByEvent maps financial event names to their posting origin.
var originByEvent = map[string]rules.Origin{
	"financial.payable.created":    rules.OriginPayableCreated,
	"financial.payable.paid":       rules.OriginPayablePaid,
	"financial.receivable.created": rules.OriginReceivableCreated,
	"financial.receivable.paid":    rules.OriginReceivablePaid,
}

// EventNames lists the event names this engine consumes.
func EventNames() []string {
	names := make([]string, 0, len(originByEvent))
	for name := range originByEvent {
		names = append(names, name)
	}
	return names
}

// DecodeEvent parses and validates an outbox payload. The origin is derived
// from the event name when the payload does not carry one.
func DecodeEvent(eventName string, payload json.RawMessage) (FinancialEvent, error) {
	var ev FinancialEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return FinancialEvent{}, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if ev.EventName == "" {
		ev.EventName = eventName
	}
	if ev.Origin == "" {
		origin, ok := originByEvent[ev.EventName]
		if !ok {
			return FinancialEvent{}, fmt.Errorf("%w: unknown event name %q", ErrPayloadMalformed, ev.EventName)
		}
		ev.Origin = origin
	}
	if !ev.Origin.Valid() {
		return FinancialEvent{}, fmt.Errorf("%w: invalid origin %q", ErrPayloadMalformed, ev.Origin)
	}
	if ev.TenantID == 0 || ev.FinancialCategoryID == 0 || ev.SourceTable == "" || ev.SourceID == 0 {
		return FinancialEvent{}, fmt.Errorf("%w: tenant, category and source are required", ErrPayloadMalformed)
	}
	if ev.Amount <= 0 {
		return FinancialEvent{}, ErrAmountInvalid
	}
	return ev, nil
}

// entryDate parses the payload date, defaulting to the event's processing day.
func (ev FinancialEvent) entryDate() time.Time {
	if ev.EntryDate != "" {
		if d, err := time.Parse("2006-01-02", ev.EntryDate); err == nil {
			return d
		}
	}
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// balanced reports whether debit and credit totals agree to the cent.
func balanced(debits, credits float64) bool {
	return fmt.Sprintf("%.2f", debits) == fmt.Sprintf("%.2f", credits)
}
