// Package rules resolves configured posting rules for financial events.
package rules

import (
	"errors"
	"fmt"
	"time"
)

// Origin enumerates the business transaction kinds that raise financial events.
type Origin string

const (
	OriginPayableCreated    Origin = "PAYABLE_CREATED"
	OriginPayablePaid       Origin = "PAYABLE_PAID"
	OriginReceivableCreated Origin = "RECEIVABLE_CREATED"
	OriginReceivablePaid    Origin = "RECEIVABLE_PAID"
)

// Valid reports whether the origin is a known enum value.
func (o Origin) Valid() bool {
	switch o {
	case OriginPayableCreated, OriginPayablePaid, OriginReceivableCreated, OriginReceivablePaid:
		return true
	}
	return false
}

// PostingRule maps (tenant, origin, financial category) to a debit/credit account pair.
type PostingRule struct {
	ID                  int64
	TenantID            int64
	Origin              Origin
	Subtype             string
	FinancialCategoryID int64
	DebitAccountID      int64
	CreditAccountID     int64
	Automatic           bool
	Active              bool
	Description         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateInput groups fields required to configure a rule.
type CreateInput struct {
	TenantID            int64
	Origin              Origin
	Subtype             string
	FinancialCategoryID int64
	DebitAccountID      int64
	CreditAccountID     int64
	Automatic           bool
	Description         string
}

var (
	// ErrRuleNotFound indicates no automatic rule matches; callers treat this as
	// "manual posting required", not as a failure.
	ErrRuleNotFound = errors.New("rules: no matching posting rule")
	// ErrSameAccount indicates debit and credit reference the same account.
	ErrSameAccount = errors.New("rules: debit and credit accounts must differ")
	// ErrAccountNotPostable indicates a configured account is not a leaf.
	ErrAccountNotPostable = errors.New("rules: configured account does not accept postings")
)

// Validate ensures creation input meets minimum criteria.
func (in CreateInput) Validate() error {
	if in.TenantID == 0 {
		return errors.New("rules: tenant required")
	}
	if !in.Origin.Valid() {
		return fmt.Errorf("rules: unknown origin %q", in.Origin)
	}
	if in.FinancialCategoryID == 0 {
		return errors.New("rules: financial category required")
	}
	if in.DebitAccountID == 0 || in.CreditAccountID == 0 {
		return errors.New("rules: debit and credit accounts required")
	}
	if in.DebitAccountID == in.CreditAccountID {
		return ErrSameAccount
	}
	return nil
}
