// Package coa implements the hierarchical chart of accounts.
package coa

import (
	"errors"
	"fmt"
	"time"
)

// AccountType enumerates chart of accounts classifications.
type AccountType string

const (
	AccountTypeAssetCurrent        AccountType = "ASSET_CURRENT"
	AccountTypeAssetNonCurrent     AccountType = "ASSET_NONCURRENT"
	AccountTypeLiabilityCurrent    AccountType = "LIABILITY_CURRENT"
	AccountTypeLiabilityNonCurrent AccountType = "LIABILITY_NONCURRENT"
	AccountTypeEquity              AccountType = "EQUITY"
	AccountTypeRevenue             AccountType = "REVENUE"
	AccountTypeExpense             AccountType = "EXPENSE"
	AccountTypeCOGS                AccountType = "COGS"
)

// Category is the broad classification shared by a node and all its ancestors.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
	CategoryCOGS      Category = "COGS"
)

// Category maps an account type to its broad category. Sub-classification
// (current vs non-current) may vary between a node and its ancestors; the
// category may not.
func (t AccountType) Category() Category {
	switch t {
	case AccountTypeAssetCurrent, AccountTypeAssetNonCurrent:
		return CategoryAsset
	case AccountTypeLiabilityCurrent, AccountTypeLiabilityNonCurrent:
		return CategoryLiability
	case AccountTypeEquity:
		return CategoryEquity
	case AccountTypeRevenue:
		return CategoryRevenue
	case AccountTypeExpense:
		return CategoryExpense
	case AccountTypeCOGS:
		return CategoryCOGS
	}
	return ""
}

// DebitNormal reports whether balances of this type grow on the debit side.
func (t AccountType) DebitNormal() bool {
	switch t.Category() {
	case CategoryAsset, CategoryExpense, CategoryCOGS:
		return true
	}
	return false
}

// Valid reports whether the account type is a known enum value.
func (t AccountType) Valid() bool {
	return t.Category() != ""
}

// Account models a chart of accounts node.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	AcceptsPosting bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateInput groups fields required to create an account.
type CreateInput struct {
	Code           string
	Name           string
	Type           AccountType
	ParentID       *int64
	AcceptsPosting bool
}

var (
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("coa: account not found")
	// ErrParentNotFound indicates the referenced parent does not exist.
	ErrParentNotFound = errors.New("coa: parent account not found")
	// ErrCategoryMismatch indicates a child whose broad category differs from its parent.
	ErrCategoryMismatch = errors.New("coa: child category must match parent category")
	// ErrParentCycle indicates the parent chain loops back on itself.
	ErrParentCycle = errors.New("coa: parent chain contains a cycle")
	// ErrCodeTaken indicates a duplicate account code.
	ErrCodeTaken = errors.New("coa: account code already in use")
)

// Validate ensures creation input meets minimum criteria.
func (in CreateInput) Validate() error {
	if in.Code == "" {
		return errors.New("coa: code required")
	}
	if in.Name == "" {
		return errors.New("coa: name required")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("coa: unknown account type %q", in.Type)
	}
	return nil
}
