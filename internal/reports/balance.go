package reports

import (
	"math"
	"sort"
	"time"

	"github.com/meridian-fin/meridian/internal/coa"
)

// identityTolerance absorbs cent-level rounding in the accounting identity.
const identityTolerance = 0.01

// AccountBalance is one leaf account's cumulative movement up to the as-of
// date.
type AccountBalance struct {
	AccountID int64
	Type      coa.AccountType
	Debit     float64
	Credit    float64
}

// GroupRow is one balance sheet group total.
type GroupRow struct {
	Group  coa.AccountType `json:"group"`
	Amount float64         `json:"amount"`
}

// BalanceSheet is the structured balance sheet response. CurrentResult is
// the accumulated result of the income accounts, folded into the identity
// check alongside equity.
type BalanceSheet struct {
	AsOf          time.Time  `json:"asOf"`
	Rows          []GroupRow `json:"rows"`
	CurrentResult float64    `json:"currentResult"`
	IdentityHolds bool       `json:"identityHolds"`
}

var balanceGroupOrder = map[coa.AccountType]int{
	coa.AccountTypeAssetCurrent:        0,
	coa.AccountTypeAssetNonCurrent:     1,
	coa.AccountTypeLiabilityCurrent:    2,
	coa.AccountTypeLiabilityNonCurrent: 3,
	coa.AccountTypeEquity:              4,
}

// BuildBalanceSheet groups sign-adjusted leaf balances into the five balance
// sheet groups and checks the accounting identity
// assets == liabilities + equity + current result. A violation is reported,
// never corrected.
func BuildBalanceSheet(asOf time.Time, balances []AccountBalance) BalanceSheet {
	totals := make(map[coa.AccountType]float64)
	var assets, liabilities, equity, result float64

	for _, b := range balances {
		var amount float64
		if b.Type.DebitNormal() {
			amount = b.Debit - b.Credit
		} else {
			amount = b.Credit - b.Debit
		}
		switch b.Type.Category() {
		case coa.CategoryAsset:
			totals[b.Type] += amount
			assets += amount
		case coa.CategoryLiability:
			totals[b.Type] += amount
			liabilities += amount
		case coa.CategoryEquity:
			totals[b.Type] += amount
			equity += amount
		case coa.CategoryRevenue:
			result += amount
		case coa.CategoryExpense, coa.CategoryCOGS:
			result -= amount
		}
	}

	rows := make([]GroupRow, 0, len(balanceGroupOrder))
	for group := range balanceGroupOrder {
		rows = append(rows, GroupRow{Group: group, Amount: round2(totals[group])})
	}
	sort.Slice(rows, func(i, j int) bool {
		return balanceGroupOrder[rows[i].Group] < balanceGroupOrder[rows[j].Group]
	})

	return BalanceSheet{
		AsOf:          asOf,
		Rows:          rows,
		CurrentResult: round2(result),
		IdentityHolds: math.Abs(assets-(liabilities+equity+result)) <= identityTolerance,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
