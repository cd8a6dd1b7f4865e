// Package reports consolidates journal data into income statement and
// balance sheet views. Builders are pure functions over repository rows;
// grouping follows each account's top-level ancestor category.
package reports

import (
	"sort"

	"github.com/meridian-fin/meridian/internal/coa"
)

// Group labels one income statement result group.
type Group string

const (
	GroupRevenue Group = "REVENUE"
	GroupCOGS    Group = "COGS"
	GroupExpense Group = "EXPENSE"
	GroupResult  Group = "RESULT"
)

// MonthlyLine is one account's aggregated movement in one calendar month,
// already tagged with its top-level ancestor category.
type MonthlyLine struct {
	Month    string
	Category coa.Category
	Debit    float64
	Credit   float64
}

// IncomeRow is one output row of the income statement.
type IncomeRow struct {
	Month  string  `json:"month"`
	Group  Group   `json:"group"`
	Amount float64 `json:"amount"`
}

var incomeGroupOrder = map[Group]int{
	GroupRevenue: 0,
	GroupCOGS:    1,
	GroupExpense: 2,
	GroupResult:  3,
}

func incomeGroup(category coa.Category) (Group, bool) {
	switch category {
	case coa.CategoryRevenue:
		return GroupRevenue, true
	case coa.CategoryCOGS:
		return GroupCOGS, true
	case coa.CategoryExpense:
		return GroupExpense, true
	}
	return "", false
}

// BuildIncomeStatement aggregates monthly lines into one row per
// (month, group) plus a RESULT row per month. Credit minus debit yields
// revenue as a positive contribution and costs and expenses as negative
// ones, so the result is the plain sum of the three groups.
func BuildIncomeStatement(lines []MonthlyLine) []IncomeRow {
	type key struct {
		month string
		group Group
	}
	totals := make(map[key]float64)
	results := make(map[string]float64)
	for _, line := range lines {
		group, ok := incomeGroup(line.Category)
		if !ok {
			continue
		}
		amount := line.Credit - line.Debit
		totals[key{line.Month, group}] += amount
		results[line.Month] += amount
	}

	rows := make([]IncomeRow, 0, len(totals)+len(results))
	for k, amount := range totals {
		rows = append(rows, IncomeRow{Month: k.month, Group: k.group, Amount: round2(amount)})
	}
	for month, amount := range results {
		rows = append(rows, IncomeRow{Month: month, Group: GroupResult, Amount: round2(amount)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Month != rows[j].Month {
			return rows[i].Month < rows[j].Month
		}
		return incomeGroupOrder[rows[i].Group] < incomeGroupOrder[rows[j].Group]
	})
	return rows
}
