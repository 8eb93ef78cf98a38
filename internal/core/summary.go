package core

import "math"

// PeriodSummary is the dashboard view of one user's period: income,
// budget, actuals, and the derived balance/savings figures.
type PeriodSummary struct {
	Year           int
	Month          int // 1-12
	TotalIncome    Money
	TotalAllocated Money
	TotalSpent     Money
	Balance        Money // allocated minus spent
	Savings        Money // income minus spent
	BudgetUsedPct  float64
}

// LiquidityEntry is one row of the liquidity-by-month view: income minus
// allocated for one month, optionally broken out per household member.
type LiquidityEntry struct {
	Month     int    // 1-12
	Member    string // empty outside household scope
	Liquidity Money
}

// BudgetUsedPct returns spent as a percentage of income, rounded to two
// decimals. Zero income yields 0, never a division error.
func BudgetUsedPct(spent, income Money) float64 {
	if income.Cents <= 0 {
		return 0
	}
	pct := float64(spent.Cents) / float64(income.Cents) * 100
	return math.Round(pct*100) / 100
}

// NewPeriodSummary assembles the derived figures from the three totals.
func NewPeriodSummary(p Period, income, allocated, spent Money) PeriodSummary {
	return PeriodSummary{
		Year:           p.Year,
		Month:          p.Month,
		TotalIncome:    income,
		TotalAllocated: allocated,
		TotalSpent:     spent,
		Balance:        Money{Cents: allocated.Cents - spent.Cents},
		Savings:        Money{Cents: income.Cents - spent.Cents},
		BudgetUsedPct:  BudgetUsedPct(spent, income),
	}
}
