package core

import "testing"

func TestBudgetUsedPct(t *testing.T) {
	cases := []struct {
		spent, income int64
		want          float64
	}{
		{5000, 10000, 50},
		{3333, 10000, 33.33},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{150, 0, 0}, // zero income never errors, never NaN
		{0, 0, 0},
		{12000, 10000, 120}, // overspending goes past 100
	}
	for _, tc := range cases {
		got := BudgetUsedPct(Money{Cents: tc.spent}, Money{Cents: tc.income})
		if got != tc.want {
			t.Fatalf("BudgetUsedPct(%d, %d) = %v, want %v", tc.spent, tc.income, got, tc.want)
		}
	}
}

func TestNewPeriodSummary(t *testing.T) {
	s := NewPeriodSummary(Period{2025, 6}, Money{Cents: 200000}, Money{Cents: 150000}, Money{Cents: 50000})
	if s.Year != 2025 || s.Month != 6 {
		t.Fatalf("period = %d-%d, want 2025-6", s.Year, s.Month)
	}
	if s.Balance.Cents != 100000 {
		t.Fatalf("Balance = %d, want 100000", s.Balance.Cents)
	}
	if s.Savings.Cents != 150000 {
		t.Fatalf("Savings = %d, want 150000", s.Savings.Cents)
	}
	if s.BudgetUsedPct != 25 {
		t.Fatalf("BudgetUsedPct = %v, want 25", s.BudgetUsedPct)
	}
}
