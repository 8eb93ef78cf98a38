package ledger

import (
	"context"

	"bilancio/internal/core"
)

// PeriodSummary derives the dashboard figures for one user and period.
// Read-only, recomputed on demand; total_spent comes from the
// allocation rows' derived fields, which reconciliation keeps equal to
// the matching expenses.
func (s *Service) PeriodSummary(ctx context.Context, userID int64, p core.Period) (core.PeriodSummary, error) {
	if err := p.Validate(); err != nil {
		return core.PeriodSummary{}, err
	}

	income, err := s.store.SumIncomes(ctx, userID, p)
	if err != nil {
		return core.PeriodSummary{}, translate("sum incomes", err)
	}
	allocated, spent, err := s.store.SumAllocations(ctx, userID, p)
	if err != nil {
		return core.PeriodSummary{}, translate("sum allocations", err)
	}

	return core.NewPeriodSummary(p,
		core.Money{Cents: income},
		core.Money{Cents: allocated},
		core.Money{Cents: spent}), nil
}

// LiquidityByMonth reports income minus allocated per month of a year:
// the cash left unearmarked. With household scope the figure is broken
// out per member, months ascending then member name ascending; without
// it a single figure per month for the caller. Months with no income
// and no allocations are omitted, not zero-filled. A caller without a
// household asking for household scope gets their own rows.
func (s *Service) LiquidityByMonth(ctx context.Context, userID int64, year int, householdScope bool) ([]core.LiquidityEntry, error) {
	if err := (core.Period{Year: year, Month: 1}).Validate(); err != nil {
		return nil, err
	}

	type member struct {
		id   int64
		name string
	}
	members := []member{{id: userID}}

	if householdScope {
		caller, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return nil, translate("load user", err)
		}
		if caller.HouseholdID != nil {
			users, err := s.store.ListHouseholdMembers(ctx, *caller.HouseholdID)
			if err != nil {
				return nil, translate("list household members", err)
			}
			members = members[:0]
			for _, u := range users {
				members = append(members, member{id: u.ID, name: u.FullName})
			}
		} else {
			members[0].name = caller.FullName
		}
	}

	type memberTotals struct {
		member
		income    map[int]int64
		allocated map[int]int64
	}
	totals := make([]memberTotals, 0, len(members))
	for _, m := range members {
		income, err := s.store.IncomeTotalsByMonth(ctx, m.id, year)
		if err != nil {
			return nil, translate("income totals", err)
		}
		allocated, err := s.store.AllocationTotalsByMonth(ctx, m.id, year)
		if err != nil {
			return nil, translate("allocation totals", err)
		}
		totals = append(totals, memberTotals{member: m, income: income, allocated: allocated})
	}

	// Members arrive sorted by full name, so month-major iteration
	// yields the contract order.
	var entries []core.LiquidityEntry
	for month := 1; month <= 12; month++ {
		for _, t := range totals {
			income, hasIncome := t.income[month]
			allocated, hasAllocated := t.allocated[month]
			if !hasIncome && !hasAllocated {
				continue
			}
			entries = append(entries, core.LiquidityEntry{
				Month:     month,
				Member:    t.name,
				Liquidity: core.Money{Cents: income - allocated},
			})
		}
	}
	return entries, nil
}
