package ledger

import (
	"context"
	"errors"
	"fmt"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

// recompute rebuilds the derived fields of one (user, category, period)
// allocation partition by summing its expenses from scratch. Summing
// from scratch rather than applying deltas is deliberate: deltas drift.
// A missing partition is a no-op, which is what makes orphaned expenses
// harmless. Idempotent.
func recompute(ctx context.Context, q store.Querier, userID int64, category string, p core.Period) error {
	alloc, err := q.FindAllocation(ctx, userID, category, p)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load allocation: %w", err)
	}

	spent, err := q.SumExpenses(ctx, userID, category, p)
	if err != nil {
		return fmt.Errorf("sum expenses: %w", err)
	}

	balance := alloc.Allocated.Cents - spent
	if err := q.SetAllocationDerived(ctx, alloc.ID, spent, balance); err != nil {
		return fmt.Errorf("store derived fields: %w", err)
	}
	return nil
}

// reconcileErr marks a recompute failure so the caller's transaction
// rolls back and the HTTP layer can report it distinctly.
func reconcileErr(err error) error {
	return fmt.Errorf("%w: %w", core.ErrReconciliation, err)
}
