package ledger

import (
	"context"
	"slices"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

// CopyPeriod carries the source period's allocation categories forward
// into the destination period. Categories already present in the
// destination are left untouched: this is a merge, never a replace.
// Returns the number of newly created rows; an empty source copies
// nothing and is not an error.
func (s *Service) CopyPeriod(ctx context.Context, userID int64, from, to core.Period) (int, error) {
	if err := from.Validate(); err != nil {
		return 0, err
	}
	if err := to.Validate(); err != nil {
		return 0, err
	}
	if from == to {
		return 0, core.ErrSamePeriod
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	copied := 0
	err := s.store.InTx(ctx, func(q store.Querier) error {
		source, err := q.ListAllocations(ctx, userID, from)
		if err != nil {
			return translate("list source allocations", err)
		}
		existing, err := q.ListCategories(ctx, userID, to)
		if err != nil {
			return translate("list destination categories", err)
		}

		for _, a := range source {
			if slices.Contains(existing, a.Category) {
				continue
			}
			if _, err := q.InsertAllocation(ctx, core.Allocation{
				UserID:    userID,
				Category:  a.Category,
				Year:      to.Year,
				Month:     to.Month,
				Allocated: a.Allocated,
			}); err != nil {
				return translate("copy allocation", err)
			}
			// Adopt any expenses already recorded in the destination
			// period for this category.
			if err := recompute(ctx, q, userID, a.Category, to); err != nil {
				return reconcileErr(err)
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}
