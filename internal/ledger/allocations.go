package ledger

import (
	"context"
	"errors"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

// AddAllocation creates a budget line for (user, category, period). The
// tuple is unique: a second allocation for the same category and period
// fails with DuplicateCategoryError. The fresh partition is reconciled
// immediately so expenses recorded before the allocation existed are
// picked up rather than silently ignored.
func (s *Service) AddAllocation(ctx context.Context, a core.Allocation) (core.Allocation, error) {
	if err := a.Validate(); err != nil {
		return core.Allocation{}, err
	}

	unlock := s.locks.lock(a.UserID)
	defer unlock()

	p := core.Period{Year: a.Year, Month: a.Month}
	var created core.Allocation
	err := s.store.InTx(ctx, func(q store.Querier) error {
		if _, err := q.FindAllocation(ctx, a.UserID, a.Category, p); err == nil {
			return &core.DuplicateCategoryError{Category: a.Category, Year: a.Year, Month: a.Month}
		} else if !errors.Is(err, store.ErrNotFound) {
			return translate("check allocation", err)
		}

		id, err := q.InsertAllocation(ctx, a)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &core.DuplicateCategoryError{Category: a.Category, Year: a.Year, Month: a.Month}
			}
			return translate("add allocation", err)
		}

		if err := recompute(ctx, q, a.UserID, a.Category, p); err != nil {
			return reconcileErr(err)
		}

		created, err = q.GetAllocation(ctx, a.UserID, id)
		return translate("load allocation", err)
	})
	if err != nil {
		return core.Allocation{}, err
	}
	return created, nil
}

// UpdateAllocation renames a budget line and/or changes its allocated
// amount. The period is immutable; derived fields are recomputed from
// the (possibly new) category's expenses.
func (s *Service) UpdateAllocation(ctx context.Context, a core.Allocation) (core.Allocation, error) {
	unlock := s.locks.lock(a.UserID)
	defer unlock()

	var updated core.Allocation
	err := s.store.InTx(ctx, func(q store.Querier) error {
		existing, err := q.GetAllocation(ctx, a.UserID, a.ID)
		if err != nil {
			return translate("load allocation", err)
		}

		// Period comes from the stored row, never from input.
		a.Year, a.Month = existing.Year, existing.Month
		if err := a.Validate(); err != nil {
			return err
		}
		p := core.Period{Year: a.Year, Month: a.Month}

		if a.Category != existing.Category {
			if _, err := q.FindAllocation(ctx, a.UserID, a.Category, p); err == nil {
				return &core.DuplicateCategoryError{Category: a.Category, Year: a.Year, Month: a.Month}
			} else if !errors.Is(err, store.ErrNotFound) {
				return translate("check allocation", err)
			}
		}

		if err := q.UpdateAllocation(ctx, a); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return &core.DuplicateCategoryError{Category: a.Category, Year: a.Year, Month: a.Month}
			}
			return translate("update allocation", err)
		}

		if err := recompute(ctx, q, a.UserID, a.Category, p); err != nil {
			return reconcileErr(err)
		}

		updated, err = q.GetAllocation(ctx, a.UserID, a.ID)
		return translate("load allocation", err)
	})
	if err != nil {
		return core.Allocation{}, err
	}
	return updated, nil
}

// DeleteAllocation removes a budget line. Expenses that referenced the
// category are left in place: they keep showing up in expense listings
// and savings, and a later recompute of the now-missing partition is a
// no-op.
func (s *Service) DeleteAllocation(ctx context.Context, userID, id int64) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	return translate("delete allocation", s.store.DeleteAllocation(ctx, userID, id))
}

// ListAllocations returns the user's budget lines for a period, by
// category name ascending.
func (s *Service) ListAllocations(ctx context.Context, userID int64, p core.Period) ([]core.Allocation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	allocations, err := s.store.ListAllocations(ctx, userID, p)
	if err != nil {
		return nil, translate("list allocations", err)
	}
	return allocations, nil
}

// GetCategories returns the distinct allocation categories of a period,
// ascending.
func (s *Service) GetCategories(ctx context.Context, userID int64, p core.Period) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	categories, err := s.store.ListCategories(ctx, userID, p)
	if err != nil {
		return nil, translate("get categories", err)
	}
	return categories, nil
}
