package ledger

import (
	"context"

	"bilancio/internal/core"
	"bilancio/internal/store"

	"github.com/google/uuid"
)

// AddExpense inserts an expense and reconciles its allocation partition
// in the same transaction: if recompute fails the insert is rolled back
// rather than leaving spent/balance stale. The export message goes out
// only after the commit.
func (s *Service) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	unlock := s.locks.lock(e.UserID)
	defer unlock()

	e.ExportRef = uuid.NewString()
	err := s.store.InTx(ctx, func(q store.Querier) error {
		id, err := q.InsertExpense(ctx, e)
		if err != nil {
			return translate("add expense", err)
		}
		e.ID = id

		if err := recompute(ctx, q, e.UserID, e.Category, e.Date.Period()); err != nil {
			return reconcileErr(err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	e.Version = 1
	e.ExportStatus = core.ExportStatusPending
	s.publishExport(ctx, e.ID, e.Version)
	return e, nil
}

// UpdateExpense replaces an expense's content. When the category or the
// date's period moved, the old partition is reconciled as well as the
// new one, all inside the expense's transaction.
func (s *Service) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	unlock := s.locks.lock(e.UserID)
	defer unlock()

	var old core.Expense
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		old, err = q.GetExpense(ctx, e.UserID, e.ID)
		if err != nil {
			return translate("load expense", err)
		}

		if err := q.UpdateExpense(ctx, e); err != nil {
			return translate("update expense", err)
		}

		moved := old.Category != e.Category || old.Date.Period() != e.Date.Period()
		if moved {
			if err := recompute(ctx, q, e.UserID, old.Category, old.Date.Period()); err != nil {
				return reconcileErr(err)
			}
		}
		if err := recompute(ctx, q, e.UserID, e.Category, e.Date.Period()); err != nil {
			return reconcileErr(err)
		}
		return nil
	})
	if err != nil {
		return core.Expense{}, err
	}

	e.ExportRef = old.ExportRef
	e.Version = old.Version + 1
	e.ExportStatus = core.ExportStatusPending
	s.publishExport(ctx, e.ID, e.Version)
	return e, nil
}

// DeleteExpense removes an expense and reconciles the partition it was
// charged against, then asks the mirror to drop the exported rows.
func (s *Service) DeleteExpense(ctx context.Context, userID, id int64) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	var old core.Expense
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		old, err = q.GetExpense(ctx, userID, id)
		if err != nil {
			return translate("load expense", err)
		}

		if err := q.DeleteExpense(ctx, userID, id); err != nil {
			return translate("delete expense", err)
		}

		if err := recompute(ctx, q, userID, old.Category, old.Date.Period()); err != nil {
			return reconcileErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishRemove(ctx, id, old.ExportRef)
	return nil
}

// ListExpenses returns the user's expenses for a period, newest date
// first, ties broken by descending id.
func (s *Service) ListExpenses(ctx context.Context, userID int64, p core.Period) ([]core.Expense, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	expenses, err := s.store.ListExpenses(ctx, userID, p)
	if err != nil {
		return nil, translate("list expenses", err)
	}
	return expenses, nil
}
