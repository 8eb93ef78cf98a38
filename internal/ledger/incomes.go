package ledger

import (
	"context"

	"bilancio/internal/core"
)

// AddIncome records a new income entry. The amount must be strictly
// positive.
func (s *Service) AddIncome(ctx context.Context, in core.Income) (core.Income, error) {
	if err := in.Validate(); err != nil {
		return core.Income{}, err
	}

	unlock := s.locks.lock(in.UserID)
	defer unlock()

	id, err := s.store.InsertIncome(ctx, in)
	if err != nil {
		return core.Income{}, translate("add income", err)
	}
	in.ID = id
	return in, nil
}

// UpdateIncome replaces an income row in place, scoped to its owner.
func (s *Service) UpdateIncome(ctx context.Context, in core.Income) (core.Income, error) {
	if err := in.Validate(); err != nil {
		return core.Income{}, err
	}

	unlock := s.locks.lock(in.UserID)
	defer unlock()

	if err := s.store.UpdateIncome(ctx, in); err != nil {
		return core.Income{}, translate("update income", err)
	}
	return in, nil
}

func (s *Service) DeleteIncome(ctx context.Context, userID, id int64) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	return translate("delete income", s.store.DeleteIncome(ctx, userID, id))
}

// ListIncomes returns the user's income entries for a period, newest
// date first, ties broken by descending id.
func (s *Service) ListIncomes(ctx context.Context, userID int64, p core.Period) ([]core.Income, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	incomes, err := s.store.ListIncomes(ctx, userID, p)
	if err != nil {
		return nil, translate("list incomes", err)
	}
	return incomes, nil
}
