package ledger

import (
	"context"
	"errors"
	"log/slog"

	"bilancio/internal/core"
	"bilancio/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// CreateHousehold creates a grouping for shared reporting. A creator
// who does not belong to a household yet is attached to the new one,
// so an admin can bootstrap their own family; a creator with an
// existing household stays where they are.
func (s *Service) CreateHousehold(ctx context.Context, creator core.User, name string) (core.Household, error) {
	h := core.Household{Name: name, IsActive: true, CreatedBy: creator.ID}
	if err := h.Validate(); err != nil {
		return core.Household{}, err
	}

	err := s.store.InTx(ctx, func(q store.Querier) error {
		id, err := q.CreateHousehold(ctx, h)
		if err != nil {
			return translate("create household", err)
		}
		h.ID = id
		if creator.HouseholdID == nil {
			if err := q.SetUserHousehold(ctx, creator.ID, id); err != nil {
				return translate("attach creator", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Household{}, err
	}
	return h, nil
}

// CreateUser registers a new user with a bcrypt-hashed password. Role
// and household scope checks live in the HTTP layer; the caller passes
// the already-resolved household id.
func (s *Service) CreateUser(ctx context.Context, u core.User, password string) (core.User, error) {
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	if len(password) < 8 {
		return core.User{}, core.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return core.User{}, translate("hash password", err)
	}
	u.PasswordHash = string(hash)
	u.IsActive = true

	id, err := s.store.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return core.User{}, core.ErrEmailTaken
		}
		return core.User{}, translate("create user", err)
	}
	u.ID = id
	u.PasswordHash = ""
	return u, nil
}

// GetUser loads a user row; missing rows surface as core.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id int64) (core.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return core.User{}, translate("get user", err)
	}
	return u, nil
}

// ListMembers returns the caller's household members ordered by full
// name. A caller without a household sees only themselves.
func (s *Service) ListMembers(ctx context.Context, caller core.User) ([]core.User, error) {
	if caller.HouseholdID == nil {
		caller.PasswordHash = ""
		return []core.User{caller}, nil
	}
	members, err := s.store.ListHouseholdMembers(ctx, *caller.HouseholdID)
	if err != nil {
		return nil, translate("list members", err)
	}
	for i := range members {
		members[i].PasswordHash = ""
	}
	return members, nil
}

// DeleteUser removes the target user and all their financial rows in
// one transaction. Referential cleanup is manual, not a database
// cascade. Self-deletion is rejected.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID int64) error {
	if actorID == targetID {
		return core.ErrSelfDeletion
	}

	unlock := s.locks.lock(targetID)
	defer unlock()

	return s.store.InTx(ctx, func(q store.Querier) error {
		if _, err := q.GetUserByID(ctx, targetID); err != nil {
			return translate("load user", err)
		}
		if err := q.DeleteUserFinancials(ctx, targetID); err != nil {
			return translate("delete user financials", err)
		}
		return translate("delete user", q.DeleteUser(ctx, targetID))
	})
}

// EnsureSuperadmin seeds the first superadmin when the users table is
// empty, so a fresh install has a way in. Returns whether a user was
// created.
func (s *Service) EnsureSuperadmin(ctx context.Context, email, fullName, password string) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, translate("count users", err)
	}
	if n > 0 {
		return false, nil
	}

	u, err := s.CreateUser(ctx, core.User{
		Email:    email,
		FullName: fullName,
		Role:     core.RoleSuperadmin,
	}, password)
	if err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "Seeded initial superadmin user", "email", email, "user_id", u.ID)
	return true, nil
}
