// Package store defines the persistence contract the ledger service is
// written against. Two dialect implementations exist, sqlite and
// postgres; the service only ever sees these interfaces.
package store

import (
	"context"
	"errors"

	"bilancio/internal/core"
)

// Sentinel errors every dialect maps its driver errors onto. Raw driver
// errors never cross the package boundary.
var (
	ErrNotFound = errors.New("row not found")
	ErrConflict = errors.New("unique constraint violated")
)

// Querier is the full query surface. Row-level methods that take a
// userID are scoped to that user: a row owned by someone else behaves
// exactly like a missing row.
type Querier interface {
	// Households
	CreateHousehold(ctx context.Context, h core.Household) (int64, error)
	GetHousehold(ctx context.Context, id int64) (core.Household, error)

	// Users
	CreateUser(ctx context.Context, u core.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (core.User, error)
	GetUserByEmail(ctx context.Context, email string) (core.User, error)
	CountUsers(ctx context.Context) (int64, error)
	ListHouseholdMembers(ctx context.Context, householdID int64) ([]core.User, error)
	SetUserHousehold(ctx context.Context, userID, householdID int64) error
	DeleteUser(ctx context.Context, id int64) error
	DeleteUserFinancials(ctx context.Context, userID int64) error

	// Incomes
	InsertIncome(ctx context.Context, in core.Income) (int64, error)
	GetIncome(ctx context.Context, userID, id int64) (core.Income, error)
	UpdateIncome(ctx context.Context, in core.Income) error
	DeleteIncome(ctx context.Context, userID, id int64) error
	ListIncomes(ctx context.Context, userID int64, p core.Period) ([]core.Income, error)
	SumIncomes(ctx context.Context, userID int64, p core.Period) (int64, error)
	IncomeTotalsByMonth(ctx context.Context, userID int64, year int) (map[int]int64, error)

	// Allocations
	InsertAllocation(ctx context.Context, a core.Allocation) (int64, error)
	GetAllocation(ctx context.Context, userID, id int64) (core.Allocation, error)
	FindAllocation(ctx context.Context, userID int64, category string, p core.Period) (core.Allocation, error)
	UpdateAllocation(ctx context.Context, a core.Allocation) error
	SetAllocationDerived(ctx context.Context, id, spentCents, balanceCents int64) error
	DeleteAllocation(ctx context.Context, userID, id int64) error
	ListAllocations(ctx context.Context, userID int64, p core.Period) ([]core.Allocation, error)
	ListCategories(ctx context.Context, userID int64, p core.Period) ([]string, error)
	SumAllocations(ctx context.Context, userID int64, p core.Period) (allocatedCents, spentCents int64, err error)
	AllocationTotalsByMonth(ctx context.Context, userID int64, year int) (map[int]int64, error)

	// Expenses
	InsertExpense(ctx context.Context, e core.Expense) (int64, error)
	GetExpense(ctx context.Context, userID, id int64) (core.Expense, error)
	GetExpenseByID(ctx context.Context, id int64) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, userID, id int64) error
	ListExpenses(ctx context.Context, userID int64, p core.Period) ([]core.Expense, error)
	SumExpenses(ctx context.Context, userID int64, category string, p core.Period) (int64, error)

	// Export bookkeeping
	ListPendingExports(ctx context.Context, limit int) ([]core.Expense, error)
	SetExportStatus(ctx context.Context, id int64, status string) error
}

// Store is a Querier with a lifecycle and transactions. InTx runs fn
// against a transaction-scoped Querier; fn returning an error rolls the
// whole transaction back.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(Querier) error) error
	Ping(ctx context.Context) error
	Close() error
}
