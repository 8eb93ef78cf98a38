package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), core.User{
		Email:        email,
		FullName:     "Test User",
		PasswordHash: "x",
		Role:         core.RoleMember,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestIncomeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	id, err := s.InsertIncome(ctx, core.Income{
		UserID: user,
		Date:   core.NewDate(2025, 6, 10),
		Source: "Salary",
		Amount: core.Money{Cents: 250000},
	})
	if err != nil {
		t.Fatalf("insert income: %v", err)
	}

	got, err := s.GetIncome(ctx, user, id)
	if err != nil {
		t.Fatalf("get income: %v", err)
	}
	if got.Source != "Salary" || got.Amount.Cents != 250000 || got.Date.String() != "2025-06-10" {
		t.Fatalf("unexpected income: %+v", got)
	}

	got.Amount = core.Money{Cents: 260000}
	if err := s.UpdateIncome(ctx, got); err != nil {
		t.Fatalf("update income: %v", err)
	}
	got, err = s.GetIncome(ctx, user, id)
	if err != nil {
		t.Fatalf("get income after update: %v", err)
	}
	if got.Amount.Cents != 260000 {
		t.Fatalf("amount = %d, want 260000", got.Amount.Cents)
	}

	if err := s.DeleteIncome(ctx, user, id); err != nil {
		t.Fatalf("delete income: %v", err)
	}
	if _, err := s.GetIncome(ctx, user, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get deleted income: got %v, want ErrNotFound", err)
	}
}

func TestIncomeListOrderAndSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	// Insert out of order; two rows on the same date break ties by id.
	dates := []core.Date{
		core.NewDate(2025, 6, 5),
		core.NewDate(2025, 6, 20),
		core.NewDate(2025, 6, 20),
		core.NewDate(2025, 5, 31), // outside period
	}
	for i, d := range dates {
		if _, err := s.InsertIncome(ctx, core.Income{
			UserID: user, Date: d, Source: fmt.Sprintf("src-%d", i), Amount: core.Money{Cents: 1000},
		}); err != nil {
			t.Fatalf("insert income %d: %v", i, err)
		}
	}

	list, err := s.ListIncomes(ctx, user, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list incomes: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Source != "src-2" || list[1].Source != "src-1" || list[2].Source != "src-0" {
		t.Fatalf("wrong order: %s, %s, %s", list[0].Source, list[1].Source, list[2].Source)
	}

	total, err := s.SumIncomes(ctx, user, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("sum incomes: %v", err)
	}
	if total != 3000 {
		t.Fatalf("sum = %d, want 3000", total)
	}
}

func TestAllocationUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	alloc := core.Allocation{
		UserID: user, Category: "Groceries", Year: 2025, Month: 6,
		Allocated: core.Money{Cents: 40000},
	}
	id, err := s.InsertAllocation(ctx, alloc)
	if err != nil {
		t.Fatalf("insert allocation: %v", err)
	}
	if _, err := s.InsertAllocation(ctx, alloc); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate insert: got %v, want ErrConflict", err)
	}

	// New rows start with spent 0 and balance = allocated.
	got, err := s.GetAllocation(ctx, user, id)
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if got.Spent.Cents != 0 || got.Balance.Cents != 40000 {
		t.Fatalf("derived fields = %d/%d, want 0/40000", got.Spent.Cents, got.Balance.Cents)
	}

	// Renaming onto an existing category in the same period conflicts too.
	if _, err := s.InsertAllocation(ctx, core.Allocation{
		UserID: user, Category: "Transport", Year: 2025, Month: 6, Allocated: core.Money{Cents: 10000},
	}); err != nil {
		t.Fatalf("insert second allocation: %v", err)
	}
	got.Category = "Transport"
	if err := s.UpdateAllocation(ctx, got); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("rename onto existing: got %v, want ErrConflict", err)
	}

	// Same category in a different period is fine.
	if _, err := s.InsertAllocation(ctx, core.Allocation{
		UserID: user, Category: "Groceries", Year: 2025, Month: 7, Allocated: core.Money{Cents: 40000},
	}); err != nil {
		t.Fatalf("same category, next month: %v", err)
	}
}

func TestAllocationListAndCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	for _, cat := range []string{"Transport", "Groceries", "Rent"} {
		if _, err := s.InsertAllocation(ctx, core.Allocation{
			UserID: user, Category: cat, Year: p.Year, Month: p.Month, Allocated: core.Money{Cents: 100},
		}); err != nil {
			t.Fatalf("insert %s: %v", cat, err)
		}
	}

	list, err := s.ListAllocations(ctx, user, p)
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	if len(list) != 3 || list[0].Category != "Groceries" || list[1].Category != "Rent" || list[2].Category != "Transport" {
		t.Fatalf("wrong order: %+v", list)
	}

	cats, err := s.ListCategories(ctx, user, p)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) != 3 || cats[0] != "Groceries" || cats[2] != "Transport" {
		t.Fatalf("wrong categories: %v", cats)
	}
}

func TestExpenseVersionBump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	id, err := s.InsertExpense(ctx, core.Expense{
		UserID: user, Date: core.NewDate(2025, 6, 15), Category: "Food",
		Amount: core.Money{Cents: 1500}, ExportRef: "ref-1",
	})
	if err != nil {
		t.Fatalf("insert expense: %v", err)
	}

	e, err := s.GetExpense(ctx, user, id)
	if err != nil {
		t.Fatalf("get expense: %v", err)
	}
	if e.Version != 1 || e.ExportStatus != core.ExportStatusPending || e.ExportRef != "ref-1" {
		t.Fatalf("fresh expense bookkeeping: %+v", e)
	}

	if err := s.SetExportStatus(ctx, id, core.ExportStatusExported); err != nil {
		t.Fatalf("set export status: %v", err)
	}

	e.Comment = "updated"
	if err := s.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("update expense: %v", err)
	}
	e, err = s.GetExpense(ctx, user, id)
	if err != nil {
		t.Fatalf("get expense after update: %v", err)
	}
	if e.Version != 2 {
		t.Fatalf("version = %d, want 2", e.Version)
	}
	if e.ExportStatus != core.ExportStatusPending {
		t.Fatalf("export status = %q, want pending after update", e.ExportStatus)
	}
}

func TestCrossUserScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userA := seedUser(t, s, "a@example.com")
	userB := seedUser(t, s, "b@example.com")

	id, err := s.InsertIncome(ctx, core.Income{
		UserID: userA, Date: core.NewDate(2025, 6, 1), Source: "Salary", Amount: core.Money{Cents: 100},
	})
	if err != nil {
		t.Fatalf("insert income: %v", err)
	}

	if _, err := s.GetIncome(ctx, userB, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-user get: got %v, want ErrNotFound", err)
	}
	if err := s.UpdateIncome(ctx, core.Income{
		ID: id, UserID: userB, Date: core.NewDate(2025, 6, 1), Source: "x", Amount: core.Money{Cents: 1},
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-user update: got %v, want ErrNotFound", err)
	}
	if err := s.DeleteIncome(ctx, userB, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-user delete: got %v, want ErrNotFound", err)
	}

	// The row is untouched.
	got, err := s.GetIncome(ctx, userA, id)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if got.Source != "Salary" || got.Amount.Cents != 100 {
		t.Fatalf("row changed: %+v", got)
	}
}

func TestMonthTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	incomes := []struct {
		d     core.Date
		cents int64
	}{
		{core.NewDate(2025, 1, 10), 1000},
		{core.NewDate(2025, 1, 20), 500},
		{core.NewDate(2025, 3, 5), 700},
		{core.NewDate(2024, 12, 31), 9999}, // other year
	}
	for _, in := range incomes {
		if _, err := s.InsertIncome(ctx, core.Income{
			UserID: user, Date: in.d, Source: "s", Amount: core.Money{Cents: in.cents},
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	totals, err := s.IncomeTotalsByMonth(ctx, user, 2025)
	if err != nil {
		t.Fatalf("income totals: %v", err)
	}
	if len(totals) != 2 || totals[1] != 1500 || totals[3] != 700 {
		t.Fatalf("totals = %v, want map[1:1500 3:700]", totals)
	}

	for _, a := range []core.Allocation{
		{UserID: user, Category: "A", Year: 2025, Month: 1, Allocated: core.Money{Cents: 300}},
		{UserID: user, Category: "B", Year: 2025, Month: 1, Allocated: core.Money{Cents: 200}},
		{UserID: user, Category: "A", Year: 2025, Month: 4, Allocated: core.Money{Cents: 100}},
	} {
		if _, err := s.InsertAllocation(ctx, a); err != nil {
			t.Fatalf("insert allocation: %v", err)
		}
	}
	allocTotals, err := s.AllocationTotalsByMonth(ctx, user, 2025)
	if err != nil {
		t.Fatalf("allocation totals: %v", err)
	}
	if len(allocTotals) != 2 || allocTotals[1] != 500 || allocTotals[4] != 100 {
		t.Fatalf("alloc totals = %v, want map[1:500 4:100]", allocTotals)
	}
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q store.Querier) error {
		if _, err := q.InsertExpense(ctx, core.Expense{
			UserID: user, Date: core.NewDate(2025, 6, 1), Category: "Food",
			Amount: core.Money{Cents: 100}, ExportRef: "r",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	list, err := s.ListExpenses(ctx, user, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rolled-back expense persisted: %+v", list)
	}
}

func TestPendingExports(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "a@example.com")

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.InsertExpense(ctx, core.Expense{
			UserID: user, Date: core.NewDate(2025, 6, 1), Category: "Food",
			Amount: core.Money{Cents: 100}, ExportRef: fmt.Sprintf("ref-%d", i),
		})
		if err != nil {
			t.Fatalf("insert expense: %v", err)
		}
		ids = append(ids, id)
	}
	if err := s.SetExportStatus(ctx, ids[0], core.ExportStatusExported); err != nil {
		t.Fatalf("set exported: %v", err)
	}
	if err := s.SetExportStatus(ctx, ids[1], core.ExportStatusError); err != nil {
		t.Fatalf("set error: %v", err)
	}

	pending, err := s.ListPendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len = %d, want 2 (error + pending)", len(pending))
	}
	if pending[0].ID != ids[1] || pending[1].ID != ids[2] {
		t.Fatalf("wrong rows or order: %d, %d", pending[0].ID, pending[1].ID)
	}

	limited, err := s.ListPendingExports(ctx, 1)
	if err != nil {
		t.Fatalf("list pending limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit ignored: len = %d", len(limited))
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hhID, err := s.CreateHousehold(ctx, core.Household{Name: "Rossi", CreatedBy: 1})
	if err != nil {
		t.Fatalf("create household: %v", err)
	}

	mk := func(email, name string) int64 {
		id, err := s.CreateUser(ctx, core.User{
			HouseholdID: &hhID, Email: email, FullName: name,
			PasswordHash: "x", Role: core.RoleMember, IsActive: true,
		})
		if err != nil {
			t.Fatalf("create user %s: %v", email, err)
		}
		return id
	}
	zID := mk("z@example.com", "Zoe")
	mk("b@example.com", "Anna")

	if _, err := s.CreateUser(ctx, core.User{
		Email: "z@example.com", FullName: "Dup", PasswordHash: "x", Role: core.RoleMember,
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}

	members, err := s.ListHouseholdMembers(ctx, hhID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 || members[0].FullName != "Anna" || members[1].FullName != "Zoe" {
		t.Fatalf("wrong member order: %+v", members)
	}

	if _, err := s.InsertIncome(ctx, core.Income{
		UserID: zID, Date: core.NewDate(2025, 6, 1), Source: "s", Amount: core.Money{Cents: 1},
	}); err != nil {
		t.Fatalf("insert income: %v", err)
	}
	if _, err := s.InsertAllocation(ctx, core.Allocation{
		UserID: zID, Category: "A", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1},
	}); err != nil {
		t.Fatalf("insert allocation: %v", err)
	}
	if _, err := s.InsertExpense(ctx, core.Expense{
		UserID: zID, Date: core.NewDate(2025, 6, 1), Category: "A",
		Amount: core.Money{Cents: 1}, ExportRef: "r",
	}); err != nil {
		t.Fatalf("insert expense: %v", err)
	}

	err = s.InTx(ctx, func(q store.Querier) error {
		if err := q.DeleteUserFinancials(ctx, zID); err != nil {
			return err
		}
		return q.DeleteUser(ctx, zID)
	})
	if err != nil {
		t.Fatalf("delete user tx: %v", err)
	}

	if _, err := s.GetUserByID(ctx, zID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("deleted user still present: %v", err)
	}
	incomes, err := s.ListIncomes(ctx, zID, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list incomes: %v", err)
	}
	if len(incomes) != 0 {
		t.Fatalf("financial rows survived user deletion")
	}
}
