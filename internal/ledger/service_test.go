package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bilancio/internal/core"
	"bilancio/internal/store"
	"bilancio/internal/store/sqlite"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, nil, bcrypt.MinCost), st
}

func seedUser(t *testing.T, svc *Service, email string) core.User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), core.User{
		Email:    email,
		FullName: "Test User",
		Role:     core.RoleMember,
	}, "password123")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// assertDerived recomputes every allocation's expected figures from the
// expense listing and compares them with the stored derived fields.
func assertDerived(t *testing.T, svc *Service, userID int64, p core.Period) {
	t.Helper()
	ctx := context.Background()

	allocations, err := svc.ListAllocations(ctx, userID, p)
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	expenses, err := svc.ListExpenses(ctx, userID, p)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}

	sums := make(map[string]int64)
	for _, e := range expenses {
		sums[e.Category] += e.Amount.Cents
	}
	for _, a := range allocations {
		if a.Spent.Cents != sums[a.Category] {
			t.Fatalf("%s: spent = %d, want %d", a.Category, a.Spent.Cents, sums[a.Category])
		}
		if a.Balance.Cents != a.Allocated.Cents-a.Spent.Cents {
			t.Fatalf("%s: balance = %d, want %d", a.Category, a.Balance.Cents, a.Allocated.Cents-a.Spent.Cents)
		}
	}
}

func TestReconcileOnExpenseCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	alloc, err := svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000},
	})
	if err != nil {
		t.Fatalf("add allocation: %v", err)
	}
	if alloc.Spent.Cents != 0 || alloc.Balance.Cents != 1000 {
		t.Fatalf("fresh allocation = %d/%d, want 0/1000", alloc.Spent.Cents, alloc.Balance.Cents)
	}

	if _, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	}); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	got, err := svc.ListAllocations(ctx, user.ID, p)
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	if got[0].Spent.Cents != 300 || got[0].Balance.Cents != 700 {
		t.Fatalf("after expense = %d/%d, want 300/700", got[0].Spent.Cents, got[0].Balance.Cents)
	}
}

func TestDerivedStateInvariantAcrossMutations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	for _, a := range []core.Allocation{
		{UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000}},
		{UserID: user.ID, Category: "Transport", Year: 2025, Month: 6, Allocated: core.Money{Cents: 500}},
	} {
		if _, err := svc.AddAllocation(ctx, a); err != nil {
			t.Fatalf("add allocation: %v", err)
		}
	}

	e1, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 10), Category: "Food", Amount: core.Money{Cents: 300},
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	assertDerived(t, svc, user.ID, p)

	e2, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 12), Category: "Food", Amount: core.Money{Cents: 200},
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	assertDerived(t, svc, user.ID, p)

	// Change amount.
	e2.Amount = core.Money{Cents: 250}
	if _, err := svc.UpdateExpense(ctx, e2); err != nil {
		t.Fatalf("update expense: %v", err)
	}
	assertDerived(t, svc, user.ID, p)

	// Move between categories.
	e1.Category = "Transport"
	if _, err := svc.UpdateExpense(ctx, e1); err != nil {
		t.Fatalf("move expense: %v", err)
	}
	assertDerived(t, svc, user.ID, p)

	// Delete.
	if err := svc.DeleteExpense(ctx, user.ID, e2.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	assertDerived(t, svc, user.ID, p)

	// Shrink the budget of a category with spending.
	allocations, err := svc.ListAllocations(ctx, user.ID, p)
	if err != nil {
		t.Fatalf("list allocations: %v", err)
	}
	for _, a := range allocations {
		if a.Category == "Transport" {
			a.Allocated = core.Money{Cents: 100}
			if _, err := svc.UpdateAllocation(ctx, a); err != nil {
				t.Fatalf("update allocation: %v", err)
			}
		}
	}
	assertDerived(t, svc, user.ID, p)
}

func TestRecomputeIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	if _, err := svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000},
	}); err != nil {
		t.Fatalf("add allocation: %v", err)
	}
	if _, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	}); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	if err := recompute(ctx, st, user.ID, "Food", p); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, err := st.FindAllocation(ctx, user.ID, "Food", p)
	if err != nil {
		t.Fatalf("find allocation: %v", err)
	}

	if err := recompute(ctx, st, user.ID, "Food", p); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, err := st.FindAllocation(ctx, user.ID, "Food", p)
	if err != nil {
		t.Fatalf("find allocation: %v", err)
	}

	if first != second {
		t.Fatalf("recompute not idempotent: %+v != %+v", first, second)
	}

	// Missing partition: no-op, no error.
	if err := recompute(ctx, st, user.ID, "Nonexistent", p); err != nil {
		t.Fatalf("recompute on missing partition: %v", err)
	}
}

func TestAllocationDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")

	first, err := svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Groceries", Year: 2025, Month: 6, Allocated: core.Money{Cents: 40000},
	})
	if err != nil {
		t.Fatalf("add allocation: %v", err)
	}

	_, err = svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Groceries", Year: 2025, Month: 6, Allocated: core.Money{Cents: 99},
	})
	dup, ok := core.IsDuplicateCategory(err)
	if !ok {
		t.Fatalf("second add: got %v, want DuplicateCategoryError", err)
	}
	if dup.Category != "Groceries" || dup.Year != 2025 || dup.Month != 6 {
		t.Fatalf("duplicate error fields: %+v", dup)
	}

	// First row unchanged.
	got, err := svc.ListAllocations(ctx, user.ID, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID || got[0].Allocated.Cents != 40000 {
		t.Fatalf("first row changed: %+v", got)
	}
}

func TestExpenseCategoryMove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	for _, a := range []core.Allocation{
		{UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000}},
		{UserID: user.ID, Category: "Transport", Year: 2025, Month: 6, Allocated: core.Money{Cents: 800}},
	} {
		if _, err := svc.AddAllocation(ctx, a); err != nil {
			t.Fatalf("add allocation: %v", err)
		}
	}

	e, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}

	e.Category = "Transport"
	if _, err := svc.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("move expense: %v", err)
	}

	byCat := func() map[string]core.Allocation {
		t.Helper()
		list, err := svc.ListAllocations(ctx, user.ID, p)
		if err != nil {
			t.Fatalf("list allocations: %v", err)
		}
		m := make(map[string]core.Allocation)
		for _, a := range list {
			m[a.Category] = a
		}
		return m
	}

	m := byCat()
	if m["Food"].Spent.Cents != 0 || m["Food"].Balance.Cents != 1000 {
		t.Fatalf("Food = %d/%d, want 0/1000", m["Food"].Spent.Cents, m["Food"].Balance.Cents)
	}
	if m["Transport"].Spent.Cents != 300 || m["Transport"].Balance.Cents != 500 {
		t.Fatalf("Transport = %d/%d, want 300/500", m["Transport"].Spent.Cents, m["Transport"].Balance.Cents)
	}

	// Moving to a category with no allocation partition: the no-op
	// recompute leaves no partition stale.
	e.Category = "Misc"
	if _, err := svc.UpdateExpense(ctx, e); err != nil {
		t.Fatalf("move to unallocated category: %v", err)
	}
	m = byCat()
	if m["Transport"].Spent.Cents != 0 || m["Transport"].Balance.Cents != 800 {
		t.Fatalf("Transport after move away = %d/%d, want 0/800", m["Transport"].Spent.Cents, m["Transport"].Balance.Cents)
	}
}

func TestAllocationAdoptsOrphanedExpenses(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")

	// Expense recorded before any budget line exists for its category.
	if _, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 5), Category: "Food", Amount: core.Money{Cents: 450},
	}); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	created, err := svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000},
	})
	if err != nil {
		t.Fatalf("add allocation: %v", err)
	}
	if created.Spent.Cents != 450 || created.Balance.Cents != 550 {
		t.Fatalf("adopted = %d/%d, want 450/550", created.Spent.Cents, created.Balance.Cents)
	}
}

func TestCopyPeriodMerges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	from := core.Period{Year: 2025, Month: 6}
	to := core.Period{Year: 2025, Month: 7}

	for _, a := range []core.Allocation{
		{UserID: user.ID, Category: "A", Year: from.Year, Month: from.Month, Allocated: core.Money{Cents: 100}},
		{UserID: user.ID, Category: "B", Year: from.Year, Month: from.Month, Allocated: core.Money{Cents: 200}},
		{UserID: user.ID, Category: "B", Year: to.Year, Month: to.Month, Allocated: core.Money{Cents: 50}},
	} {
		if _, err := svc.AddAllocation(ctx, a); err != nil {
			t.Fatalf("add allocation: %v", err)
		}
	}

	count, err := svc.CopyPeriod(ctx, user.ID, from, to)
	if err != nil {
		t.Fatalf("copy period: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	dest, err := svc.ListAllocations(ctx, user.ID, to)
	if err != nil {
		t.Fatalf("list destination: %v", err)
	}
	if len(dest) != 2 {
		t.Fatalf("destination rows = %d, want 2", len(dest))
	}
	if dest[0].Category != "A" || dest[0].Allocated.Cents != 100 || dest[0].Spent.Cents != 0 {
		t.Fatalf("copied row: %+v", dest[0])
	}
	if dest[1].Category != "B" || dest[1].Allocated.Cents != 50 {
		t.Fatalf("existing row touched: %+v", dest[1])
	}

	// Copying from an empty period is not an error.
	count, err = svc.CopyPeriod(ctx, user.ID, core.Period{Year: 2024, Month: 1}, core.Period{Year: 2024, Month: 2})
	if err != nil || count != 0 {
		t.Fatalf("empty source: count = %d, err = %v", count, err)
	}

	// Source equal to destination is a validation error.
	if _, err := svc.CopyPeriod(ctx, user.ID, from, from); !errors.Is(err, core.ErrSamePeriod) {
		t.Fatalf("same period: got %v, want ErrSamePeriod", err)
	}
}

func TestIncomeOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")

	_, err := svc.AddIncome(ctx, core.Income{
		UserID: user.ID, Date: core.NewDate(2025, 6, 1), Source: "salary", Amount: core.Money{Cents: 0},
	})
	if !errors.Is(err, core.ErrAmountNotPositive) {
		t.Fatalf("zero amount: got %v, want ErrAmountNotPositive", err)
	}

	in, err := svc.AddIncome(ctx, core.Income{
		UserID: user.ID, Date: core.NewDate(2025, 6, 1), Source: "salary", Amount: core.Money{Cents: 150000},
	})
	if err != nil {
		t.Fatalf("add income: %v", err)
	}

	in.Source = "bonus"
	in.Amount = core.Money{Cents: 200000}
	if _, err := svc.UpdateIncome(ctx, in); err != nil {
		t.Fatalf("update income: %v", err)
	}

	other := seedUser(t, svc, "b@example.com")
	stolen := in
	stolen.UserID = other.ID
	if _, err := svc.UpdateIncome(ctx, stolen); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cross-user update: got %v, want ErrNotFound", err)
	}

	list, err := svc.ListIncomes(ctx, user.ID, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list incomes: %v", err)
	}
	if len(list) != 1 || list[0].Source != "bonus" || list[0].Amount.Cents != 200000 {
		t.Fatalf("incomes = %+v", list)
	}

	if err := svc.DeleteIncome(ctx, user.ID, in.ID); err != nil {
		t.Fatalf("delete income: %v", err)
	}
	if err := svc.DeleteIncome(ctx, user.ID, in.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

// failingStore forces SumExpenses to fail inside transactions so
// reconciliation blows up after a successful insert.
type failingStore struct {
	store.Store
}

func (f *failingStore) InTx(ctx context.Context, fn func(store.Querier) error) error {
	return f.Store.InTx(ctx, func(q store.Querier) error {
		return fn(&failingQuerier{Querier: q})
	})
}

type failingQuerier struct {
	store.Querier
}

func (f *failingQuerier) SumExpenses(context.Context, int64, string, core.Period) (int64, error) {
	return 0, errors.New("sum exploded")
}

func TestExpenseInsertRollsBackOnReconcileFailure(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")
	p := core.Period{Year: 2025, Month: 6}

	if _, err := svc.AddAllocation(ctx, core.Allocation{
		UserID: user.ID, Category: "Food", Year: 2025, Month: 6, Allocated: core.Money{Cents: 1000},
	}); err != nil {
		t.Fatalf("add allocation: %v", err)
	}

	broken := NewService(&failingStore{Store: st}, nil, bcrypt.MinCost)
	_, err := broken.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	})
	if !errors.Is(err, core.ErrReconciliation) {
		t.Fatalf("got %v, want ErrReconciliation", err)
	}

	// The insert must not have survived the rollback.
	expenses, err := svc.ListExpenses(ctx, user.ID, p)
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(expenses) != 0 {
		t.Fatalf("expense persisted despite reconcile failure: %+v", expenses)
	}
}

func TestCrossUserMutationsAreNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userA := seedUser(t, svc, "a@example.com")
	userB := seedUser(t, svc, "b@example.com")

	e, err := svc.AddExpense(ctx, core.Expense{
		UserID: userA.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}

	stolen := e
	stolen.UserID = userB.ID
	stolen.Amount = core.Money{Cents: 1}
	if _, err := svc.UpdateExpense(ctx, stolen); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cross-user update: got %v, want ErrNotFound", err)
	}
	if err := svc.DeleteExpense(ctx, userB.ID, e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("cross-user delete: got %v, want ErrNotFound", err)
	}

	mine, err := svc.ListExpenses(ctx, userA.ID, core.Period{Year: 2025, Month: 6})
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(mine) != 1 || mine[0].Amount.Cents != 300 {
		t.Fatalf("victim row changed: %+v", mine)
	}
}

// recordingPublisher captures the mirror traffic for assertions.
type recordingPublisher struct {
	exports []int64
	removes []string
}

func (r *recordingPublisher) PublishExport(_ context.Context, id, version int64) error {
	r.exports = append(r.exports, id, version)
	return nil
}

func (r *recordingPublisher) PublishRemove(_ context.Context, _ int64, exportRef string) error {
	r.removes = append(r.removes, exportRef)
	return nil
}

func TestExpenseMutationsPublish(t *testing.T) {
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pub := &recordingPublisher{}
	svc := NewService(st, pub, bcrypt.MinCost)
	ctx := context.Background()
	user := seedUser(t, svc, "a@example.com")

	e, err := svc.AddExpense(ctx, core.Expense{
		UserID: user.ID, Date: core.NewDate(2025, 6, 15), Category: "Food", Amount: core.Money{Cents: 300},
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if e.ExportRef == "" {
		t.Fatalf("expense has no export ref")
	}
	if e.Version != 1 {
		t.Fatalf("version = %d, want 1", e.Version)
	}

	e.Comment = "taxi"
	updated, err := svc.UpdateExpense(ctx, e)
	if err != nil {
		t.Fatalf("update expense: %v", err)
	}
	if updated.Version != 2 || updated.ExportRef != e.ExportRef {
		t.Fatalf("update bookkeeping: %+v", updated)
	}

	if err := svc.DeleteExpense(ctx, user.ID, e.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}

	want := []int64{e.ID, 1, e.ID, 2}
	if len(pub.exports) != len(want) {
		t.Fatalf("exports = %v, want %v", pub.exports, want)
	}
	for i := range want {
		if pub.exports[i] != want[i] {
			t.Fatalf("exports = %v, want %v", pub.exports, want)
		}
	}
	if len(pub.removes) != 1 || pub.removes[0] != e.ExportRef {
		t.Fatalf("removes = %v, want [%s]", pub.removes, e.ExportRef)
	}
}
