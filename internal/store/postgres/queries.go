package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"

	"github.com/lib/pq"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs against either the pool or an open transaction.
type queries struct {
	db dbtx
}

var _ store.Querier = (*queries)(nil)

// --- households ---

func (q *queries) CreateHousehold(ctx context.Context, h core.Household) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO households (name, is_active, created_by, created_at)
		VALUES ($1, TRUE, $2, $3) RETURNING id`,
		h.Name, h.CreatedBy, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert household: %w", err)
	}
	return id, nil
}

func (q *queries) GetHousehold(ctx context.Context, id int64) (core.Household, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, is_active, created_by, created_at
		FROM households WHERE id = $1`, id)
	return scanHousehold(row)
}

// --- users ---

func (q *queries) CreateUser(ctx context.Context, u core.User) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO users (household_id, email, full_name, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		nullableID(u.HouseholdID), u.Email, u.FullName, u.PasswordHash, string(u.Role), u.IsActive, now, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (q *queries) GetUserByID(ctx context.Context, id int64) (core.User, error) {
	row := q.db.QueryRowContext(ctx, userColumns+` WHERE id = $1`, id)
	return scanUser(row)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row := q.db.QueryRowContext(ctx, userColumns+` WHERE email = $1`, email)
	return scanUser(row)
}

func (q *queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (q *queries) ListHouseholdMembers(ctx context.Context, householdID int64) ([]core.User, error) {
	rows, err := q.db.QueryContext(ctx, userColumns+`
		WHERE household_id = $1 ORDER BY full_name ASC`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list household members: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (q *queries) SetUserHousehold(ctx context.Context, userID, householdID int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET household_id = $1, updated_at = $2 WHERE id = $3`,
		householdID, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set user household: %w", err)
	}
	return requireAffected(res, "set user household")
}

func (q *queries) DeleteUser(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, "delete user")
}

func (q *queries) DeleteUserFinancials(ctx context.Context, userID int64) error {
	for _, table := range []string{"incomes", "expenses", "allocations"} {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete user %s: %w", table, err)
		}
	}
	return nil
}

// --- incomes ---

func (q *queries) InsertIncome(ctx context.Context, in core.Income) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO incomes (user_id, date, source, amount_cents)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		in.UserID, in.Date.String(), in.Source, in.Amount.Cents).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert income: %w", err)
	}
	return id, nil
}

func (q *queries) GetIncome(ctx context.Context, userID, id int64) (core.Income, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, source, amount_cents
		FROM incomes WHERE id = $1 AND user_id = $2`, id, userID)
	return scanIncome(row)
}

func (q *queries) UpdateIncome(ctx context.Context, in core.Income) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE incomes SET date = $1, source = $2, amount_cents = $3
		WHERE id = $4 AND user_id = $5`,
		in.Date.String(), in.Source, in.Amount.Cents, in.ID, in.UserID)
	if err != nil {
		return fmt.Errorf("update income: %w", err)
	}
	return requireAffected(res, "update income")
}

func (q *queries) DeleteIncome(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM incomes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete income: %w", err)
	}
	return requireAffected(res, "delete income")
}

func (q *queries) ListIncomes(ctx context.Context, userID int64, p core.Period) ([]core.Income, error) {
	start, end := p.Bounds()
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, date, source, amount_cents
		FROM incomes
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date DESC, id DESC`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list incomes: %w", err)
	}
	defer rows.Close()

	var incomes []core.Income
	for rows.Next() {
		in, err := scanIncome(rows)
		if err != nil {
			return nil, err
		}
		incomes = append(incomes, in)
	}
	return incomes, rows.Err()
}

func (q *queries) SumIncomes(ctx context.Context, userID int64, p core.Period) (int64, error) {
	start, end := p.Bounds()
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM incomes
		WHERE user_id = $1 AND date >= $2 AND date < $3`, userID, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum incomes: %w", err)
	}
	return total, nil
}

func (q *queries) IncomeTotalsByMonth(ctx context.Context, userID int64, year int) (map[int]int64, error) {
	start := fmt.Sprintf("%04d-01-01", year)
	end := fmt.Sprintf("%04d-01-01", year+1)
	rows, err := q.db.QueryContext(ctx, `
		SELECT CAST(substr(date, 6, 2) AS INTEGER) AS month, COALESCE(SUM(amount_cents), 0)
		FROM incomes
		WHERE user_id = $1 AND date >= $2 AND date < $3
		GROUP BY month`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("income totals by month: %w", err)
	}
	defer rows.Close()
	return scanMonthTotals(rows)
}

// --- allocations ---

func (q *queries) InsertAllocation(ctx context.Context, a core.Allocation) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO allocations (user_id, category, year, month, allocated_cents, spent_cents, balance_cents)
		VALUES ($1, $2, $3, $4, $5, 0, $6) RETURNING id`,
		a.UserID, a.Category, a.Year, a.Month, a.Allocated.Cents, a.Allocated.Cents).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("insert allocation: %w", err)
	}
	return id, nil
}

func (q *queries) GetAllocation(ctx context.Context, userID, id int64) (core.Allocation, error) {
	row := q.db.QueryRowContext(ctx, allocationColumns+` WHERE id = $1 AND user_id = $2`, id, userID)
	return scanAllocation(row)
}

func (q *queries) FindAllocation(ctx context.Context, userID int64, category string, p core.Period) (core.Allocation, error) {
	row := q.db.QueryRowContext(ctx, allocationColumns+`
		WHERE user_id = $1 AND category = $2 AND year = $3 AND month = $4`,
		userID, category, p.Year, p.Month)
	return scanAllocation(row)
}

func (q *queries) UpdateAllocation(ctx context.Context, a core.Allocation) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE allocations SET category = $1, allocated_cents = $2
		WHERE id = $3 AND user_id = $4`,
		a.Category, a.Allocated.Cents, a.ID, a.UserID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("update allocation: %w", err)
	}
	return requireAffected(res, "update allocation")
}

func (q *queries) SetAllocationDerived(ctx context.Context, id, spentCents, balanceCents int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE allocations SET spent_cents = $1, balance_cents = $2 WHERE id = $3`,
		spentCents, balanceCents, id)
	if err != nil {
		return fmt.Errorf("set allocation derived fields: %w", err)
	}
	return nil
}

func (q *queries) DeleteAllocation(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM allocations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete allocation: %w", err)
	}
	return requireAffected(res, "delete allocation")
}

func (q *queries) ListAllocations(ctx context.Context, userID int64, p core.Period) ([]core.Allocation, error) {
	rows, err := q.db.QueryContext(ctx, allocationColumns+`
		WHERE user_id = $1 AND year = $2 AND month = $3
		ORDER BY category ASC`, userID, p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []core.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (q *queries) ListCategories(ctx context.Context, userID int64, p core.Period) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT category FROM allocations
		WHERE user_id = $1 AND year = $2 AND month = $3
		ORDER BY category ASC`, userID, p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (q *queries) SumAllocations(ctx context.Context, userID int64, p core.Period) (int64, int64, error) {
	var allocated, spent int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(allocated_cents), 0), COALESCE(SUM(spent_cents), 0)
		FROM allocations
		WHERE user_id = $1 AND year = $2 AND month = $3`,
		userID, p.Year, p.Month).Scan(&allocated, &spent)
	if err != nil {
		return 0, 0, fmt.Errorf("sum allocations: %w", err)
	}
	return allocated, spent, nil
}

func (q *queries) AllocationTotalsByMonth(ctx context.Context, userID int64, year int) (map[int]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT month, COALESCE(SUM(allocated_cents), 0)
		FROM allocations
		WHERE user_id = $1 AND year = $2
		GROUP BY month`, userID, year)
	if err != nil {
		return nil, fmt.Errorf("allocation totals by month: %w", err)
	}
	defer rows.Close()
	return scanMonthTotals(rows)
}

// --- expenses ---

func (q *queries) InsertExpense(ctx context.Context, e core.Expense) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO expenses (user_id, date, category, subcategory, amount_cents,
			payment_mode, payment_details, comment, export_ref, version, export_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, 'pending') RETURNING id`,
		e.UserID, e.Date.String(), e.Category, e.Subcategory, e.Amount.Cents,
		e.PaymentMode, e.PaymentDetails, e.Comment, e.ExportRef).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	return id, nil
}

func (q *queries) GetExpense(ctx context.Context, userID, id int64) (core.Expense, error) {
	row := q.db.QueryRowContext(ctx, expenseColumns+` WHERE id = $1 AND user_id = $2`, id, userID)
	return scanExpense(row)
}

func (q *queries) GetExpenseByID(ctx context.Context, id int64) (core.Expense, error) {
	row := q.db.QueryRowContext(ctx, expenseColumns+` WHERE id = $1`, id)
	return scanExpense(row)
}

func (q *queries) UpdateExpense(ctx context.Context, e core.Expense) error {
	// Every content change produces a new version and re-queues the row
	// for the spreadsheet mirror.
	res, err := q.db.ExecContext(ctx, `
		UPDATE expenses SET date = $1, category = $2, subcategory = $3, amount_cents = $4,
			payment_mode = $5, payment_details = $6, comment = $7,
			version = version + 1, export_status = 'pending'
		WHERE id = $8 AND user_id = $9`,
		e.Date.String(), e.Category, e.Subcategory, e.Amount.Cents,
		e.PaymentMode, e.PaymentDetails, e.Comment, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireAffected(res, "update expense")
}

func (q *queries) DeleteExpense(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM expenses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireAffected(res, "delete expense")
}

func (q *queries) ListExpenses(ctx context.Context, userID int64, p core.Period) ([]core.Expense, error) {
	start, end := p.Bounds()
	rows, err := q.db.QueryContext(ctx, expenseColumns+`
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date DESC, id DESC`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (q *queries) SumExpenses(ctx context.Context, userID int64, category string, p core.Period) (int64, error) {
	start, end := p.Bounds()
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM expenses
		WHERE user_id = $1 AND category = $2 AND date >= $3 AND date < $4`,
		userID, category, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	return total, nil
}

// --- export bookkeeping ---

func (q *queries) ListPendingExports(ctx context.Context, limit int) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx, expenseColumns+`
		WHERE export_status IN ('pending', 'error')
		ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (q *queries) SetExportStatus(ctx context.Context, id int64, status string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE expenses SET export_status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set export status: %w", err)
	}
	return requireAffected(res, "set export status")
}

// --- helpers ---

const (
	userColumns = `
		SELECT id, household_id, email, full_name, password_hash, role, is_active, created_at, updated_at
		FROM users`
	allocationColumns = `
		SELECT id, user_id, category, year, month, allocated_cents, spent_cents, balance_cents
		FROM allocations`
	expenseColumns = `
		SELECT id, user_id, date, category, subcategory, amount_cents,
			payment_mode, payment_details, comment, export_ref, version, export_status
		FROM expenses`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanHousehold(s scanner) (core.Household, error) {
	var h core.Household
	if err := s.Scan(&h.ID, &h.Name, &h.IsActive, &h.CreatedBy, &h.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Household{}, store.ErrNotFound
		}
		return core.Household{}, fmt.Errorf("scan household: %w", err)
	}
	return h, nil
}

func scanUser(s scanner) (core.User, error) {
	var (
		u         core.User
		household sql.NullInt64
		role      string
	)
	err := s.Scan(&u.ID, &household, &u.Email, &u.FullName, &u.PasswordHash, &role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.User{}, store.ErrNotFound
		}
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	if household.Valid {
		u.HouseholdID = &household.Int64
	}
	u.Role = core.Role(role)
	return u, nil
}

func scanIncome(s scanner) (core.Income, error) {
	var (
		in   core.Income
		date string
	)
	if err := s.Scan(&in.ID, &in.UserID, &date, &in.Source, &in.Amount.Cents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Income{}, store.ErrNotFound
		}
		return core.Income{}, fmt.Errorf("scan income: %w", err)
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Income{}, fmt.Errorf("parse income date %q: %w", date, err)
	}
	in.Date = d
	return in, nil
}

func scanAllocation(s scanner) (core.Allocation, error) {
	var a core.Allocation
	err := s.Scan(&a.ID, &a.UserID, &a.Category, &a.Year, &a.Month,
		&a.Allocated.Cents, &a.Spent.Cents, &a.Balance.Cents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Allocation{}, store.ErrNotFound
		}
		return core.Allocation{}, fmt.Errorf("scan allocation: %w", err)
	}
	return a, nil
}

func scanExpense(s scanner) (core.Expense, error) {
	var (
		e    core.Expense
		date string
	)
	err := s.Scan(&e.ID, &e.UserID, &date, &e.Category, &e.Subcategory, &e.Amount.Cents,
		&e.PaymentMode, &e.PaymentDetails, &e.Comment, &e.ExportRef, &e.Version, &e.ExportStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, store.ErrNotFound
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense date %q: %w", date, err)
	}
	e.Date = d
	return e, nil
}

func scanMonthTotals(rows *sql.Rows) (map[int]int64, error) {
	totals := make(map[int]int64)
	for rows.Next() {
		var (
			month int
			cents int64
		)
		if err := rows.Scan(&month, &cents); err != nil {
			return nil, fmt.Errorf("scan month total: %w", err)
		}
		totals[month] = cents
	}
	return totals, rows.Err()
}

// requireAffected turns a zero-row update/delete into ErrNotFound so
// cross-user writes are indistinguishable from missing rows.
func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
