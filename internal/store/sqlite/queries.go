package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/store"
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
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO households (name, is_active, created_by, created_at)
		VALUES (?, 1, ?, ?)`,
		h.Name, h.CreatedBy, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert household: %w", err)
	}
	return lastInsertID(res, "household")
}

func (q *queries) GetHousehold(ctx context.Context, id int64) (core.Household, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, is_active, created_by, created_at
		FROM households WHERE id = ?`, id)
	return scanHousehold(row)
}

// --- users ---

func (q *queries) CreateUser(ctx context.Context, u core.User) (int64, error) {
	now := time.Now().UTC().Unix()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (household_id, email, full_name, password_hash, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(u.HouseholdID), u.Email, u.FullName, u.PasswordHash, string(u.Role), u.IsActive, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return lastInsertID(res, "user")
}

func (q *queries) GetUserByID(ctx context.Context, id int64) (core.User, error) {
	row := q.db.QueryRowContext(ctx, userColumns+` WHERE id = ?`, id)
	return scanUser(row)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	row := q.db.QueryRowContext(ctx, userColumns+` WHERE email = ?`, email)
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
		WHERE household_id = ? ORDER BY full_name ASC`, householdID)
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
		UPDATE users SET household_id = ?, updated_at = ? WHERE id = ?`,
		householdID, time.Now().UTC().Unix(), userID)
	if err != nil {
		return fmt.Errorf("set user household: %w", err)
	}
	return requireAffected(res, "set user household")
}

func (q *queries) DeleteUser(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, "delete user")
}

func (q *queries) DeleteUserFinancials(ctx context.Context, userID int64) error {
	for _, table := range []string{"incomes", "expenses", "allocations"} {
		if _, err := q.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("delete user %s: %w", table, err)
		}
	}
	return nil
}

// --- incomes ---

func (q *queries) InsertIncome(ctx context.Context, in core.Income) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO incomes (user_id, date, source, amount_cents)
		VALUES (?, ?, ?, ?)`,
		in.UserID, in.Date.String(), in.Source, in.Amount.Cents)
	if err != nil {
		return 0, fmt.Errorf("insert income: %w", err)
	}
	return lastInsertID(res, "income")
}

func (q *queries) GetIncome(ctx context.Context, userID, id int64) (core.Income, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, source, amount_cents
		FROM incomes WHERE id = ? AND user_id = ?`, id, userID)
	return scanIncome(row)
}

func (q *queries) UpdateIncome(ctx context.Context, in core.Income) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE incomes SET date = ?, source = ?, amount_cents = ?
		WHERE id = ? AND user_id = ?`,
		in.Date.String(), in.Source, in.Amount.Cents, in.ID, in.UserID)
	if err != nil {
		return fmt.Errorf("update income: %w", err)
	}
	return requireAffected(res, "update income")
}

func (q *queries) DeleteIncome(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM incomes WHERE id = ? AND user_id = ?`, id, userID)
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
		WHERE user_id = ? AND date >= ? AND date < ?
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
		WHERE user_id = ? AND date >= ? AND date < ?`, userID, start, end).Scan(&total)
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
		WHERE user_id = ? AND date >= ? AND date < ?
		GROUP BY month`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("income totals by month: %w", err)
	}
	defer rows.Close()
	return scanMonthTotals(rows)
}

// --- allocations ---

func (q *queries) InsertAllocation(ctx context.Context, a core.Allocation) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO allocations (user_id, category, year, month, allocated_cents, spent_cents, balance_cents)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		a.UserID, a.Category, a.Year, a.Month, a.Allocated.Cents, a.Allocated.Cents)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, fmt.Errorf("insert allocation: %w", err)
	}
	return lastInsertID(res, "allocation")
}

func (q *queries) GetAllocation(ctx context.Context, userID, id int64) (core.Allocation, error) {
	row := q.db.QueryRowContext(ctx, allocationColumns+` WHERE id = ? AND user_id = ?`, id, userID)
	return scanAllocation(row)
}

func (q *queries) FindAllocation(ctx context.Context, userID int64, category string, p core.Period) (core.Allocation, error) {
	row := q.db.QueryRowContext(ctx, allocationColumns+`
		WHERE user_id = ? AND category = ? AND year = ? AND month = ?`,
		userID, category, p.Year, p.Month)
	return scanAllocation(row)
}

func (q *queries) UpdateAllocation(ctx context.Context, a core.Allocation) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE allocations SET category = ?, allocated_cents = ?
		WHERE id = ? AND user_id = ?`,
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
		UPDATE allocations SET spent_cents = ?, balance_cents = ? WHERE id = ?`,
		spentCents, balanceCents, id)
	if err != nil {
		return fmt.Errorf("set allocation derived fields: %w", err)
	}
	return nil
}

func (q *queries) DeleteAllocation(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM allocations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete allocation: %w", err)
	}
	return requireAffected(res, "delete allocation")
}

func (q *queries) ListAllocations(ctx context.Context, userID int64, p core.Period) ([]core.Allocation, error) {
	rows, err := q.db.QueryContext(ctx, allocationColumns+`
		WHERE user_id = ? AND year = ? AND month = ?
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
		WHERE user_id = ? AND year = ? AND month = ?
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
		WHERE user_id = ? AND year = ? AND month = ?`,
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
		WHERE user_id = ? AND year = ?
		GROUP BY month`, userID, year)
	if err != nil {
		return nil, fmt.Errorf("allocation totals by month: %w", err)
	}
	defer rows.Close()
	return scanMonthTotals(rows)
}

// --- expenses ---

func (q *queries) InsertExpense(ctx context.Context, e core.Expense) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO expenses (user_id, date, category, subcategory, amount_cents,
			payment_mode, payment_details, comment, export_ref, version, export_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 'pending')`,
		e.UserID, e.Date.String(), e.Category, e.Subcategory, e.Amount.Cents,
		e.PaymentMode, e.PaymentDetails, e.Comment, e.ExportRef)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	return lastInsertID(res, "expense")
}

func (q *queries) GetExpense(ctx context.Context, userID, id int64) (core.Expense, error) {
	row := q.db.QueryRowContext(ctx, expenseColumns+` WHERE id = ? AND user_id = ?`, id, userID)
	return scanExpense(row)
}

func (q *queries) GetExpenseByID(ctx context.Context, id int64) (core.Expense, error) {
	row := q.db.QueryRowContext(ctx, expenseColumns+` WHERE id = ?`, id)
	return scanExpense(row)
}

func (q *queries) UpdateExpense(ctx context.Context, e core.Expense) error {
	// Every content change produces a new version and re-queues the row
	// for the spreadsheet mirror.
	res, err := q.db.ExecContext(ctx, `
		UPDATE expenses SET date = ?, category = ?, subcategory = ?, amount_cents = ?,
			payment_mode = ?, payment_details = ?, comment = ?,
			version = version + 1, export_status = 'pending'
		WHERE id = ? AND user_id = ?`,
		e.Date.String(), e.Category, e.Subcategory, e.Amount.Cents,
		e.PaymentMode, e.PaymentDetails, e.Comment, e.ID, e.UserID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return requireAffected(res, "update expense")
}

func (q *queries) DeleteExpense(ctx context.Context, userID, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return requireAffected(res, "delete expense")
}

func (q *queries) ListExpenses(ctx context.Context, userID int64, p core.Period) ([]core.Expense, error) {
	start, end := p.Bounds()
	rows, err := q.db.QueryContext(ctx, expenseColumns+`
		WHERE user_id = ? AND date >= ? AND date < ?
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
		WHERE user_id = ? AND category = ? AND date >= ? AND date < ?`,
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
		ORDER BY id ASC LIMIT ?`, limit)
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
		UPDATE expenses SET export_status = ? WHERE id = ?`, status, id)
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
	var (
		h       core.Household
		created int64
	)
	if err := s.Scan(&h.ID, &h.Name, &h.IsActive, &h.CreatedBy, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Household{}, store.ErrNotFound
		}
		return core.Household{}, fmt.Errorf("scan household: %w", err)
	}
	h.CreatedAt = time.Unix(created, 0).UTC()
	return h, nil
}

func scanUser(s scanner) (core.User, error) {
	var (
		u                core.User
		household        sql.NullInt64
		role             string
		created, updated int64
	)
	err := s.Scan(&u.ID, &household, &u.Email, &u.FullName, &u.PasswordHash, &role, &u.IsActive, &created, &updated)
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
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
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

func lastInsertID(res sql.Result, entity string) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s insert id: %w", entity, err)
	}
	return id, nil
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
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
