package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

const (
	ExportStatusPending  = "pending"
	ExportStatusExported = "exported"
	ExportStatusError    = "error"
)

type (
	Role string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Period identifies one calendar month; allocations and dashboard
	// figures are always scoped to a period.
	Period struct {
		Year  int
		Month int // 1-12
	}

	Household struct {
		ID        int64
		Name      string
		IsActive  bool
		CreatedBy int64
		CreatedAt time.Time
	}

	User struct {
		ID           int64
		HouseholdID  *int64 // nil for a system-level super-user
		Email        string
		FullName     string
		PasswordHash string
		Role         Role
		IsActive     bool
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	Income struct {
		ID     int64
		UserID int64
		Date   Date
		Source string
		Amount Money
	}

	// Allocation is a budgeted amount for one category in one period.
	// Spent and Balance are derived: they must always equal the sum of
	// matching expense amounts and Allocated minus that sum.
	Allocation struct {
		ID        int64
		UserID    int64
		Category  string
		Year      int
		Month     int // 1-12
		Allocated Money
		Spent     Money
		Balance   Money
	}

	Expense struct {
		ID             int64
		UserID         int64
		Date           Date
		Category       string
		Subcategory    string
		Amount         Money
		PaymentMode    string
		PaymentDetails string
		Comment        string
		ExportRef      string // written once at insert, never changes
		Version        int64  // bumped on every update
		ExportStatus   string
	}
)

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string, rejecting impossible calendar
// days such as 2025-02-30.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String renders the date in the YYYY-MM-DD storage format.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Period returns the calendar period the date falls in.
func (d Date) Period() Period {
	return Period{Year: d.Time.Year(), Month: int(d.Time.Month())}
}

func (p Period) Validate() error {
	if p.Year < 1000 || p.Year > 9999 {
		return ErrInvalidYear
	}
	if p.Month < 1 || p.Month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// String renders the period as YYYY-MM, the format used for export
// sheet names and cache keys.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Bounds returns the inclusive start and exclusive end of the period as
// YYYY-MM-DD strings. Dates are stored as text in that format, so
// lexicographic comparison against the bounds is date comparison.
func (p Period) Bounds() (start, end string) {
	start = fmt.Sprintf("%04d-%02d-01", p.Year, p.Month)
	ny, nm := p.Year, p.Month+1
	if nm > 12 {
		ny, nm = ny+1, 1
	}
	end = fmt.Sprintf("%04d-%02d-01", ny, nm)
	return start, end
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidatePositive rejects zero as well; income entries require a
// strictly positive amount.
func (m Money) ValidatePositive() error {
	if m.Cents <= 0 {
		return ErrAmountNotPositive
	}
	return nil
}

func (i Income) Validate() error {
	if err := i.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(i.Source) == "" {
		return ErrEmptySource
	}
	if len(i.Source) > 200 {
		return fmt.Errorf("%w: source too long (max 200 characters)", ErrValidation)
	}
	return i.Amount.ValidatePositive()
}

func (a Allocation) Validate() error {
	if strings.TrimSpace(a.Category) == "" {
		return ErrEmptyCategory
	}
	if len(a.Category) > 100 {
		return fmt.Errorf("%w: category too long (max 100 characters)", ErrValidation)
	}
	if err := (Period{Year: a.Year, Month: a.Month}).Validate(); err != nil {
		return err
	}
	return a.Allocated.Validate()
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if len(e.Category) > 100 {
		return fmt.Errorf("%w: category too long (max 100 characters)", ErrValidation)
	}
	if len(e.Comment) > 500 {
		return fmt.Errorf("%w: comment too long (max 500 characters)", ErrValidation)
	}
	return e.Amount.Validate()
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return ErrEmptyEmail
	}
	if strings.TrimSpace(u.FullName) == "" {
		return ErrEmptyName
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

func (h Household) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return ErrEmptyName
	}
	return nil
}
