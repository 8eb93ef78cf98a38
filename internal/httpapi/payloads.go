package httpapi

import (
	"bilancio/internal/core"
)

// Wire types for the JSON API. Amounts travel as decimal strings
// ("12.34", comma separator accepted on input) and are stored as cents;
// dates are YYYY-MM-DD.

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

type incomeRequest struct {
	Date   string `json:"date"`
	Source string `json:"source"`
	Amount string `json:"amount"`
}

func (req incomeRequest) domain(userID int64) (core.Income, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Income{}, err
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Income{}, err
	}
	return core.Income{
		UserID: userID,
		Date:   date,
		Source: req.Source,
		Amount: core.Money{Cents: cents},
	}, nil
}

type incomeDTO struct {
	ID     int64  `json:"id"`
	Date   string `json:"date"`
	Source string `json:"source"`
	Amount string `json:"amount"`
}

func toIncomeDTO(in core.Income) incomeDTO {
	return incomeDTO{
		ID:     in.ID,
		Date:   in.Date.String(),
		Source: in.Source,
		Amount: in.Amount.DecimalString(),
	}
}

func toIncomeDTOs(incomes []core.Income) []incomeDTO {
	out := make([]incomeDTO, 0, len(incomes))
	for _, in := range incomes {
		out = append(out, toIncomeDTO(in))
	}
	return out
}

type allocationRequest struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

func (req allocationRequest) domain(userID int64) (core.Allocation, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Allocation{}, err
	}
	return core.Allocation{
		UserID:    userID,
		Category:  req.Category,
		Year:      req.Year,
		Month:     req.Month,
		Allocated: core.Money{Cents: cents},
	}, nil
}

type allocationDTO struct {
	ID        int64  `json:"id"`
	Category  string `json:"category"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Allocated string `json:"allocated_amount"`
	Spent     string `json:"spent_amount"`
	Balance   string `json:"balance"`
}

func toAllocationDTO(a core.Allocation) allocationDTO {
	return allocationDTO{
		ID:        a.ID,
		Category:  a.Category,
		Year:      a.Year,
		Month:     a.Month,
		Allocated: a.Allocated.DecimalString(),
		Spent:     a.Spent.DecimalString(),
		Balance:   a.Balance.DecimalString(),
	}
}

func toAllocationDTOs(allocations []core.Allocation) []allocationDTO {
	out := make([]allocationDTO, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, toAllocationDTO(a))
	}
	return out
}

type expenseRequest struct {
	Date           string `json:"date"`
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory"`
	Amount         string `json:"amount"`
	PaymentMode    string `json:"payment_mode"`
	PaymentDetails string `json:"payment_details"`
	Comment        string `json:"comment"`
}

func (req expenseRequest) domain(userID int64) (core.Expense, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Expense{}, err
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		UserID:         userID,
		Date:           date,
		Category:       req.Category,
		Subcategory:    req.Subcategory,
		Amount:         core.Money{Cents: cents},
		PaymentMode:    req.PaymentMode,
		PaymentDetails: req.PaymentDetails,
		Comment:        req.Comment,
	}, nil
}

type expenseDTO struct {
	ID             int64  `json:"id"`
	Date           string `json:"date"`
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory,omitempty"`
	Amount         string `json:"amount"`
	PaymentMode    string `json:"payment_mode,omitempty"`
	PaymentDetails string `json:"payment_details,omitempty"`
	Comment        string `json:"comment,omitempty"`
	ExportRef      string `json:"export_ref"`
	Version        int64  `json:"version"`
	ExportStatus   string `json:"export_status"`
}

func toExpenseDTO(e core.Expense) expenseDTO {
	return expenseDTO{
		ID:             e.ID,
		Date:           e.Date.String(),
		Category:       e.Category,
		Subcategory:    e.Subcategory,
		Amount:         e.Amount.DecimalString(),
		PaymentMode:    e.PaymentMode,
		PaymentDetails: e.PaymentDetails,
		Comment:        e.Comment,
		ExportRef:      e.ExportRef,
		Version:        e.Version,
		ExportStatus:   e.ExportStatus,
	}
}

func toExpenseDTOs(expenses []core.Expense) []expenseDTO {
	out := make([]expenseDTO, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseDTO(e))
	}
	return out
}

type copyPeriodRequest struct {
	FromYear  int `json:"from_year"`
	FromMonth int `json:"from_month"`
	ToYear    int `json:"to_year"`
	ToMonth   int `json:"to_month"`
}

type copyPeriodResponse struct {
	Copied int `json:"copied"`
}

type summaryDTO struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	TotalIncome    string  `json:"total_income"`
	TotalAllocated string  `json:"total_allocated"`
	TotalSpent     string  `json:"total_spent"`
	Balance        string  `json:"balance"`
	Savings        string  `json:"savings"`
	BudgetUsedPct  float64 `json:"budget_used_percentage"`
}

func toSummaryDTO(sum core.PeriodSummary) summaryDTO {
	return summaryDTO{
		Year:           sum.Year,
		Month:          sum.Month,
		TotalIncome:    sum.TotalIncome.DecimalString(),
		TotalAllocated: sum.TotalAllocated.DecimalString(),
		TotalSpent:     sum.TotalSpent.DecimalString(),
		Balance:        sum.Balance.DecimalString(),
		Savings:        sum.Savings.DecimalString(),
		BudgetUsedPct:  sum.BudgetUsedPct,
	}
}

type liquidityDTO struct {
	Month     int    `json:"month"`
	Member    string `json:"member,omitempty"`
	Liquidity string `json:"liquidity"`
}

func toLiquidityDTOs(entries []core.LiquidityEntry) []liquidityDTO {
	out := make([]liquidityDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, liquidityDTO{
			Month:     e.Month,
			Member:    e.Member,
			Liquidity: e.Liquidity.DecimalString(),
		})
	}
	return out
}

type householdRequest struct {
	Name string `json:"name"`
}

type householdDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type createUserRequest struct {
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	HouseholdID *int64 `json:"household_id"`
}

type userDTO struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Role        string `json:"role"`
	HouseholdID *int64 `json:"household_id,omitempty"`
	IsActive    bool   `json:"is_active"`
}

func toUserDTO(u core.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Role:        string(u.Role),
		HouseholdID: u.HouseholdID,
		IsActive:    u.IsActive,
	}
}

func toUserDTOs(users []core.User) []userDTO {
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	return out
}
