package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/log"

	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExportXLSX streams a workbook with one sheet per entity for the
// requested period. Amounts are rendered as decimal strings, the same
// formatting the JSON API uses.
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	year, month := parseYearMonth(r)
	period := core.Period{Year: year, Month: month}

	incomes, err := s.ledger.ListIncomes(r.Context(), user.ID, period)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	allocations, err := s.ledger.ListAllocations(r.Context(), user.ID, period)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	expenses, err := s.ledger.ListExpenses(r.Context(), user.ID, period)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Incomes"); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if _, err := f.NewSheet("Allocations"); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if _, err := f.NewSheet("Expenses"); err != nil {
		respondServiceError(w, r, err)
		return
	}

	incomeHeaders := []string{"Date", "Source", "Amount"}
	for i, h := range incomeHeaders {
		f.SetCellValue("Incomes", fmt.Sprintf("%c1", 'A'+i), h)
	}
	for idx, in := range incomes {
		row := idx + 2
		f.SetCellValue("Incomes", fmt.Sprintf("A%d", row), in.Date.String())
		f.SetCellValue("Incomes", fmt.Sprintf("B%d", row), in.Source)
		f.SetCellValue("Incomes", fmt.Sprintf("C%d", row), in.Amount.DecimalString())
	}
	f.SetColWidth("Incomes", "A", "A", 12)
	f.SetColWidth("Incomes", "B", "B", 30)
	f.SetColWidth("Incomes", "C", "C", 12)

	allocationHeaders := []string{"Category", "Allocated", "Spent", "Balance"}
	for i, h := range allocationHeaders {
		f.SetCellValue("Allocations", fmt.Sprintf("%c1", 'A'+i), h)
	}
	for idx, a := range allocations {
		row := idx + 2
		f.SetCellValue("Allocations", fmt.Sprintf("A%d", row), a.Category)
		f.SetCellValue("Allocations", fmt.Sprintf("B%d", row), a.Allocated.DecimalString())
		f.SetCellValue("Allocations", fmt.Sprintf("C%d", row), a.Spent.DecimalString())
		f.SetCellValue("Allocations", fmt.Sprintf("D%d", row), a.Balance.DecimalString())
	}
	f.SetColWidth("Allocations", "A", "A", 20)
	f.SetColWidth("Allocations", "B", "D", 12)

	expenseHeaders := []string{"Date", "Category", "Subcategory", "Amount", "Payment Mode", "Comment"}
	for i, h := range expenseHeaders {
		f.SetCellValue("Expenses", fmt.Sprintf("%c1", 'A'+i), h)
	}
	for idx, e := range expenses {
		row := idx + 2
		f.SetCellValue("Expenses", fmt.Sprintf("A%d", row), e.Date.String())
		f.SetCellValue("Expenses", fmt.Sprintf("B%d", row), e.Category)
		f.SetCellValue("Expenses", fmt.Sprintf("C%d", row), e.Subcategory)
		f.SetCellValue("Expenses", fmt.Sprintf("D%d", row), e.Amount.DecimalString())
		f.SetCellValue("Expenses", fmt.Sprintf("E%d", row), e.PaymentMode)
		f.SetCellValue("Expenses", fmt.Sprintf("F%d", row), e.Comment)
	}
	f.SetColWidth("Expenses", "A", "A", 12)
	f.SetColWidth("Expenses", "B", "C", 18)
	f.SetColWidth("Expenses", "D", "E", 12)
	f.SetColWidth("Expenses", "F", "F", 40)

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("bilancio-%s.xlsx", period)))

	if err := f.Write(w); err != nil {
		// Headers are already out; nothing left to send but the log.
		slog.ErrorContext(r.Context(), "Failed to write workbook",
			log.FieldUserID, user.ID,
			log.FieldError, err)
	}
}
