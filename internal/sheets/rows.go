package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"bilancio/internal/core"
)

// buildExpenseRow renders the mirrored columns A:G. Amount goes out as
// euros so the sheet can sum the column.
func buildExpenseRow(e core.Expense) []any {
	return []any{
		e.Date.String(),
		e.Category,
		e.Subcategory,
		float64(e.Amount.Cents) / 100.0,
		e.Comment,
		e.ExportRef,
		e.Version,
	}
}

// isPeriodSheet reports whether a sheet title is a YYYY-MM month name.
// Other sheets in the document are left alone.
func isPeriodSheet(title string) bool {
	if len(title) != 7 || title[4] != '-' {
		return false
	}
	year, err := strconv.Atoi(title[:4])
	if err != nil || year < 1000 {
		return false
	}
	month, err := strconv.Atoi(title[5:])
	if err != nil || month < 1 || month > 12 {
		return false
	}
	return true
}

// rowIndexesForRef returns the zero-based indexes of rows whose ref
// cell equals exportRef, sorted descending for bottom-up deletion.
func rowIndexesForRef(values [][]any, exportRef string) []int64 {
	var rows []int64
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == exportRef {
			rows = append(rows, int64(i))
		}
	}
	for l, r := 0, len(rows)-1; l < r; l, r = l+1, r-1 {
		rows[l], rows[r] = rows[r], rows[l]
	}
	return rows
}
