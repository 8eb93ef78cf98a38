// Package sheets mirrors expense rows into a Google Sheets document,
// one sheet per calendar month. It is the write side of the export
// pipeline; the ledger never reads anything back from here.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"bilancio/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// refColumn is where the export ref lands; RemoveByRef scans it.
const refColumn = "F"

var headerRow = []any{"Date", "Category", "Subcategory", "Amount", "Comment", "Ref", "Version"}

type Service struct {
	svc           *gsheet.Service
	spreadsheetID string
}

// New builds a Sheets client from service-account credentials. Inline
// JSON wins over a credentials file when both are configured.
func New(ctx context.Context, spreadsheetID, credentialsFile, credentialsJSON string) (*Service, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}

	raw := []byte(strings.TrimSpace(credentialsJSON))
	if len(raw) == 0 {
		if strings.TrimSpace(credentialsFile) == "" {
			return nil, errors.New("missing service account credentials")
		}
		var err error
		raw, err = os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(raw),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Service{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// AppendExpenseRow writes one expense to the sheet named after its
// month, creating the sheet on first use.
func (s *Service) AppendExpenseRow(ctx context.Context, e core.Expense) error {
	if s.svc == nil {
		return errors.New("sheets service not initialized")
	}

	sheetName := e.Date.Period().String()
	if _, err := s.ensureSheet(ctx, sheetName); err != nil {
		return err
	}

	vr := &gsheet.ValueRange{Values: [][]any{buildExpenseRow(e)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, sheetName+"!A:G", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", sheetName, err)
	}

	slog.InfoContext(ctx, "Appended expense row",
		"sheet", sheetName,
		"export_ref", e.ExportRef,
		"version", e.Version)
	return nil
}

// RemoveByRef deletes every row whose ref cell equals exportRef across
// all month sheets, returning how many rows went away. The source
// expense is already gone, so the month cannot be derived and each
// month sheet gets scanned.
func (s *Service) RemoveByRef(ctx context.Context, exportRef string) (int, error) {
	if s.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(exportRef) == "" {
		return 0, errors.New("empty export ref")
	}

	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}

	removed := 0
	for _, sh := range meta.Sheets {
		if sh.Properties == nil || !isPeriodSheet(sh.Properties.Title) {
			continue
		}

		rng := fmt.Sprintf("%s!%s:%s", sh.Properties.Title, refColumn, refColumn)
		resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", rng, err)
		}

		rows := rowIndexesForRef(resp.Values, exportRef)
		if len(rows) == 0 {
			continue
		}

		// Bottom-up so earlier deletes do not shift pending indexes.
		requests := make([]*gsheet.Request, 0, len(rows))
		for _, row := range rows {
			requests = append(requests, &gsheet.Request{
				DeleteDimension: &gsheet.DeleteDimensionRequest{
					Range: &gsheet.DimensionRange{
						SheetId:    sh.Properties.SheetId,
						Dimension:  "ROWS",
						StartIndex: row,
						EndIndex:   row + 1,
					},
				},
			})
		}

		_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
			Requests: requests,
		}).Context(ctx).Do()
		if err != nil {
			return removed, fmt.Errorf("delete rows in %s: %w", sh.Properties.Title, err)
		}

		removed += len(rows)
	}

	slog.InfoContext(ctx, "Removed mirrored rows",
		"export_ref", exportRef,
		"removed", removed)
	return removed, nil
}

// ensureSheet returns the sheet id for name, creating the sheet with a
// header row when it does not exist yet.
func (s *Service) ensureSheet(ctx context.Context, name string) (int64, error) {
	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			return sh.Properties.SheetId, nil
		}
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: name},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("add sheet %s: %w", name, err)
	}

	vr := &gsheet.ValueRange{Values: [][]any{headerRow}}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, name+"!A1:G1", vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("write header in %s: %w", name, err)
	}

	slog.InfoContext(ctx, "Created month sheet", "sheet", name)

	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		return resp.Replies[0].AddSheet.Properties.SheetId, nil
	}
	return 0, nil
}
