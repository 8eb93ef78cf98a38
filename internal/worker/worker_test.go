package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/store"
)

type fakeSource struct {
	expenses  map[int64]core.Expense
	pending   []core.Expense
	statuses  map[int64]string
	listErr   error
	statusErr error
}

func newFakeSource(expenses ...core.Expense) *fakeSource {
	s := &fakeSource{
		expenses: make(map[int64]core.Expense),
		statuses: make(map[int64]string),
	}
	for _, e := range expenses {
		s.expenses[e.ID] = e
	}
	return s
}

func (s *fakeSource) GetExpenseByID(_ context.Context, id int64) (core.Expense, error) {
	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, store.ErrNotFound
	}
	return e, nil
}

func (s *fakeSource) ListPendingExports(_ context.Context, limit int) ([]core.Expense, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeSource) SetExportStatus(_ context.Context, id int64, status string) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statuses[id] = status
	return nil
}

type fakeSheets struct {
	appended  []core.Expense
	appendErr error
	removed   []string
	removeN   int
	removeErr error
}

func (f *fakeSheets) AppendExpenseRow(_ context.Context, e core.Expense) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, e)
	return nil
}

func (f *fakeSheets) RemoveByRef(_ context.Context, exportRef string) (int, error) {
	if f.removeErr != nil {
		return 0, f.removeErr
	}
	f.removed = append(f.removed, exportRef)
	return f.removeN, nil
}

func testExpense(id, version int64, status string) core.Expense {
	return core.Expense{
		ID:           id,
		UserID:       1,
		Date:         core.NewDate(2025, 6, 15),
		Category:     "Food",
		Subcategory:  "Groceries",
		Amount:       core.Money{Cents: 4250},
		ExportRef:    "ref-1",
		Version:      version,
		ExportStatus: status,
	}
}

func TestHandleExportMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("exports pending expense", func(t *testing.T) {
		source := newFakeSource(testExpense(1, 1, core.ExportStatusPending))
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		msg := amqp.NewExportMessage(1, 1)
		if err := w.HandleExportMessage(ctx, msg); err != nil {
			t.Fatalf("HandleExportMessage: %v", err)
		}
		if len(sheets.appended) != 1 {
			t.Fatalf("appended %d rows, want 1", len(sheets.appended))
		}
		if got := source.statuses[1]; got != core.ExportStatusExported {
			t.Errorf("status = %q, want %q", got, core.ExportStatusExported)
		}
	})

	t.Run("acks when expense is gone", func(t *testing.T) {
		source := newFakeSource()
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.HandleExportMessage(ctx, amqp.NewExportMessage(99, 1)); err != nil {
			t.Fatalf("expected nil for missing expense, got %v", err)
		}
		if len(sheets.appended) != 0 {
			t.Errorf("appended %d rows, want 0", len(sheets.appended))
		}
	})

	t.Run("skips stale message", func(t *testing.T) {
		source := newFakeSource(testExpense(1, 3, core.ExportStatusPending))
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.HandleExportMessage(ctx, amqp.NewExportMessage(1, 1)); err != nil {
			t.Fatalf("expected stale message to be dropped, got %v", err)
		}
		if len(sheets.appended) != 0 {
			t.Errorf("appended %d rows, want 0", len(sheets.appended))
		}
		if _, ok := source.statuses[1]; ok {
			t.Error("status changed for a stale message")
		}
	})

	t.Run("skips duplicate delivery", func(t *testing.T) {
		source := newFakeSource(testExpense(1, 2, core.ExportStatusExported))
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.HandleExportMessage(ctx, amqp.NewExportMessage(1, 2)); err != nil {
			t.Fatalf("expected duplicate to be dropped, got %v", err)
		}
		if len(sheets.appended) != 0 {
			t.Errorf("appended %d rows, want 0", len(sheets.appended))
		}
	})

	t.Run("marks error and requeues on sheet failure", func(t *testing.T) {
		source := newFakeSource(testExpense(1, 1, core.ExportStatusPending))
		sheets := &fakeSheets{appendErr: errors.New("quota exceeded")}
		w := NewWorker(source, sheets, 10)

		err := w.HandleExportMessage(ctx, amqp.NewExportMessage(1, 1))
		if err == nil {
			t.Fatal("expected error when sheet append fails")
		}
		if got := source.statuses[1]; got != core.ExportStatusError {
			t.Errorf("status = %q, want %q", got, core.ExportStatusError)
		}
	})

	t.Run("re-exports updated expense", func(t *testing.T) {
		// After an update the row is back to pending with a higher
		// version; a message carrying that version goes through.
		source := newFakeSource(testExpense(1, 2, core.ExportStatusPending))
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.HandleExportMessage(ctx, amqp.NewExportMessage(1, 2)); err != nil {
			t.Fatalf("HandleExportMessage: %v", err)
		}
		if len(sheets.appended) != 1 {
			t.Fatalf("appended %d rows, want 1", len(sheets.appended))
		}
		if got := sheets.appended[0].Version; got != 2 {
			t.Errorf("appended version = %d, want 2", got)
		}
	})
}

func TestHandleRemoveMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("removes mirrored rows", func(t *testing.T) {
		sheets := &fakeSheets{removeN: 2}
		w := NewWorker(newFakeSource(), sheets, 10)

		msg := amqp.NewRemoveMessage(1, "ref-1")
		if err := w.HandleRemoveMessage(ctx, msg); err != nil {
			t.Fatalf("HandleRemoveMessage: %v", err)
		}
		if len(sheets.removed) != 1 || sheets.removed[0] != "ref-1" {
			t.Errorf("removed refs = %v, want [ref-1]", sheets.removed)
		}
	})

	t.Run("requeues on sheet failure", func(t *testing.T) {
		sheets := &fakeSheets{removeErr: errors.New("backend error")}
		w := NewWorker(newFakeSource(), sheets, 10)

		if err := w.HandleRemoveMessage(ctx, amqp.NewRemoveMessage(1, "ref-1")); err == nil {
			t.Fatal("expected error when removal fails")
		}
	})
}

func TestProcessPendingExports(t *testing.T) {
	ctx := context.Background()

	t.Run("empty backlog", func(t *testing.T) {
		source := newFakeSource()
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.ProcessPendingExports(ctx); err != nil {
			t.Fatalf("ProcessPendingExports: %v", err)
		}
		if len(sheets.appended) != 0 {
			t.Errorf("appended %d rows, want 0", len(sheets.appended))
		}
	})

	t.Run("replays backlog", func(t *testing.T) {
		source := newFakeSource()
		source.pending = []core.Expense{
			testExpense(1, 1, core.ExportStatusPending),
			testExpense(2, 1, core.ExportStatusError),
			testExpense(3, 1, core.ExportStatusPending),
		}
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 10)

		if err := w.ProcessPendingExports(ctx); err != nil {
			t.Fatalf("ProcessPendingExports: %v", err)
		}
		if len(sheets.appended) != 3 {
			t.Fatalf("appended %d rows, want 3", len(sheets.appended))
		}
		for id := int64(1); id <= 3; id++ {
			if got := source.statuses[id]; got != core.ExportStatusExported {
				t.Errorf("status[%d] = %q, want %q", id, got, core.ExportStatusExported)
			}
		}
	})

	t.Run("continues past a failing row", func(t *testing.T) {
		source := newFakeSource()
		source.pending = []core.Expense{
			testExpense(1, 1, core.ExportStatusPending),
			testExpense(2, 1, core.ExportStatusPending),
		}
		sheets := &fakeSheets{appendErr: errors.New("quota exceeded")}
		w := NewWorker(source, sheets, 10)

		// Per-row failures are logged, not returned; the scan retries
		// them on the next tick.
		if err := w.ProcessPendingExports(ctx); err != nil {
			t.Fatalf("ProcessPendingExports: %v", err)
		}
		for id := int64(1); id <= 2; id++ {
			if got := source.statuses[id]; got != core.ExportStatusError {
				t.Errorf("status[%d] = %q, want %q", id, got, core.ExportStatusError)
			}
		}
	})

	t.Run("respects batch size", func(t *testing.T) {
		source := newFakeSource()
		for i := int64(1); i <= 5; i++ {
			source.pending = append(source.pending, testExpense(i, 1, core.ExportStatusPending))
		}
		sheets := &fakeSheets{}
		w := NewWorker(source, sheets, 2)

		if err := w.ProcessPendingExports(ctx); err != nil {
			t.Fatalf("ProcessPendingExports: %v", err)
		}
		if len(sheets.appended) != 2 {
			t.Errorf("appended %d rows, want 2", len(sheets.appended))
		}
	})

	t.Run("propagates list failure", func(t *testing.T) {
		source := newFakeSource()
		source.listErr = errors.New("db gone")
		w := NewWorker(source, &fakeSheets{}, 10)

		if err := w.ProcessPendingExports(ctx); err == nil {
			t.Fatal("expected error when listing fails")
		}
	})
}

func TestRunPendingScanStopsOnCancel(t *testing.T) {
	source := newFakeSource()
	source.pending = []core.Expense{testExpense(1, 1, core.ExportStatusPending)}
	sheets := &fakeSheets{}
	w := NewWorker(source, sheets, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.RunPendingScan(ctx, time.Hour)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("RunPendingScan returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunPendingScan did not stop after cancel")
	}

	// The startup pass runs before the first tick.
	if len(sheets.appended) != 1 {
		t.Errorf("appended %d rows, want 1", len(sheets.appended))
	}
}
