// Package worker consumes the export pipeline: it mirrors expense rows
// into the sheet on export messages, drops mirrored rows on remove
// messages, and replays pending rows the queue lost.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/store"
)

// ExpenseSource is the slice of storage the worker reads and marks.
type ExpenseSource interface {
	GetExpenseByID(ctx context.Context, id int64) (core.Expense, error)
	ListPendingExports(ctx context.Context, limit int) ([]core.Expense, error)
	SetExportStatus(ctx context.Context, id int64, status string) error
}

// SheetWriter is the mirror target.
type SheetWriter interface {
	AppendExpenseRow(ctx context.Context, e core.Expense) error
	RemoveByRef(ctx context.Context, exportRef string) (int, error)
}

type Worker struct {
	source    ExpenseSource
	sheets    SheetWriter
	batchSize int
}

func NewWorker(source ExpenseSource, sheets SheetWriter, batchSize int) *Worker {
	return &Worker{
		source:    source,
		sheets:    sheets,
		batchSize: batchSize,
	}
}

// HandleExportMessage mirrors one expense row. The row is re-read from
// storage, so the message only tells the worker which id to look at:
// stale and duplicate deliveries are detected against the live row and
// acked without writing.
func (w *Worker) HandleExportMessage(ctx context.Context, msg *amqp.ExportMessage) error {
	expense, err := w.source.GetExpenseByID(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted before the worker caught up; the remove message
			// cleans the sheet.
			slog.InfoContext(ctx, "Expense gone, dropping export message", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("load expense %d: %w", msg.ID, err)
	}

	if expense.Version > msg.Version {
		slog.InfoContext(ctx, "Skipping stale export message",
			"id", msg.ID,
			"message_version", msg.Version,
			"row_version", expense.Version)
		return nil
	}
	if expense.ExportStatus == core.ExportStatusExported {
		slog.InfoContext(ctx, "Expense already exported, dropping duplicate",
			"id", msg.ID,
			"version", msg.Version)
		return nil
	}

	return w.export(ctx, expense)
}

// HandleRemoveMessage drops the mirrored rows of a deleted expense.
func (w *Worker) HandleRemoveMessage(ctx context.Context, msg *amqp.RemoveMessage) error {
	removed, err := w.sheets.RemoveByRef(ctx, msg.ExportRef)
	if err != nil {
		return fmt.Errorf("remove rows for %s: %w", msg.ExportRef, err)
	}

	slog.InfoContext(ctx, "Removed mirrored expense",
		"id", msg.ID,
		"export_ref", msg.ExportRef,
		"rows", removed)
	return nil
}

// ProcessPendingExports replays rows stuck in pending or error state.
// It runs at startup and on a timer, covering publishes that never
// reached the broker.
func (w *Worker) ProcessPendingExports(ctx context.Context) error {
	pending, err := w.source.ListPendingExports(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Replaying pending exports", "count", len(pending))

	exported := 0
	failed := 0
	for _, expense := range pending {
		if err := w.export(ctx, expense); err != nil {
			slog.ErrorContext(ctx, "Failed to replay export",
				"id", expense.ID,
				"error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Pending replay completed",
		"total", len(pending),
		"exported", exported,
		"errors", failed)
	return nil
}

// RunPendingScan replays pending exports immediately and then on every
// tick until ctx is done.
func (w *Worker) RunPendingScan(ctx context.Context, interval time.Duration) error {
	if err := w.ProcessPendingExports(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup pending scan failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPendingExports(ctx); err != nil {
				slog.ErrorContext(ctx, "Pending scan failed", "error", err)
			}
		}
	}
}

func (w *Worker) export(ctx context.Context, expense core.Expense) error {
	if err := w.sheets.AppendExpenseRow(ctx, expense); err != nil {
		if markErr := w.source.SetExportStatus(ctx, expense.ID, core.ExportStatusError); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"id", expense.ID,
				"error", markErr)
		}
		return fmt.Errorf("append to sheet: %w", err)
	}

	if err := w.source.SetExportStatus(ctx, expense.ID, core.ExportStatusExported); err != nil {
		// The row made it to the sheet; only the bookkeeping is behind.
		// The next scan retries the status write via a duplicate append
		// guard in HandleExportMessage.
		slog.ErrorContext(ctx, "Failed to mark exported",
			"id", expense.ID,
			"error", err)
	}

	slog.InfoContext(ctx, "Exported expense",
		"id", expense.ID,
		"export_ref", expense.ExportRef,
		"version", expense.Version)
	return nil
}
