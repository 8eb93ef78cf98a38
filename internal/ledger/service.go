// Package ledger implements the budgeting operations: income,
// allocation, and expense mutations with synchronous reconciliation,
// period copy, and the dashboard aggregations. All storage access goes
// through the store interfaces; dialects never leak in here.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"bilancio/internal/core"
	"bilancio/internal/store"
)

// Publisher mirrors committed expense mutations to the export pipeline.
// A nil publisher disables mirroring.
type Publisher interface {
	PublishExport(ctx context.Context, id, version int64) error
	PublishRemove(ctx context.Context, id int64, exportRef string) error
}

// Service orchestrates all ledger operations. Mutations are serialized
// per user: the user's lock is held across the whole storage
// transaction, so reconciliation always sees a quiescent partition.
type Service struct {
	store      store.Store
	publisher  Publisher
	locks      userLocks
	bcryptCost int
}

func NewService(st store.Store, publisher Publisher, bcryptCost int) *Service {
	return &Service{
		store:      st,
		publisher:  publisher,
		bcryptCost: bcryptCost,
	}
}

// Close releases the storage handle and the publisher, if any.
func (s *Service) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}

// Ping reports storage health for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// translate recovers storage-layer errors at the service boundary. Rows
// that are missing or owned by someone else both surface as
// core.ErrNotFound; raw driver errors get operation context.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return core.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) publishExport(ctx context.Context, id, version int64) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Export publisher not available, skipping export message", "id", id)
		return
	}
	if err := s.publisher.PublishExport(ctx, id, version); err != nil {
		// The pending scan replays rows whose publish was lost.
		slog.ErrorContext(ctx, "Failed to publish export message",
			"id", id,
			"version", version,
			"error", err)
	}
}

func (s *Service) publishRemove(ctx context.Context, id int64, exportRef string) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Export publisher not available, skipping remove message", "id", id)
		return
	}
	if err := s.publisher.PublishRemove(ctx, id, exportRef); err != nil {
		slog.ErrorContext(ctx, "Failed to publish remove message",
			"id", id,
			"export_ref", exportRef,
			"error", err)
	}
}
