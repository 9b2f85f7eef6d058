package collections

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-retail/meridian-credit/internal/platform/cache"
	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// RecordStore is what the escalation manager needs from persistence.
type RecordStore interface {
	GetRecord(ctx context.Context, id int64) (*LatePayment, error)
	SetStatus(ctx context.Context, id int64, status Status, notes string, resolvedAt *time.Time) (*LatePayment, error)
	BulkEscalate(ctx context.Context, daysThreshold int, marker string) (int, error)
	ListRecords(ctx context.Context, filter Filter) ([]LatePayment, error)
	GetStats(ctx context.Context) (*Stats, error)
	TopDefaulters(ctx context.Context, limit int) ([]Defaulter, error)
	RecordAudit(ctx context.Context, entry shared.AuditEntry) error
}

// Service moves late-payment records through the collection workflow.
type Service struct {
	store       RecordStore
	invalidator *cache.Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs an escalation service.
func NewService(store RecordStore, invalidator *cache.Invalidator, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// UpdateStatus transitions one record. resolved_at is set exactly when the
// new status is resolved and cleared otherwise, so re-applying a status is
// harmless.
func (s *Service) UpdateStatus(ctx context.Context, id int64, req UpdateStatusRequest, actor int64) (*LatePayment, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("%w: status must be pending, escalated or resolved", shared.ErrValidation)
	}
	var resolvedAt *time.Time
	if req.Status == StatusResolved {
		now := s.now()
		resolvedAt = &now
	}
	record, err := s.store.SetStatus(ctx, id, req.Status, req.Notes, resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordAudit(ctx, shared.AuditEntry{
		ActorID:  actor,
		Action:   "UPDATE_LATE_PAYMENT_STATUS",
		Entity:   "late_payment",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     map[string]any{"status": string(req.Status)},
	}); err != nil {
		s.logger.Warn("audit late-payment status", slog.Int64("record_id", id), slog.Any("error", err))
	}
	s.invalidator.InvalidatePrefixes(ctx, cache.PrefixLatePayments)
	return record, nil
}

// BulkEscalate flips every pending record at or past the threshold to
// escalated, appending an audit marker to its notes. Zero matches is a valid
// outcome, not an error.
func (s *Service) BulkEscalate(ctx context.Context, req BulkEscalateRequest, actor int64) (int, error) {
	if req.DaysThreshold < 1 {
		return 0, fmt.Errorf("%w: days threshold must be at least 1", shared.ErrValidation)
	}
	marker := fmt.Sprintf(" [Auto-escalated: %d+ days overdue]", req.DaysThreshold)
	count, err := s.store.BulkEscalate(ctx, req.DaysThreshold, marker)
	if err != nil {
		return 0, err
	}

	if err := s.store.RecordAudit(ctx, shared.AuditEntry{
		ActorID: actor,
		Action:  "BULK_ESCALATE",
		Entity:  "late_payment",
		Meta:    map[string]any{"days_threshold": req.DaysThreshold, "count": count},
	}); err != nil {
		s.logger.Warn("audit bulk escalate", slog.Any("error", err))
	}
	if count > 0 {
		s.invalidator.InvalidatePrefixes(ctx, cache.PrefixLatePayments)
	}
	return count, nil
}

// GetRecord returns one late-payment record.
func (s *Service) GetRecord(ctx context.Context, id int64) (*LatePayment, error) {
	return s.store.GetRecord(ctx, id)
}

// ListRecords returns records matching the filter.
func (s *Service) ListRecords(ctx context.Context, filter Filter) ([]LatePayment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.ListRecords(ctx, filter)
}

// GetStats summarizes the queue.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	return s.store.GetStats(ctx)
}

// TopDefaulters lists the customers with the largest open exposure.
func (s *Service) TopDefaulters(ctx context.Context, limit int) ([]Defaulter, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.store.TopDefaulters(ctx, limit)
}
