package risk

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-retail/meridian-credit/internal/shared"
)

// Score folds the aggregated stats into an additive 0..100 score. The overdue
// ratio contributes fractionally, so the total stays a float and boundary
// comparisons happen against the raw sum. A customer with no invoice history
// scores zero.
func Score(s Stats) float64 {
	if s.TotalInvoices == 0 {
		return 0
	}

	score := s.OverdueRatio() * 30

	switch {
	case s.MaxDaysOverdue > 90:
		score += 25
	case s.MaxDaysOverdue > 60:
		score += 20
	case s.MaxDaysOverdue > 30:
		score += 15
	case s.MaxDaysOverdue > 0:
		score += 10
	}

	switch {
	case s.TotalOutstanding > 200_000:
		score += 20
	case s.TotalOutstanding > 100_000:
		score += 15
	case s.TotalOutstanding > 50_000:
		score += 10
	case s.TotalOutstanding > 25_000:
		score += 5
	}

	switch rate := s.PaymentRate(); {
	case rate < 0.5:
		score += 15
	case rate < 0.7:
		score += 10
	case rate < 0.85:
		score += 5
	}

	switch ratio := s.PartialRatio(); {
	case ratio > 0.5:
		score += 10
	case ratio > 0.3:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

// FlagFor maps a score to a flag. Severe delinquency forces red regardless of
// the additive score.
func FlagFor(score float64, s Stats) Flag {
	if s.MaxDaysOverdue > 180 || s.TotalOutstanding > 500_000 {
		return FlagRed
	}
	switch {
	case score >= 60:
		return FlagRed
	case score >= 30:
		return FlagYellow
	default:
		return FlagGreen
	}
}

// Scorer recomputes and persists customer risk flags. Every failure is logged
// and swallowed so a scoring bug can never abort the payment or sweep that
// triggered it.
type Scorer struct {
	logger *slog.Logger
}

// NewScorer constructs a scorer.
func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Recompute reads the trailing-12-month invoice history for the customer and
// updates the stored flag when it changed. Runs against whatever executor the
// caller holds, so it participates in the payment transaction when invoked
// from the allocator. No-op when the customer is missing or has the manual
// override set.
func (s *Scorer) Recompute(ctx context.Context, db shared.DBTX, customerID int64) {
	var (
		stored   Flag
		override bool
	)
	err := db.QueryRow(ctx,
		`SELECT risk_flag, flag_override FROM customers WHERE id = $1`, customerID).
		Scan(&stored, &override)
	if errors.Is(err, pgx.ErrNoRows) {
		return
	}
	if err != nil {
		s.logger.Warn("risk: load customer", slog.Int64("customer_id", customerID), slog.Any("error", err))
		return
	}
	if override {
		return
	}

	stats, err := s.loadStats(ctx, db, customerID)
	if err != nil {
		s.logger.Warn("risk: aggregate stats", slog.Int64("customer_id", customerID), slog.Any("error", err))
		return
	}

	flag := FlagFor(Score(stats), stats)
	if flag == stored {
		return
	}

	if _, err := db.Exec(ctx,
		`UPDATE customers SET risk_flag = $1, updated_at = NOW() WHERE id = $2 AND flag_override = FALSE`,
		flag, customerID); err != nil {
		s.logger.Warn("risk: update flag", slog.Int64("customer_id", customerID), slog.Any("error", err))
		return
	}
	s.logger.Info("risk flag changed",
		slog.Int64("customer_id", customerID),
		slog.String("from", string(stored)),
		slog.String("to", string(flag)))
}

func (s *Scorer) loadStats(ctx context.Context, db shared.DBTX, customerID int64) (Stats, error) {
	var st Stats
	err := db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE i.status = 'overdue'),
		        COUNT(*) FILTER (WHERE i.status = 'partial'),
		        COALESCE(MAX(CASE WHEN i.status = 'overdue'
		                          THEN GREATEST(CURRENT_DATE - i.due_date::date, 0) END), 0),
		        COALESCE(AVG(CASE WHEN i.status = 'overdue'
		                          THEN GREATEST(CURRENT_DATE - i.due_date::date, 0) END), 0),
		        COALESCE(SUM(i.remaining_balance) FILTER (WHERE i.status <> 'paid'), 0),
		        COALESCE(SUM(i.paid_amount), 0),
		        COALESCE(SUM(i.total_amount), 0)
		 FROM invoices i
		 LEFT JOIN sales s ON s.id = i.sale_id
		 WHERE i.customer_id = $1
		   AND COALESCE(s.sale_date, i.created_at) >= NOW() - INTERVAL '12 months'`,
		customerID).
		Scan(&st.TotalInvoices, &st.OverdueInvoices, &st.PartialInvoices,
			&st.MaxDaysOverdue, &st.AvgDaysOverdue,
			&st.TotalOutstanding, &st.TotalPaid, &st.TotalCredit)
	return st, err
}
