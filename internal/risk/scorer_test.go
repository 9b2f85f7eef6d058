package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestScoreNoHistoryIsZero(t *testing.T) {
	require.Zero(t, Score(Stats{}))
	require.Equal(t, FlagGreen, FlagFor(0, Stats{}))
}

func TestScoreFactorTiers(t *testing.T) {
	cases := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{
			name: "clean payer on time",
			// paid everything, nothing overdue
			stats: Stats{TotalInvoices: 4, TotalPaid: 100_000, TotalCredit: 100_000},
			want:  0,
		},
		{
			name:  "mild lateness",
			stats: Stats{TotalInvoices: 10, OverdueInvoices: 1, MaxDaysOverdue: 10, TotalPaid: 90_000, TotalCredit: 100_000},
			want:  3 + 10, // ratio 0.1*30 + days tier
		},
		{
			name: "heavy delinquency hits every factor",
			stats: Stats{
				TotalInvoices:    4,
				OverdueInvoices:  4,
				PartialInvoices:  3,
				MaxDaysOverdue:   120,
				TotalOutstanding: 250_000,
				TotalPaid:        10_000,
				TotalCredit:      260_000,
			},
			want: 30 + 25 + 20 + 15 + 10,
		},
		{
			name:  "payment rate tier boundaries",
			stats: Stats{TotalInvoices: 2, TotalPaid: 69, TotalCredit: 100},
			want:  10, // 0.69 < 0.7
		},
		{
			name:  "partial ratio mid tier",
			stats: Stats{TotalInvoices: 10, PartialInvoices: 4, TotalPaid: 100, TotalCredit: 100},
			want:  5, // 0.4 > 0.3
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, Score(tc.stats), 1e-9)
		})
	}
}

// The overdue ratio contributes fractionally; a raw sum just under a flag
// threshold must not be rounded across it.
func TestScoreFractionalSumStaysBelowThreshold(t *testing.T) {
	stats := Stats{
		TotalInvoices:    20,
		OverdueInvoices:  13, // ratio 0.65 -> 19.5 points
		PartialInvoices:  7,  // ratio 0.35 -> 5 points
		MaxDaysOverdue:   40, // 15 points
		TotalOutstanding: 120_000,
		TotalPaid:        75_000,
		TotalCredit:      100_000, // rate 0.75 -> 5 points
	}
	score := Score(stats)
	require.InDelta(t, 59.5, score, 1e-9)
	require.Equal(t, FlagYellow, FlagFor(score, stats))
}

func TestScoreCapsAtHundred(t *testing.T) {
	stats := Stats{
		TotalInvoices:    10,
		OverdueInvoices:  10,
		PartialInvoices:  10,
		MaxDaysOverdue:   365,
		TotalOutstanding: 1_000_000,
		TotalCredit:      1_000_000,
		TotalPaid:        0,
	}
	require.InDelta(t, 100, Score(stats), 1e-9)
}

func TestFlagThresholds(t *testing.T) {
	require.Equal(t, FlagGreen, FlagFor(29, Stats{}))
	require.Equal(t, FlagGreen, FlagFor(29.9, Stats{}))
	require.Equal(t, FlagYellow, FlagFor(30, Stats{}))
	require.Equal(t, FlagYellow, FlagFor(59.5, Stats{}))
	require.Equal(t, FlagRed, FlagFor(60, Stats{}))
}

func TestFlagForcedRedOnSevereDelinquency(t *testing.T) {
	require.Equal(t, FlagRed, FlagFor(0, Stats{MaxDaysOverdue: 181}))
	require.Equal(t, FlagRed, FlagFor(0, Stats{TotalOutstanding: 500_001}))
	require.Equal(t, FlagGreen, FlagFor(0, Stats{MaxDaysOverdue: 180, TotalOutstanding: 500_000}))
}

// Score never decreases when a single delinquency factor worsens.
func TestScoreMonotonicity(t *testing.T) {
	base := Stats{
		TotalInvoices:    10,
		OverdueInvoices:  2,
		PartialInvoices:  1,
		MaxDaysOverdue:   20,
		TotalOutstanding: 30_000,
		TotalPaid:        80_000,
		TotalCredit:      100_000,
	}

	worse := base
	worse.OverdueInvoices = 5
	require.GreaterOrEqual(t, Score(worse), Score(base))

	worse = base
	worse.MaxDaysOverdue = 95
	require.GreaterOrEqual(t, Score(worse), Score(base))

	worse = base
	worse.TotalOutstanding = 250_000
	require.GreaterOrEqual(t, Score(worse), Score(base))

	worse = base
	worse.TotalPaid = 20_000
	require.GreaterOrEqual(t, Score(worse), Score(base))
}

// rowFunc adapts a closure to pgx.Row.
type rowFunc func(dest ...any) error

func (fn rowFunc) Scan(dest ...any) error { return fn(dest...) }

// fakeQuerier stands in for the pool or transaction Recompute runs against.
// It answers the customer lookup and the stats aggregate by SQL shape and
// records every flag written through Exec.
type fakeQuerier struct {
	flag        Flag
	override    bool
	customerErr error

	stats    Stats
	statsErr error

	execErr error

	statsQueries int
	written      []Flag
}

func (f *fakeQuerier) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	f.written = append(f.written, args[0].(Flag))
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, "FROM customers") {
		return rowFunc(func(dest ...any) error {
			if f.customerErr != nil {
				return f.customerErr
			}
			*dest[0].(*Flag) = f.flag
			*dest[1].(*bool) = f.override
			return nil
		})
	}
	f.statsQueries++
	return rowFunc(func(dest ...any) error {
		if f.statsErr != nil {
			return f.statsErr
		}
		*dest[0].(*int) = f.stats.TotalInvoices
		*dest[1].(*int) = f.stats.OverdueInvoices
		*dest[2].(*int) = f.stats.PartialInvoices
		*dest[3].(*int) = f.stats.MaxDaysOverdue
		*dest[4].(*float64) = f.stats.AvgDaysOverdue
		*dest[5].(*float64) = f.stats.TotalOutstanding
		*dest[6].(*float64) = f.stats.TotalPaid
		*dest[7].(*float64) = f.stats.TotalCredit
		return nil
	})
}

func newTestScorer() *Scorer {
	return NewScorer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecomputeOverrideFreezesFlag(t *testing.T) {
	db := &fakeQuerier{
		flag:     FlagGreen,
		override: true,
		stats: Stats{
			TotalInvoices:    4,
			OverdueInvoices:  4,
			MaxDaysOverdue:   200,
			TotalOutstanding: 600_000,
		},
	}

	newTestScorer().Recompute(context.Background(), db, 7)

	require.Zero(t, db.statsQueries)
	require.Empty(t, db.written)
}

func TestRecomputeWritesOnFlagChange(t *testing.T) {
	db := &fakeQuerier{
		flag: FlagGreen,
		stats: Stats{
			TotalInvoices:    4,
			OverdueInvoices:  4,
			PartialInvoices:  3,
			MaxDaysOverdue:   120,
			TotalOutstanding: 250_000,
			TotalPaid:        10_000,
			TotalCredit:      260_000,
		},
	}

	newTestScorer().Recompute(context.Background(), db, 7)

	require.Equal(t, 1, db.statsQueries)
	require.Equal(t, []Flag{FlagRed}, db.written)
}

func TestRecomputeSkipsWriteWhenFlagUnchanged(t *testing.T) {
	db := &fakeQuerier{
		flag:  FlagGreen,
		stats: Stats{TotalInvoices: 4, TotalPaid: 100_000, TotalCredit: 100_000},
	}

	newTestScorer().Recompute(context.Background(), db, 7)

	require.Equal(t, 1, db.statsQueries)
	require.Empty(t, db.written)
}

func TestRecomputeMissingCustomerIsNoop(t *testing.T) {
	db := &fakeQuerier{customerErr: pgx.ErrNoRows}

	newTestScorer().Recompute(context.Background(), db, 404)

	require.Zero(t, db.statsQueries)
	require.Empty(t, db.written)
}

// Every failure inside Recompute is logged and swallowed; none may escape to
// the caller's transaction.
func TestRecomputeSwallowsErrors(t *testing.T) {
	t.Run("customer lookup fails", func(t *testing.T) {
		db := &fakeQuerier{customerErr: errors.New("connection reset")}
		newTestScorer().Recompute(context.Background(), db, 7)
		require.Empty(t, db.written)
	})

	t.Run("stats aggregate fails", func(t *testing.T) {
		db := &fakeQuerier{flag: FlagGreen, statsErr: errors.New("relation missing")}
		newTestScorer().Recompute(context.Background(), db, 7)
		require.Empty(t, db.written)
	})

	t.Run("flag update fails", func(t *testing.T) {
		db := &fakeQuerier{
			flag:    FlagGreen,
			stats:   Stats{TotalInvoices: 2, OverdueInvoices: 2, MaxDaysOverdue: 200},
			execErr: errors.New("deadlock detected"),
		}
		newTestScorer().Recompute(context.Background(), db, 7)
		require.Empty(t, db.written)
	})
}
