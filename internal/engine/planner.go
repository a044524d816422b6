package engine

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/argo-stats/internal/stats"
)

// Plan is the outcome of deciding between resuming from a stored checkpoint
// and recomputing from the beginning of history.
type Plan struct {
	// CalcFrom is the exclusive lower bound of the position query. None means
	// the fold starts at the dawn of history.
	CalcFrom optional.Option[time.Time]

	// InitialState seeds the calculator. A fresh baseline on full recompute,
	// the stored stats on resume.
	InitialState stats.TradeStats

	// InitialPeriods seeds the period tracker. Empty on full recompute.
	InitialPeriods []stats.PeriodStats

	// FullRecalc selects replace-persistence: stored period buckets are
	// dropped and rewritten because they cannot be patched without the full
	// history.
	FullRecalc bool
}

// BuildPlan derives the recomputation plan for one entity. An explicit recalc
// request, missing stored stats, or stored stats that never saw a trade all
// force a full recompute, optionally bounded below by dateFrom. Anything else
// resumes past the stored checkpoint.
func BuildPlan(stored optional.Option[stats.TradeStats], storedPeriods []stats.PeriodStats, recalc bool, dateFrom optional.Option[time.Time]) Plan {
	if recalc || stored.IsNone() || isEmpty(stored.Unwrap()) {
		return Plan{
			CalcFrom:     dateFrom,
			InitialState: stats.NewTradeStats(),
			FullRecalc:   true,
		}
	}

	st := stored.Unwrap()

	return Plan{
		CalcFrom:       optional.Some(st.LastPositionExitDate),
		InitialState:   st,
		InitialPeriods: storedPeriods,
		FullRecalc:     false,
	}
}

// isEmpty reports whether stored stats carry no folded trades. Rows written
// by older versions may exist with a zeroed payload; resuming from those
// would skip the whole history.
func isEmpty(ts stats.TradeStats) bool {
	count := ts.Statistics.TradesCount.All

	return count.IsNone() || count.Unwrap() == 0 || !ts.HasCheckpoint()
}
