package engine

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stats/internal/repository"
	"github.com/rxtech-lab/argo-stats/internal/stats"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// subscriberFold is one subscription's independent accumulator over the
// shared position stream.
type subscriberFold struct {
	sub      types.Subscription
	plan     Plan
	state    stats.TradeStats
	tracker  *stats.PeriodTracker
	calcFrom optional.Option[time.Time]
	touched  bool
}

// runFanOut recomputes every subscription of one robot off a single chunked
// query over the robot's positions. Each subscription folds only the
// subsequence it is eligible for; subsequence order is the global exit-date
// order, which keeps streaks, drawdown and equity correct per subscriber.
func (d *Driver) runFanOut(ctx context.Context, job types.StatsJob) error {
	if d.subscriptions == nil {
		return errors.New(errors.ErrCodeUnsupportedJobType, "fan-out jobs require a subscription source")
	}

	subs, err := d.subscriptions.ListByRobot(ctx, job.EntityID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		d.logger.Debug("No subscriptions to fan out to",
			zap.String("robotId", job.EntityID.String()))
		return nil
	}

	folds := make([]*subscriberFold, 0, len(subs))
	for _, sub := range subs {
		fold, err := d.prepareSubscriberFold(ctx, sub, job)
		if err != nil {
			return err
		}
		folds = append(folds, fold)
	}

	query := repository.PositionQuery{
		OwnerColumn: "robot_id",
		OwnerID:     job.EntityID,
		ExitAfter:   sharedLowerBound(folds),
		ExitTo:      job.DateTo,
	}

	count, err := d.positions.Count(ctx, query)
	if err != nil {
		return err
	}
	if count == 0 {
		d.logger.Debug("No positions to fan out",
			zap.String("robotId", job.EntityID.String()))
		return nil
	}

	foldChunk := func(chunk []types.Position) error {
		window := chunkWindow(chunk)
		for _, fold := range folds {
			if fold.skipsChunk(window) {
				continue
			}
			if err := d.foldEligible(fold, chunk); err != nil {
				return err
			}
		}

		return nil
	}

	if err := d.stream(ctx, query, count, foldChunk); err != nil {
		return err
	}

	saved := 0
	for _, fold := range folds {
		if !fold.touched {
			continue
		}

		periods := fold.tracker.Touched()
		if fold.plan.FullRecalc {
			periods = fold.tracker.All()
		}

		if err := d.stats.Save(ctx, types.EntitySignalSubscription, fold.sub.ID, fold.state, periods, fold.plan.FullRecalc); err != nil {
			return err
		}
		saved++
	}

	d.logger.Info("Fanned out trade stats",
		zap.String("robotId", job.EntityID.String()),
		zap.Int("subscriptions", len(folds)),
		zap.Int("updated", saved),
		zap.Int("positions", count))

	return nil
}

// prepareSubscriberFold loads one subscription's stored state and plans its
// part of the run.
func (d *Driver) prepareSubscriberFold(ctx context.Context, sub types.Subscription, job types.StatsJob) (*subscriberFold, error) {
	stored, err := d.stats.Load(ctx, types.EntitySignalSubscription, sub.ID)
	if err != nil {
		return nil, err
	}

	var storedPeriods []stats.PeriodStats
	if stored.IsSome() && !job.Recalc {
		storedPeriods, err = d.stats.LoadPeriods(ctx, types.EntitySignalSubscription, sub.ID)
		if err != nil {
			return nil, err
		}
	}

	plan := BuildPlan(stored, storedPeriods, job.Recalc, job.DateFrom)

	return &subscriberFold{
		sub:      sub,
		plan:     plan,
		state:    plan.InitialState,
		tracker:  stats.NewPeriodTracker(plan.InitialPeriods),
		calcFrom: plan.CalcFrom,
	}, nil
}

// sharedLowerBound is the loosest per-subscriber bound: the shared query must
// cover every subscriber, so any full recompute widens it to all of history.
func sharedLowerBound(folds []*subscriberFold) optional.Option[time.Time] {
	bound := optional.None[time.Time]()
	for i, fold := range folds {
		if fold.calcFrom.IsNone() {
			return optional.None[time.Time]()
		}
		if i == 0 || fold.calcFrom.Unwrap().Before(bound.Unwrap()) {
			bound = fold.calcFrom
		}
	}

	return bound
}

// window is the entry/exit envelope of one chunk.
type window struct {
	maxEntry time.Time
	maxExit  time.Time
}

func chunkWindow(chunk []types.Position) window {
	w := window{}
	for _, pos := range chunk {
		if pos.EntryDate.After(w.maxEntry) {
			w.maxEntry = pos.EntryDate
		}
		if pos.ExitDate.After(w.maxExit) {
			w.maxExit = pos.ExitDate
		}
	}

	return w
}

// skipsChunk reports whether no row of the chunk can be eligible, so the
// per-row tests are skipped entirely.
func (f *subscriberFold) skipsChunk(w window) bool {
	if f.sub.SubscribedAt.After(w.maxEntry) {
		return true
	}
	if f.calcFrom.IsSome() && !w.maxExit.After(f.calcFrom.Unwrap()) {
		return true
	}

	return false
}

// eligible keeps positions entered at or after the subscription start and
// exited strictly after the subscriber's checkpoint.
func (f *subscriberFold) eligible(chunk []types.Position) []types.Position {
	out := make([]types.Position, 0, len(chunk))
	for _, pos := range chunk {
		if pos.EntryDate.Before(f.sub.SubscribedAt) {
			continue
		}
		if f.calcFrom.IsSome() && !pos.ExitDate.After(f.calcFrom.Unwrap()) {
			continue
		}
		out = append(out, pos)
	}

	return out
}

// foldEligible advances one subscriber by the eligible subset of a chunk. An
// empty subset is normal here, not a stale batch: the shared stream covers
// windows this subscriber never sees.
func (d *Driver) foldEligible(fold *subscriberFold, chunk []types.Position) error {
	subset := fold.eligible(chunk)
	if len(subset) == 0 {
		return nil
	}

	calc, err := stats.NewCalculator(&fold.state, subset, stats.WithRatingWeights(d.opts.RatingWeights))
	if err != nil {
		return err
	}

	fold.state = calc.GetStats()
	for _, pos := range calc.Positions() {
		fold.tracker.Apply(pos)
	}
	fold.touched = true

	return nil
}
