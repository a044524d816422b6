package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/repository"
	"github.com/rxtech-lab/argo-stats/internal/stats"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// PositionSource is the slice of the positions repository the engine uses.
type PositionSource interface {
	Count(ctx context.Context, q repository.PositionQuery) (int, error)
	Page(ctx context.Context, q repository.PositionQuery, limit, offset uint64) ([]types.Position, error)
	Chunks(ctx context.Context, q repository.PositionQuery, chunkSize uint64) func(yield func([]types.Position, error) bool)
	PatchProfits(ctx context.Context, positions []types.Position) error
}

// StatsStore is the slice of the stats repository the engine reads and writes.
type StatsStore interface {
	Load(ctx context.Context, kind types.EntityKind, id uuid.UUID) (optional.Option[stats.TradeStats], error)
	LoadPeriods(ctx context.Context, kind types.EntityKind, id uuid.UUID) ([]stats.PeriodStats, error)
	Save(ctx context.Context, kind types.EntityKind, id uuid.UUID, ts stats.TradeStats, periods []stats.PeriodStats, replacePeriods bool) error
}

// SubscriptionSource lists the subscriptions the fan-out run iterates.
type SubscriptionSource interface {
	ListByRobot(ctx context.Context, robotID uuid.UUID) ([]types.Subscription, error)
}

// Options tunes one driver instance.
type Options struct {
	// ChunkSize is the page size of the streaming path.
	ChunkSize uint64

	// SingleQueryThreshold routes entities with few positions to one
	// unpaginated query. Both paths fold identically.
	SingleQueryThreshold int

	// RatingWeights blends the composite rating.
	RatingWeights stats.RatingWeights
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		ChunkSize:            500,
		SingleQueryThreshold: 750,
		RatingWeights:        stats.DefaultRatingWeights(),
	}
}

// Driver runs one statistics recomputation per job: plan, stream, fold,
// persist. It assumes the orchestrator never runs two jobs for the same
// entity concurrently.
type Driver struct {
	positions     PositionSource
	stats         StatsStore
	subscriptions SubscriptionSource
	logger        *logger.Logger
	opts          Options
}

// NewDriver wires a driver. The subscription source may be nil when fan-out
// jobs are never dispatched to this instance.
func NewDriver(positions PositionSource, store StatsStore, subscriptions SubscriptionSource, l *logger.Logger, opts Options) *Driver {
	return &Driver{
		positions:     positions,
		stats:         store,
		subscriptions: subscriptions,
		logger:        l,
		opts:          opts,
	}
}

// ownerColumn maps an entity kind to the positions column that owns its rows.
func ownerColumn(kind types.EntityKind) (string, error) {
	switch kind {
	case types.EntityRobot:
		return "robot_id", nil
	case types.EntityUserRobot:
		return "user_robot_id", nil
	case types.EntityPortfolio:
		return "portfolio_id", nil
	case types.EntityUserPortfolio:
		return "user_portfolio_id", nil
	case types.EntitySignalSubscription:
		return "subscription_id", nil
	case types.EntityUserSignalsAggr:
		return "user_id", nil
	default:
		return "", errors.Newf(errors.ErrCodeUnsupportedJobType, "no position owner column for entity kind %q", kind)
	}
}

// Run executes one recomputation job to completion.
func (d *Driver) Run(ctx context.Context, job types.StatsJob) error {
	if job.Type == types.EntityRobotSubscriptions {
		return d.runFanOut(ctx, job)
	}

	return d.runSingle(ctx, job)
}

func (d *Driver) runSingle(ctx context.Context, job types.StatsJob) error {
	column, err := ownerColumn(job.Type)
	if err != nil {
		return err
	}

	stored, err := d.stats.Load(ctx, job.Type, job.EntityID)
	if err != nil {
		return err
	}

	var storedPeriods []stats.PeriodStats
	if stored.IsSome() && !job.Recalc {
		storedPeriods, err = d.stats.LoadPeriods(ctx, job.Type, job.EntityID)
		if err != nil {
			return err
		}
	}

	plan := BuildPlan(stored, storedPeriods, job.Recalc, job.DateFrom)

	query := repository.PositionQuery{
		OwnerColumn: column,
		OwnerID:     job.EntityID,
		ExitAfter:   plan.CalcFrom,
		ExitTo:      job.DateTo,
	}

	count, err := d.positions.Count(ctx, query)
	if err != nil {
		return err
	}
	if count == 0 {
		// Nothing new closed since the checkpoint. Success, no write.
		d.logger.Debug("No positions to fold",
			zap.String("entityType", string(job.Type)),
			zap.String("entityId", job.EntityID.String()))
		return nil
	}

	state := plan.InitialState
	tracker := stats.NewPeriodTracker(plan.InitialPeriods)

	var feeAdjusted []types.Position

	fold := func(chunk []types.Position) error {
		calc, err := stats.NewCalculator(&state, chunk, stats.WithRatingWeights(d.opts.RatingWeights))
		if err != nil {
			return err
		}

		state = calc.GetStats()
		for _, pos := range calc.Positions() {
			tracker.Apply(pos)
			if pos.Fee.IsSome() && pos.Fee.Unwrap() > 0 {
				feeAdjusted = append(feeAdjusted, pos)
			}
		}

		return nil
	}

	if err := d.stream(ctx, query, count, fold); err != nil {
		return err
	}

	// Settle the fee-adjusted profits back to the rows so later reads and
	// recomputes see the same numbers that were folded.
	if len(feeAdjusted) > 0 {
		if err := d.positions.PatchProfits(ctx, feeAdjusted); err != nil {
			return err
		}
	}

	periods := tracker.Touched()
	if plan.FullRecalc {
		periods = tracker.All()
	}

	if err := d.stats.Save(ctx, job.Type, job.EntityID, state, periods, plan.FullRecalc); err != nil {
		return err
	}

	d.logger.Info("Recomputed trade stats",
		zap.String("entityType", string(job.Type)),
		zap.String("entityId", job.EntityID.String()),
		zap.Int("positions", count),
		zap.Bool("fullRecalc", plan.FullRecalc))

	return nil
}

// stream feeds ordered position chunks into fold, choosing between the
// single-query fast path and LIMIT/OFFSET paging based on the pre-count.
func (d *Driver) stream(ctx context.Context, query repository.PositionQuery, count int, fold func([]types.Position) error) error {
	if count <= d.opts.SingleQueryThreshold {
		page, err := d.positions.Page(ctx, query, uint64(count), 0)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		return fold(page)
	}

	var foldErr error
	chunks := d.positions.Chunks(ctx, query, d.opts.ChunkSize)
	chunks(func(chunk []types.Position, err error) bool {
		if err != nil {
			foldErr = err
			return false
		}
		if err := fold(chunk); err != nil {
			foldErr = err
			return false
		}

		return true
	})

	return foldErr
}
