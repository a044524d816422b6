package stats

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

const (
	// feeRoundDecimals is the precision of fee-adjusted position profits.
	feeRoundDecimals = 6

	// weightEpsilon bounds the rounding slack allowed when checking that
	// rating weights sum to one.
	weightEpsilon = 1e-9
)

// RatingWeights blends profit factor, payoff ratio and recovery factor into
// the aggregate rating. The three weights must sum to one.
type RatingWeights struct {
	ProfitFactor   float64 `json:"profitFactor" yaml:"profit_factor" validate:"gte=0"`
	PayoffRatio    float64 `json:"payoffRatio" yaml:"payoff_ratio" validate:"gte=0"`
	RecoveryFactor float64 `json:"recoveryFactor" yaml:"recovery_factor" validate:"gte=0"`
}

// DefaultRatingWeights returns the production weighting.
func DefaultRatingWeights() RatingWeights {
	return RatingWeights{
		ProfitFactor:   0.35,
		PayoffRatio:    0.40,
		RecoveryFactor: 0.25,
	}
}

// Validate checks that every weight is a finite number and that the weights
// sum to one within rounding slack.
func (w RatingWeights) Validate() error {
	for _, v := range []float64{w.ProfitFactor, w.PayoffRatio, w.RecoveryFactor} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New(errors.ErrCodeInvalidWeights, "rating weights must be finite numbers")
		}
	}

	sum := w.ProfitFactor + w.PayoffRatio + w.RecoveryFactor
	if math.Abs(sum-1) > weightEpsilon {
		return errors.Newf(errors.ErrCodeInvalidWeights, "rating weights must sum to 1, got %v", sum)
	}

	return nil
}

// Calculator folds a batch of closed positions into a trade-statistics state.
// Construction validates the batch and the configuration; GetStats then runs
// the fold and cannot fail.
type Calculator struct {
	prev      TradeStats
	positions []types.Position
	weights   RatingWeights
	now       func() time.Time
}

// CalculatorOption customizes a Calculator at construction time.
type CalculatorOption func(*Calculator)

// WithRatingWeights overrides the default rating weights.
func WithRatingWeights(w RatingWeights) CalculatorOption {
	return func(c *Calculator) {
		c.weights = w
	}
}

// withClock fixes the update timestamp source. Used by tests.
func withClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		c.now = now
	}
}

// NewCalculator prepares a fold of positions on top of prev. A nil prev
// starts from the pre-trade baseline. Positions at or before the previous
// checkpoint are dropped; an empty batch, a batch with nothing newer than
// the checkpoint, or invalid rating weights fail construction.
//
// Fees are settled here: a position carrying a positive fee fraction has its
// profit reduced by that fraction before any statistic sees it.
func NewCalculator(prev *TradeStats, positions []types.Position, opts ...CalculatorOption) (*Calculator, error) {
	if len(positions) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyBatch, "cannot calculate statistics on an empty batch, at least one position expected")
	}

	c := &Calculator{
		prev:    NewTradeStats(),
		weights: DefaultRatingWeights(),
		now:     time.Now,
	}
	if prev != nil {
		c.prev = *prev
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.weights.Validate(); err != nil {
		return nil, err
	}

	fresh := make([]types.Position, 0, len(positions))
	for _, pos := range positions {
		if c.prev.HasCheckpoint() && !pos.ExitDate.After(c.prev.LastPositionExitDate) {
			continue
		}
		fresh = append(fresh, adjustForFee(pos))
	}

	if len(fresh) == 0 {
		return nil, errors.New(errors.ErrCodeStaleBatch, "all positions exited at or before the stored checkpoint, at least one newer position expected")
	}

	c.positions = fresh

	return c, nil
}

// adjustForFee deducts the position's fee fraction from its profit.
func adjustForFee(pos types.Position) types.Position {
	fee := orZero(pos.Fee)
	if fee <= 0 {
		return pos
	}

	pos.Profit = Round(pos.Profit-pos.Profit*fee, feeRoundDecimals)

	return pos
}

// Positions returns the batch the fold will run over: stale positions
// dropped and fees settled. Callers deriving secondary aggregates (period
// buckets) iterate this instead of the raw input so both views agree.
func (c *Calculator) Positions() []types.Position {
	return c.positions
}

// GetStats folds every accepted position, oldest first, and returns the
// resulting state with a freshly decimated average equity curve.
func (c *Calculator) GetStats() TradeStats {
	current := c.prev
	for _, pos := range c.positions {
		current = c.applyPosition(current, pos)
	}

	current.EquityAvg = decimateEquity(current.Equity)

	return current
}

// applyPosition advances the state by one closed position. Each metric reads
// the inputs its formula needs from either the previous snapshot or the
// partially updated one, in a fixed order.
func (c *Calculator) applyPosition(prev TradeStats, pos types.Position) TradeStats {
	ps := prev.Statistics
	st := ps
	scopes := []Scope{ScopeAll, scopeOf(pos.Direction)}

	st.TradesCount = increment(ps.TradesCount, scopes)
	if pos.Profit > 0 {
		st.TradesWinning = increment(ps.TradesWinning, scopes)
	}
	if pos.Profit < 0 {
		st.TradesLosing = increment(ps.TradesLosing, scopes)
	}

	st.WinRate = percentOf(st.TradesWinning, st.TradesCount, ps.WinRate, scopes)
	st.LossRate = percentOf(st.TradesLosing, st.TradesCount, ps.LossRate, scopes)

	st.AvgBarsHeld = runningAvg(ps.AvgBarsHeld, ps.TradesCount, st.TradesCount, pos.BarsHeld, scopes)
	if pos.Profit > 0 {
		st.AvgBarsHeldWinning = runningAvg(ps.AvgBarsHeldWinning, ps.TradesWinning, st.TradesWinning, pos.BarsHeld, scopes)
	}
	if pos.Profit < 0 {
		st.AvgBarsHeldLosing = runningAvg(ps.AvgBarsHeldLosing, ps.TradesLosing, st.TradesLosing, pos.BarsHeld, scopes)
	}

	st.NetProfit = accumulate(ps.NetProfit, pos.Profit, scopes)
	st.LocalMax = watermark(ps.LocalMax, st.NetProfit, scopes)

	if pos.Profit > 0 {
		st.GrossProfit = accumulate(ps.GrossProfit, pos.Profit, scopes)
	}
	st.GrossProfit = st.GrossProfit.withZeroedNulls()

	if pos.Profit < 0 {
		st.GrossLoss = accumulate(ps.GrossLoss, pos.Profit, scopes)
	}
	st.GrossLoss = st.GrossLoss.withZeroedNulls()

	st.AvgNetProfit = meanOver(st.NetProfit, st.TradesCount, ps.AvgNetProfit, scopes)
	if pos.Profit > 0 {
		st.AvgProfit = combinedMean(st.GrossProfit, st.GrossLoss, st.TradesCount, ps.AvgProfit, scopes)
	}
	st.AvgProfit = st.AvgProfit.withZeroedNulls()
	if pos.Profit > 0 {
		st.AvgProfitWinners = meanOver(st.GrossProfit, st.TradesWinning, ps.AvgProfitWinners, scopes)
	}
	if pos.Profit < 0 {
		st.AvgLoss = meanOver(st.GrossLoss, st.TradesLosing, ps.AvgLoss, scopes)
	}
	st.AvgLoss = st.AvgLoss.withZeroedNulls()

	// Ratios are recomputed for all three scopes from the cumulative
	// aggregates, which are defined for every scope once zero-baselined.
	st.ProfitFactor = absRatio(st.GrossProfit, st.GrossLoss)
	st.PayoffRatio = absRatio(st.AvgProfit, st.AvgLoss)

	// A break-even trade ends the winning streak and extends the losing one,
	// even though it counts as neither a win nor a loss above.
	if pos.Profit > 0 {
		st.CurrentLossSequence = resetSequence(ps.CurrentLossSequence, scopes)
		st.CurrentWinSequence = increment(ps.CurrentWinSequence, scopes)
		st.MaxConsecWins = longestRun(ps.CurrentWinSequence, ps.MaxConsecWins, scopes)
	} else {
		st.CurrentWinSequence = resetSequence(ps.CurrentWinSequence, scopes)
		st.CurrentLossSequence = increment(ps.CurrentLossSequence, scopes)
		st.MaxConsecLosses = longestRun(ps.CurrentLossSequence, ps.MaxConsecLosses, scopes)
	}

	st.MaxDrawdown, st.MaxDrawdownDate = deepestDrawdown(ps.MaxDrawdown, ps.MaxDrawdownDate, st.NetProfit, st.LocalMax, pos.ExitDate, scopes)

	equity := appendEquity(prev.Equity, pos.Profit, pos.ExitDate)

	st.RecoveryFactor = recoveryFactor(ps.RecoveryFactor, st.NetProfit, st.MaxDrawdown, scopes)
	st.Rating = c.rating(st.ProfitFactor, st.PayoffRatio, st.RecoveryFactor)

	return TradeStats{
		Statistics:           st.rounded(),
		Equity:               equity,
		EquityAvg:            prev.EquityAvg,
		LastPositionExitDate: pos.ExitDate,
		LastUpdatedAt:        c.now().UTC(),
	}
}

// increment adds one to the touched scopes, treating undefined as zero.
func increment(prev StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some(orZero(prev.At(s))+1))
	}

	return next
}

// percentOf recomputes part/total*100 for the touched scopes.
func percentOf(part, total, prev StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some(orZero(part.At(s))/orZero(total.At(s))*100))
	}

	return next
}

// runningAvg extends a running average with one more sample, reconstructing
// the previous sum from the previous average and count.
func runningAvg(prevAvg, prevCount, count StatsNumberValue, sample float64, scopes []Scope) StatsNumberValue {
	next := prevAvg
	for _, s := range scopes {
		prevSum := orZero(prevAvg.At(s)) * orZero(prevCount.At(s))
		next.Set(s, optional.Some((prevSum+sample)/orZero(count.At(s))))
	}

	return next
}

// accumulate adds amount into the touched scopes, treating undefined as zero.
func accumulate(prev StatsNumberValue, amount float64, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some(orZero(prev.At(s))+amount))
	}

	return next
}

// watermark lifts the running equity high-water mark to the new net profit
// where it exceeds the stored maximum.
func watermark(prevMax, net StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prevMax
	for _, s := range scopes {
		next.Set(s, optional.Some(math.Max(orZero(prevMax.At(s)), orZero(net.At(s)))))
	}

	return next
}

// combinedMean recomputes (a+b)/count for the touched scopes. Used for the
// average profit per trade, which nets gross profit against gross loss.
func combinedMean(a, b, count, prev StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some((orZero(a.At(s))+orZero(b.At(s)))/orZero(count.At(s))))
	}

	return next
}

// meanOver recomputes mark/count for the touched scopes.
func meanOver(mark, count, prev StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some(orZero(mark.At(s))/orZero(count.At(s))))
	}

	return next
}

// absRatio computes |num/den| per scope, undefined where the division is.
func absRatio(num, den StatsNumberValue) StatsNumberValue {
	return StatsNumberValue{
		All:   absOf(divide(num.All, den.All)),
		Long:  absOf(divide(num.Long, den.Long)),
		Short: absOf(divide(num.Short, den.Short)),
	}
}

// resetSequence zeroes the current streak counter in the touched scopes.
func resetSequence(prev StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, optional.Some(0.0))
	}

	return next
}

// longestRun keeps the larger of the stored record and the streak just
// extended by the current position.
func longestRun(prevSeq, prevMax StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prevMax
	for _, s := range scopes {
		next.Set(s, optional.Some(math.Max(orZero(prevMax.At(s)), orZero(prevSeq.At(s))+1)))
	}

	return next
}

// deepestDrawdown records the distance below the high-water mark when it sets
// a new record, stamping the exit date it happened at.
func deepestDrawdown(prevDD StatsNumberValue, prevDate StatsStringValue, net, localMax StatsNumberValue, exit time.Time, scopes []Scope) (StatsNumberValue, StatsStringValue) {
	nextDD := prevDD
	nextDate := prevDate
	for _, s := range scopes {
		dd := orZero(net.At(s)) - orZero(localMax.At(s))
		if orZero(prevDD.At(s)) > dd {
			nextDD.Set(s, optional.Some(dd))
			nextDate.Set(s, exit.UTC().Format(time.RFC3339))
		}
	}

	return nextDD, nextDate
}

// appendEquity extends the equity curve by one point at the position's exit
// time, rounding the running sum for display.
func appendEquity(prev PerformanceVals, profit float64, exit time.Time) PerformanceVals {
	prevSum := 0.0
	if len(prev) > 0 {
		prevSum = prev[len(prev)-1].Y
	}

	next := make(PerformanceVals, len(prev), len(prev)+1)
	copy(next, prev)

	return append(next, EquityPoint{
		X: exit.UnixMilli(),
		Y: Round(prevSum+profit, 2),
	})
}

// recoveryFactor recomputes -(net/maxDrawdown) per touched scope; the sign
// flip turns the negative drawdown into a positive factor.
func recoveryFactor(prev, net, dd StatsNumberValue, scopes []Scope) StatsNumberValue {
	next := prev
	for _, s := range scopes {
		next.Set(s, negOf(divide(net.At(s), dd.At(s))))
	}

	return next
}

// rating blends the three quality ratios with the configured weights. Only
// the aggregate scope is rated; undefined inputs count as zero so a young
// track record rates low instead of staying unrated forever.
func (c *Calculator) rating(pf, po, rf StatsNumberValue) StatsNumberValue {
	blended := c.weights.ProfitFactor*orZero(pf.All) +
		c.weights.PayoffRatio*orZero(po.All) +
		c.weights.RecoveryFactor*orZero(rf.All)

	return StatsNumberValue{
		All:   optional.Some(blended),
		Long:  optional.None[float64](),
		Short: optional.None[float64](),
	}
}

// maxEquityLength caps the decimated equity curve size.
const maxEquityLength = 50

// decimateEquity thins the equity curve to roughly maxEquityLength points by
// keeping the last point of each fixed-size chunk. Short curves pass through
// unchanged.
func decimateEquity(equity PerformanceVals) PerformanceVals {
	if len(equity) == 0 {
		return PerformanceVals{}
	}

	chunkLength := 1.0
	switch {
	case len(equity) < maxEquityLength:
		chunkLength = 1
	case len(equity) < maxEquityLength*2:
		chunkLength = 1.5
	default:
		chunkLength = float64(len(equity)) / maxEquityLength
	}

	// Fractional lengths truncate, so the curve may keep a few points more
	// than the cap.
	size := int(chunkLength)
	if size < 1 {
		size = 1
	}

	out := make(PerformanceVals, 0, len(equity)/size+1)
	for start := 0; start < len(equity); start += size {
		end := start + size
		if end > len(equity) {
			end = len(equity)
		}
		out = append(out, equity[end-1])
	}

	return out
}
