package stats

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

type CalculatorTestSuite struct {
	suite.Suite
	base  time.Time
	clock CalculatorOption
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorTestSuite))
}

func (suite *CalculatorTestSuite) SetupTest() {
	suite.base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	suite.clock = withClock(func() time.Time { return fixed })
}

// position builds a closed position exiting the given number of days after
// the suite base date.
func (suite *CalculatorTestSuite) position(dir types.Direction, profit, bars float64, day int) types.Position {
	return types.Position{
		ID:        uuid.New(),
		Direction: dir,
		EntryDate: suite.base.AddDate(0, 0, day-1),
		ExitDate:  suite.base.AddDate(0, 0, day),
		Profit:    profit,
		BarsHeld:  bars,
	}
}

func (suite *CalculatorTestSuite) TestEmptyBatchRejected() {
	_, err := NewCalculator(nil, nil)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeEmptyBatch))
}

func (suite *CalculatorTestSuite) TestStaleBatchRejected() {
	prev := NewTradeStats()
	prev.LastPositionExitDate = suite.base.AddDate(0, 0, 10)

	_, err := NewCalculator(&prev, []types.Position{
		suite.position(types.DirectionLong, 50, 5, 3),
		suite.position(types.DirectionLong, 20, 5, 10),
	})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStaleBatch))
}

func (suite *CalculatorTestSuite) TestStalePositionsSkipped() {
	prev := NewTradeStats()
	prev.LastPositionExitDate = suite.base.AddDate(0, 0, 5)

	calc, err := NewCalculator(&prev, []types.Position{
		suite.position(types.DirectionLong, 50, 5, 3),
		suite.position(types.DirectionLong, 20, 5, 8),
	}, suite.clock)
	suite.NoError(err)

	got := calc.GetStats()
	suite.Equal(optional.Some(1.0), got.Statistics.TradesCount.All)
	suite.Equal(optional.Some(20.0), got.Statistics.NetProfit.All)
}

func (suite *CalculatorTestSuite) TestInvalidWeightsRejected() {
	_, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionLong, 50, 5, 1),
	}, WithRatingWeights(RatingWeights{ProfitFactor: 0.5, PayoffRatio: 0.3, RecoveryFactor: 0.1}))
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidWeights))
}

func (suite *CalculatorTestSuite) TestFractionalWeightsAccepted() {
	_, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionLong, 50, 5, 1),
	}, WithRatingWeights(RatingWeights{ProfitFactor: 1.0 / 3, PayoffRatio: 1.0 / 2, RecoveryFactor: 1.0 / 6}))
	suite.NoError(err)
}

func (suite *CalculatorTestSuite) TestSingleWinningLong() {
	calc, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionLong, 100, 10, 1),
	}, suite.clock)
	suite.NoError(err)

	got := calc.GetStats()
	st := got.Statistics

	suite.Equal(optional.Some(1.0), st.TradesCount.All)
	suite.Equal(optional.Some(1.0), st.TradesCount.Long)
	suite.Equal(optional.Some(0.0), st.TradesCount.Short)
	suite.Equal(optional.Some(100.0), st.WinRate.All)
	suite.Equal(optional.Some(10.0), st.AvgBarsHeld.All)
	suite.Equal(optional.Some(100.0), st.NetProfit.All)
	suite.Equal(optional.Some(100.0), st.GrossProfit.All)
	suite.Equal(optional.Some(0.0), st.GrossLoss.All)
	suite.Equal(optional.Some(100.0), st.AvgProfit.All)
	suite.Equal(optional.Some(100.0), st.AvgProfitWinners.All)

	// No losses yet: both ratios divide by zero and stay undefined, so the
	// rating treats them as zero.
	suite.True(st.ProfitFactor.All.IsNone())
	suite.True(st.PayoffRatio.All.IsNone())
	suite.True(st.MaxDrawdown.All.IsNone())
	suite.True(st.RecoveryFactor.All.IsNone())
	suite.Equal(optional.Some(0.0), st.Rating.All)
	suite.True(st.Rating.Long.IsNone())
	suite.True(st.Rating.Short.IsNone())

	suite.Equal(PerformanceVals{{X: suite.base.AddDate(0, 0, 1).UnixMilli(), Y: 100}}, got.Equity)
	suite.Equal(got.Equity, got.EquityAvg)
	suite.Equal(suite.base.AddDate(0, 0, 1), got.LastPositionExitDate)
}

func (suite *CalculatorTestSuite) TestWinThenLoss() {
	calc, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionLong, 100, 10, 1),
		suite.position(types.DirectionLong, -30, 20, 2),
	}, suite.clock)
	suite.NoError(err)

	got := calc.GetStats()
	st := got.Statistics

	suite.Equal(optional.Some(2.0), st.TradesCount.All)
	suite.Equal(optional.Some(1.0), st.TradesWinning.All)
	suite.Equal(optional.Some(1.0), st.TradesLosing.All)
	suite.Equal(optional.Some(50.0), st.WinRate.All)
	suite.Equal(optional.Some(50.0), st.LossRate.All)
	suite.Equal(optional.Some(15.0), st.AvgBarsHeld.All)
	suite.Equal(optional.Some(20.0), st.AvgBarsHeldLosing.All)
	suite.Equal(optional.Some(70.0), st.NetProfit.All)
	suite.Equal(optional.Some(100.0), st.LocalMax.All)
	suite.Equal(optional.Some(100.0), st.GrossProfit.All)
	suite.Equal(optional.Some(-30.0), st.GrossLoss.All)
	suite.Equal(optional.Some(35.0), st.AvgNetProfit.All)
	suite.Equal(optional.Some(-30.0), st.AvgLoss.All)

	suite.Equal(optional.Some(3.33), st.ProfitFactor.All)
	suite.Equal(optional.Some(3.33), st.PayoffRatio.All)
	suite.Equal(optional.Some(-30.0), st.MaxDrawdown.All)
	suite.Equal(suite.base.AddDate(0, 0, 2).Format(time.RFC3339), st.MaxDrawdownDate.All)
	suite.Equal(optional.Some(2.33), st.RecoveryFactor.All)
	suite.Equal(optional.Some(3.08), st.Rating.All)

	suite.Equal(optional.Some(0.0), st.CurrentWinSequence.All)
	suite.Equal(optional.Some(1.0), st.CurrentLossSequence.All)
	suite.Equal(optional.Some(1.0), st.MaxConsecWins.All)
	suite.Equal(optional.Some(1.0), st.MaxConsecLosses.All)

	suite.Equal(PerformanceVals{
		{X: suite.base.AddDate(0, 0, 1).UnixMilli(), Y: 100},
		{X: suite.base.AddDate(0, 0, 2).UnixMilli(), Y: 70},
	}, got.Equity)
}

func (suite *CalculatorTestSuite) TestBreakEvenEndsWinStreak() {
	calc, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionLong, 50, 5, 1),
		suite.position(types.DirectionLong, 0, 5, 2),
	}, suite.clock)
	suite.NoError(err)

	st := calc.GetStats().Statistics

	// Break-even is neither a win nor a loss for the counters, but it still
	// resets the winning streak and extends the losing one.
	suite.Equal(optional.Some(2.0), st.TradesCount.All)
	suite.Equal(optional.Some(1.0), st.TradesWinning.All)
	suite.Equal(optional.Some(0.0), st.TradesLosing.All)
	suite.Equal(optional.Some(0.0), st.CurrentWinSequence.All)
	suite.Equal(optional.Some(1.0), st.CurrentLossSequence.All)
	suite.Equal(optional.Some(1.0), st.MaxConsecLosses.All)
}

func (suite *CalculatorTestSuite) TestShortOnlyTouchesShortScope() {
	calc, err := NewCalculator(nil, []types.Position{
		suite.position(types.DirectionShort, -50, 8, 1),
	}, suite.clock)
	suite.NoError(err)

	st := calc.GetStats().Statistics

	suite.Equal(optional.Some(1.0), st.TradesCount.All)
	suite.Equal(optional.Some(1.0), st.TradesCount.Short)
	suite.Equal(optional.Some(0.0), st.TradesCount.Long)
	suite.Equal(optional.Some(-50.0), st.NetProfit.Short)
	suite.True(st.NetProfit.Long.IsNone())
	suite.Equal(optional.Some(-50.0), st.MaxDrawdown.Short)
	suite.True(st.MaxDrawdown.Long.IsNone())

	// Gross aggregates are zero-baselined in every scope once any position
	// has been processed.
	suite.Equal(optional.Some(0.0), st.GrossLoss.Long)
	suite.Equal(optional.Some(-50.0), st.GrossLoss.Short)
}

func (suite *CalculatorTestSuite) TestFeeReducesProfit() {
	pos := suite.position(types.DirectionLong, 100, 10, 1)
	pos.Fee = optional.Some(0.01)

	calc, err := NewCalculator(nil, []types.Position{pos}, suite.clock)
	suite.NoError(err)

	got := calc.GetStats()
	suite.Equal(optional.Some(99.0), got.Statistics.NetProfit.All)
	suite.Equal(99.0, got.Equity[0].Y)
}

func (suite *CalculatorTestSuite) TestIncrementalMatchesFullRecalc() {
	positions := suite.generatePositions(60)

	full, err := NewCalculator(nil, positions, suite.clock)
	suite.NoError(err)
	want := full.GetStats()

	first, err := NewCalculator(nil, positions[:25], suite.clock)
	suite.NoError(err)
	intermediate := first.GetStats()

	second, err := NewCalculator(&intermediate, positions[25:], suite.clock)
	suite.NoError(err)
	got := second.GetStats()

	suite.Equal(want, got)
}

func (suite *CalculatorTestSuite) TestResumeIgnoresAlreadyCountedPositions() {
	positions := suite.generatePositions(20)

	first, err := NewCalculator(nil, positions, suite.clock)
	suite.NoError(err)
	intermediate := first.GetStats()

	// Replaying the full history on top of the checkpoint must fail instead
	// of double counting.
	_, err = NewCalculator(&intermediate, positions)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStaleBatch))
}

func (suite *CalculatorTestSuite) TestEquityDecimation() {
	positions := suite.generatePositions(120)

	calc, err := NewCalculator(nil, positions, suite.clock)
	suite.NoError(err)
	got := calc.GetStats()

	suite.Len(got.Equity, 120)
	suite.Len(got.EquityAvg, 60)
	suite.Equal(got.Equity[len(got.Equity)-1], got.EquityAvg[len(got.EquityAvg)-1])

	for i := 1; i < len(got.EquityAvg); i++ {
		suite.Less(got.EquityAvg[i-1].X, got.EquityAvg[i].X)
	}
}

func (suite *CalculatorTestSuite) TestShortEquityPassesThrough() {
	positions := suite.generatePositions(10)

	calc, err := NewCalculator(nil, positions, suite.clock)
	suite.NoError(err)
	got := calc.GetStats()

	suite.Equal(got.Equity, got.EquityAvg)
}

// generatePositions builds a deterministic mixed batch ordered by exit date.
func (suite *CalculatorTestSuite) generatePositions(n int) []types.Position {
	positions := make([]types.Position, 0, n)
	for i := 0; i < n; i++ {
		dir := types.DirectionLong
		if i%3 == 0 {
			dir = types.DirectionShort
		}

		profit := float64(10 + i%7)
		if i%4 == 0 {
			profit = -profit
		}

		positions = append(positions, suite.position(dir, profit, float64(5+i%10), i+1))
	}

	return positions
}
