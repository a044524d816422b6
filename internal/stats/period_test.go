package stats

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-stats/internal/types"
)

type PeriodTrackerTestSuite struct {
	suite.Suite
}

func TestPeriodTrackerSuite(t *testing.T) {
	suite.Run(t, new(PeriodTrackerTestSuite))
}

func (suite *PeriodTrackerTestSuite) position(profit float64, exit time.Time) types.Position {
	return types.Position{
		Direction: types.DirectionLong,
		EntryDate: exit.AddDate(0, 0, -1),
		ExitDate:  exit,
		Profit:    profit,
	}
}

func (suite *PeriodTrackerTestSuite) TestBucketsPerGranularity() {
	tracker := NewPeriodTracker(nil)
	tracker.Apply(suite.position(100, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
	tracker.Apply(suite.position(-40, time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)))
	tracker.Apply(suite.position(25, time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)))

	all := tracker.All()

	byKey := map[string]PeriodStats{}
	for _, p := range all {
		byKey[string(p.Kind)+":"+p.Key] = p
	}

	year := byKey["year:2024"]
	suite.Equal(3.0, year.Stats.TradesCount)
	suite.Equal(85.0, year.Stats.NetProfit)
	suite.Equal(125.0, year.Stats.GrossProfit)
	suite.Equal(-40.0, year.Stats.GrossLoss)
	suite.Equal(optional.Some(67.0), year.Stats.WinRate)
	suite.Equal(-40.0, year.Stats.MaxDrawdown)

	q1 := byKey["quarter:2024.1"]
	suite.Equal(2.0, q1.Stats.TradesCount)
	suite.Equal(60.0, q1.Stats.NetProfit)

	q3 := byKey["quarter:2024.3"]
	suite.Equal(1.0, q3.Stats.TradesCount)
	// The drawdown is local to the bucket, not carried over from Q1.
	suite.Equal(0.0, q3.Stats.MaxDrawdown)

	feb := byKey["month:2024.02"]
	suite.Equal(2.0, feb.Stats.TradesCount)
	suite.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), feb.DateFrom)
	suite.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), feb.DateTo)

	jul := byKey["month:2024.07"]
	suite.Equal(25.0, jul.Stats.NetProfit)
}

func (suite *PeriodTrackerTestSuite) TestTouchedOnlyCoversCurrentBatch() {
	first := NewPeriodTracker(nil)
	first.Apply(suite.position(100, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)))

	resumed := NewPeriodTracker(first.All())
	resumed.Apply(suite.position(50, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))

	suite.Len(resumed.All(), 6)

	touched := resumed.Touched()
	suite.Len(touched, 3)
	for _, p := range touched {
		suite.Equal(2024, p.Year)
	}
}

func (suite *PeriodTrackerTestSuite) TestResumedBucketKeepsAccumulating() {
	first := NewPeriodTracker(nil)
	first.Apply(suite.position(100, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))

	resumed := NewPeriodTracker(first.All())
	resumed.Apply(suite.position(-30, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)))

	touched := resumed.Touched()
	suite.Len(touched, 3)
	for _, p := range touched {
		suite.Equal(2.0, p.Stats.TradesCount)
		suite.Equal(70.0, p.Stats.NetProfit)
		suite.Equal(-30.0, p.Stats.MaxDrawdown)
	}
}

func (suite *PeriodTrackerTestSuite) TestOrderedOutput() {
	tracker := NewPeriodTracker(nil)
	tracker.Apply(suite.position(10, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	tracker.Apply(suite.position(10, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)))

	all := tracker.All()
	suite.Equal("2023", all[0].Key)
	suite.Equal("2024", all[1].Key)
	suite.Equal(PeriodQuarter, all[2].Kind)
	suite.Equal("2023.1", all[2].Key)
}
