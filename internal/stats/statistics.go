package stats

import (
	"time"
)

// Statistics is the cumulative per-scope metric set of one trading entity.
// Counts, streaks and the equity watermark start at zero; rates, averages and
// ratios stay undefined until the trades that define them have been seen.
type Statistics struct {
	TradesCount         StatsNumberValue `json:"tradesCount"`
	TradesWinning       StatsNumberValue `json:"tradesWinning"`
	TradesLosing        StatsNumberValue `json:"tradesLosing"`
	WinRate             StatsNumberValue `json:"winRate"`
	LossRate            StatsNumberValue `json:"lossRate"`
	AvgBarsHeld         StatsNumberValue `json:"avgBarsHeld"`
	AvgBarsHeldWinning  StatsNumberValue `json:"avgBarsHeldWinning"`
	AvgBarsHeldLosing   StatsNumberValue `json:"avgBarsHeldLosing"`
	NetProfit           StatsNumberValue `json:"netProfit"`
	LocalMax            StatsNumberValue `json:"localMax"`
	AvgNetProfit        StatsNumberValue `json:"avgNetProfit"`
	GrossProfit         StatsNumberValue `json:"grossProfit"`
	GrossLoss           StatsNumberValue `json:"grossLoss"`
	AvgProfit           StatsNumberValue `json:"avgProfit"`
	AvgProfitWinners    StatsNumberValue `json:"avgProfitWinners"`
	AvgLoss             StatsNumberValue `json:"avgLoss"`
	ProfitFactor        StatsNumberValue `json:"profitFactor"`
	PayoffRatio         StatsNumberValue `json:"payoffRatio"`
	CurrentWinSequence  StatsNumberValue `json:"currentWinSequence"`
	CurrentLossSequence StatsNumberValue `json:"currentLossSequence"`
	MaxConsecWins       StatsNumberValue `json:"maxConsecWins"`
	MaxConsecLosses     StatsNumberValue `json:"maxConsecLosses"`
	MaxDrawdown         StatsNumberValue `json:"maxDrawdown"`
	MaxDrawdownDate     StatsStringValue `json:"maxDrawdownDate"`
	RecoveryFactor      StatsNumberValue `json:"recoveryFactor"`
	Rating              StatsNumberValue `json:"rating"`
}

// NewStatistics returns the pre-trade baseline.
func NewStatistics() Statistics {
	return Statistics{
		TradesCount:         ZeroNumberValue(),
		TradesWinning:       ZeroNumberValue(),
		TradesLosing:        ZeroNumberValue(),
		WinRate:             NullNumberValue(),
		LossRate:            NullNumberValue(),
		AvgBarsHeld:         NullNumberValue(),
		AvgBarsHeldWinning:  NullNumberValue(),
		AvgBarsHeldLosing:   NullNumberValue(),
		NetProfit:           NullNumberValue(),
		LocalMax:            ZeroNumberValue(),
		AvgNetProfit:        NullNumberValue(),
		GrossProfit:         NullNumberValue(),
		GrossLoss:           NullNumberValue(),
		AvgProfit:           NullNumberValue(),
		AvgProfitWinners:    NullNumberValue(),
		AvgLoss:             NullNumberValue(),
		ProfitFactor:        NullNumberValue(),
		PayoffRatio:         NullNumberValue(),
		CurrentWinSequence:  ZeroNumberValue(),
		CurrentLossSequence: ZeroNumberValue(),
		MaxConsecWins:       ZeroNumberValue(),
		MaxConsecLosses:     ZeroNumberValue(),
		MaxDrawdown:         NullNumberValue(),
		MaxDrawdownDate:     StatsStringValue{},
		RecoveryFactor:      NullNumberValue(),
		Rating:              NullNumberValue(),
	}
}

// rounded applies the per-metric display precision. Counts, streaks and the
// equity watermark keep their exact integer values.
func (s Statistics) rounded() Statistics {
	r := s
	r.WinRate = s.WinRate.rounded(0)
	r.LossRate = s.LossRate.rounded(0)
	r.AvgBarsHeld = s.AvgBarsHeld.rounded(2)
	r.AvgBarsHeldWinning = s.AvgBarsHeldWinning.rounded(2)
	r.AvgBarsHeldLosing = s.AvgBarsHeldLosing.rounded(2)
	r.NetProfit = s.NetProfit.rounded(2)
	r.AvgNetProfit = s.AvgNetProfit.rounded(2)
	r.GrossProfit = s.GrossProfit.rounded(2)
	r.GrossLoss = s.GrossLoss.rounded(2)
	r.AvgProfit = s.AvgProfit.rounded(2)
	r.AvgProfitWinners = s.AvgProfitWinners.rounded(2)
	r.AvgLoss = s.AvgLoss.rounded(2)
	r.ProfitFactor = s.ProfitFactor.rounded(2)
	r.PayoffRatio = s.PayoffRatio.rounded(2)
	r.MaxDrawdown = s.MaxDrawdown.rounded(2)
	r.RecoveryFactor = s.RecoveryFactor.rounded(2)
	r.Rating = s.Rating.rounded(2)

	return r
}

// EquityPoint is one point of the cumulative equity curve. X is the exit
// timestamp in milliseconds since the Unix epoch, Y the running profit sum.
type EquityPoint struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// PerformanceVals is an equity curve ordered by exit time.
type PerformanceVals []EquityPoint

// TradeStats bundles everything the engine persists per entity: the
// cumulative statistics, the full and decimated equity curves, and the
// checkpoint the next incremental run resumes from.
type TradeStats struct {
	Statistics           Statistics      `json:"statistics"`
	Equity               PerformanceVals `json:"equity"`
	EquityAvg            PerformanceVals `json:"equityAvg"`
	LastPositionExitDate time.Time       `json:"lastPositionExitDate"`
	LastUpdatedAt        time.Time       `json:"lastUpdatedAt"`
}

// NewTradeStats returns an empty state with the pre-trade baseline.
func NewTradeStats() TradeStats {
	return TradeStats{
		Statistics: NewStatistics(),
		Equity:     PerformanceVals{},
		EquityAvg:  PerformanceVals{},
	}
}

// HasCheckpoint reports whether at least one position has been folded in, so
// an incremental run can resume past it.
func (ts TradeStats) HasCheckpoint() bool {
	return !ts.LastPositionExitDate.IsZero()
}
