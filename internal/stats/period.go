package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-stats/internal/types"
)

// PeriodKind is the calendar granularity of a statistics bucket.
type PeriodKind string

const (
	PeriodYear    PeriodKind = "year"
	PeriodQuarter PeriodKind = "quarter"
	PeriodMonth   PeriodKind = "month"
)

// PeriodKinds lists every tracked granularity in persistence order.
var PeriodKinds = []PeriodKind{PeriodYear, PeriodQuarter, PeriodMonth}

// PeriodMetrics is the scalar metric set of one calendar bucket. Unlike the
// cumulative statistics it is not split by direction; buckets are small
// enough that consumers drill into positions directly when they need sides.
type PeriodMetrics struct {
	TradesCount   float64                  `json:"tradesCount"`
	TradesWinning float64                  `json:"tradesWinning"`
	TradesLosing  float64                  `json:"tradesLosing"`
	WinRate       optional.Option[float64] `json:"winRate"`
	NetProfit     float64                  `json:"netProfit"`
	GrossProfit   float64                  `json:"grossProfit"`
	GrossLoss     float64                  `json:"grossLoss"`
	LocalMax      float64                  `json:"localMax"`
	MaxDrawdown   float64                  `json:"maxDrawdown"`
}

// PeriodStats is one calendar bucket. DateFrom is inclusive, DateTo is the
// exclusive start of the next period.
type PeriodStats struct {
	Kind     PeriodKind           `json:"period"`
	Key      string               `json:"key"`
	Year     int                  `json:"year"`
	Quarter  optional.Option[int] `json:"quarter,omitempty"`
	Month    optional.Option[int] `json:"month,omitempty"`
	DateFrom time.Time            `json:"dateFrom"`
	DateTo   time.Time            `json:"dateTo"`
	Stats    PeriodMetrics        `json:"stats"`
}

// PeriodTracker maintains the year, quarter and month buckets of one entity
// and remembers which buckets the current batch touched, so incremental runs
// can upsert only those.
type PeriodTracker struct {
	buckets map[PeriodKind]map[string]*PeriodStats
	touched map[PeriodKind]map[string]bool
}

// NewPeriodTracker seeds a tracker with previously persisted buckets. A nil
// or empty slice starts fresh.
func NewPeriodTracker(prev []PeriodStats) *PeriodTracker {
	t := &PeriodTracker{
		buckets: make(map[PeriodKind]map[string]*PeriodStats),
		touched: make(map[PeriodKind]map[string]bool),
	}
	for _, kind := range PeriodKinds {
		t.buckets[kind] = make(map[string]*PeriodStats)
		t.touched[kind] = make(map[string]bool)
	}

	for _, p := range prev {
		bucket := p
		t.buckets[p.Kind][p.Key] = &bucket
	}

	return t
}

// Apply folds one closed position into the bucket of every granularity its
// exit date falls in.
func (t *PeriodTracker) Apply(pos types.Position) {
	exit := pos.ExitDate.UTC()
	for _, kind := range PeriodKinds {
		key := periodKey(kind, exit)
		bucket, ok := t.buckets[kind][key]
		if !ok {
			bucket = newBucket(kind, exit)
			t.buckets[kind][key] = bucket
		}

		applyToMetrics(&bucket.Stats, pos.Profit)
		t.touched[kind][key] = true
	}
}

// applyToMetrics advances one bucket's scalar metrics by a single position.
func applyToMetrics(m *PeriodMetrics, profit float64) {
	m.TradesCount++
	if profit > 0 {
		m.TradesWinning++
		m.GrossProfit = Round(m.GrossProfit+profit, 2)
	}
	if profit < 0 {
		m.TradesLosing++
		m.GrossLoss = Round(m.GrossLoss+profit, 2)
	}

	m.WinRate = optional.Some(Round(m.TradesWinning/m.TradesCount*100, 0))
	m.NetProfit = Round(m.NetProfit+profit, 2)
	m.LocalMax = math.Max(m.LocalMax, m.NetProfit)

	// Drawdown is local to the bucket: each period starts at its own
	// high-water mark.
	if dd := m.NetProfit - m.LocalMax; dd < m.MaxDrawdown {
		m.MaxDrawdown = Round(dd, 2)
	}
}

// All returns every bucket ordered by kind and period start.
func (t *PeriodTracker) All() []PeriodStats {
	return t.collect(func(PeriodKind, string) bool { return true })
}

// Touched returns the buckets modified since the tracker was seeded, ordered
// by kind and period start.
func (t *PeriodTracker) Touched() []PeriodStats {
	return t.collect(func(kind PeriodKind, key string) bool { return t.touched[kind][key] })
}

func (t *PeriodTracker) collect(keep func(PeriodKind, string) bool) []PeriodStats {
	out := make([]PeriodStats, 0)
	for _, kind := range PeriodKinds {
		keys := make([]string, 0, len(t.buckets[kind]))
		for key := range t.buckets[kind] {
			if keep(kind, key) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		for _, key := range keys {
			out = append(out, *t.buckets[kind][key])
		}
	}

	return out
}

// periodKey derives the bucket key of a timestamp. Zero padding keeps the
// lexicographic and chronological orders identical.
func periodKey(kind PeriodKind, ts time.Time) string {
	switch kind {
	case PeriodQuarter:
		return fmt.Sprintf("%04d.%d", ts.Year(), quarterOf(ts))
	case PeriodMonth:
		return fmt.Sprintf("%04d.%02d", ts.Year(), int(ts.Month()))
	default:
		return fmt.Sprintf("%04d", ts.Year())
	}
}

func quarterOf(ts time.Time) int {
	return (int(ts.Month())-1)/3 + 1
}

// newBucket builds an empty bucket covering the period the timestamp falls in.
func newBucket(kind PeriodKind, ts time.Time) *PeriodStats {
	year := ts.Year()
	bucket := &PeriodStats{
		Kind: kind,
		Key:  periodKey(kind, ts),
		Year: year,
	}

	switch kind {
	case PeriodQuarter:
		q := quarterOf(ts)
		bucket.Quarter = optional.Some(q)
		bucket.DateFrom = time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		bucket.DateTo = bucket.DateFrom.AddDate(0, 3, 0)
	case PeriodMonth:
		bucket.Month = optional.Some(int(ts.Month()))
		bucket.DateFrom = time.Date(year, ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		bucket.DateTo = bucket.DateFrom.AddDate(0, 1, 0)
	default:
		bucket.DateFrom = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		bucket.DateTo = bucket.DateFrom.AddDate(1, 0, 0)
	}

	return bucket
}
