package stats

import (
	"math"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-stats/internal/types"
)

// Scope selects one of the three tracked views of a statistic: the aggregate
// over every position, long positions only, or short positions only.
type Scope string

const (
	// ScopeAll aggregates positions of both directions.
	ScopeAll Scope = "all"

	// ScopeLong aggregates long positions only.
	ScopeLong Scope = "long"

	// ScopeShort aggregates short positions only.
	ScopeShort Scope = "short"
)

// scopeOf maps a position direction to its statistics scope.
func scopeOf(d types.Direction) Scope {
	if d == types.DirectionShort {
		return ScopeShort
	}

	return ScopeLong
}

// StatsNumberValue tracks one numeric statistic per scope. A None value means
// the statistic is undefined so far (no trades in that scope, or a ratio with
// an undefined denominator); it serializes to JSON null, which is distinct
// from a computed zero.
type StatsNumberValue struct {
	All   optional.Option[float64] `json:"all"`
	Long  optional.Option[float64] `json:"long"`
	Short optional.Option[float64] `json:"short"`
}

// ZeroNumberValue returns a value holding zero in every scope.
func ZeroNumberValue() StatsNumberValue {
	return StatsNumberValue{
		All:   optional.Some(0.0),
		Long:  optional.Some(0.0),
		Short: optional.Some(0.0),
	}
}

// NullNumberValue returns a value undefined in every scope.
func NullNumberValue() StatsNumberValue {
	return StatsNumberValue{
		All:   optional.None[float64](),
		Long:  optional.None[float64](),
		Short: optional.None[float64](),
	}
}

// At returns the value tracked for the given scope.
func (v StatsNumberValue) At(s Scope) optional.Option[float64] {
	switch s {
	case ScopeLong:
		return v.Long
	case ScopeShort:
		return v.Short
	default:
		return v.All
	}
}

// Set replaces the value tracked for the given scope.
func (v *StatsNumberValue) Set(s Scope, val optional.Option[float64]) {
	switch s {
	case ScopeLong:
		v.Long = val
	case ScopeShort:
		v.Short = val
	default:
		v.All = val
	}
}

// withZeroedNulls returns a copy with every undefined scope set to zero. The
// first processed position establishes a zero baseline for gross profit and
// loss so that ratios over them become defined.
func (v StatsNumberValue) withZeroedNulls() StatsNumberValue {
	next := v
	for _, s := range []Scope{ScopeAll, ScopeLong, ScopeShort} {
		if next.At(s).IsNone() {
			next.Set(s, optional.Some(0.0))
		}
	}

	return next
}

// rounded returns a copy rounded to the given number of decimals in every
// scope, applying the round-or-null rule.
func (v StatsNumberValue) rounded(decimals int) StatsNumberValue {
	return StatsNumberValue{
		All:   roundOrNull(v.All, decimals),
		Long:  roundOrNull(v.Long, decimals),
		Short: roundOrNull(v.Short, decimals),
	}
}

// StatsStringValue tracks one string statistic (a date) per scope.
type StatsStringValue struct {
	All   string `json:"all"`
	Long  string `json:"long"`
	Short string `json:"short"`
}

// At returns the string tracked for the given scope.
func (v StatsStringValue) At(s Scope) string {
	switch s {
	case ScopeLong:
		return v.Long
	case ScopeShort:
		return v.Short
	default:
		return v.All
	}
}

// Set replaces the string tracked for the given scope.
func (v *StatsStringValue) Set(s Scope, val string) {
	switch s {
	case ScopeLong:
		v.Long = val
	case ScopeShort:
		v.Short = val
	default:
		v.All = val
	}
}

// Round rounds n to the given number of decimals, halves towards the higher
// value (2.5 -> 3, -2.5 -> -2).
func Round(n float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Floor(n*pow+0.5) / pow
}

// roundOrNull rounds a defined value, mapping NaN and infinities to None
// rather than zero.
func roundOrNull(v optional.Option[float64], decimals int) optional.Option[float64] {
	if v.IsNone() {
		return v
	}

	n := v.Unwrap()
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return optional.None[float64]()
	}

	return optional.Some(Round(n, decimals))
}

// divide returns a/b with the engine's null semantics: a defined zero
// numerator yields zero regardless of the denominator, while an undefined
// operand or a zero denominator yields None.
func divide(a, b optional.Option[float64]) optional.Option[float64] {
	if a.IsSome() && a.Unwrap() == 0 {
		return optional.Some(0.0)
	}

	if a.IsNone() || b.IsNone() || math.IsNaN(a.Unwrap()) || math.IsNaN(b.Unwrap()) || b.Unwrap() == 0 {
		return optional.None[float64]()
	}

	return optional.Some(a.Unwrap() / b.Unwrap())
}

// absOf returns the absolute value, propagating None.
func absOf(v optional.Option[float64]) optional.Option[float64] {
	if v.IsNone() {
		return v
	}

	return optional.Some(math.Abs(v.Unwrap()))
}

// negOf returns the negated value, propagating None.
func negOf(v optional.Option[float64]) optional.Option[float64] {
	if v.IsNone() {
		return v
	}

	return optional.Some(-v.Unwrap())
}

// orZero unwraps a value treating None as zero.
func orZero(v optional.Option[float64]) float64 {
	return v.TakeOr(0)
}
