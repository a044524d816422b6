package stats

import (
	"math"
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
)

func TestRound_HalfUp(t *testing.T) {
	assert.Equal(t, 2.35, Round(2.3456, 2))
	assert.Equal(t, 1.17, Round(35.0/30.0, 2))
	assert.Equal(t, -2.0, Round(-2.5, 0))
	assert.Equal(t, 3.0, Round(2.5, 0))
	assert.Equal(t, 99.0, Round(100-100*0.01, 6))
}

func TestDivide_NullSemantics(t *testing.T) {
	some := func(v float64) optional.Option[float64] { return optional.Some(v) }
	none := optional.None[float64]()

	assert.Equal(t, some(2.5), divide(some(5), some(2)))

	// A defined zero numerator wins over any denominator.
	assert.Equal(t, some(0.0), divide(some(0), none))
	assert.Equal(t, some(0.0), divide(some(0), some(0)))

	assert.True(t, divide(none, some(2)).IsNone())
	assert.True(t, divide(some(5), none).IsNone())
	assert.True(t, divide(some(5), some(0)).IsNone())
	assert.True(t, divide(some(math.NaN()), some(2)).IsNone())
}

func TestRoundOrNull_MapsNonFiniteToNone(t *testing.T) {
	assert.True(t, roundOrNull(optional.Some(math.Inf(1)), 2).IsNone())
	assert.True(t, roundOrNull(optional.Some(math.NaN()), 2).IsNone())
	assert.True(t, roundOrNull(optional.None[float64](), 2).IsNone())
	assert.Equal(t, optional.Some(1.23), roundOrNull(optional.Some(1.2345), 2))
}

func TestWithZeroedNulls_TouchesEveryScope(t *testing.T) {
	v := StatsNumberValue{
		All:  optional.Some(5.0),
		Long: optional.None[float64](),
	}

	got := v.withZeroedNulls()
	assert.Equal(t, optional.Some(5.0), got.All)
	assert.Equal(t, optional.Some(0.0), got.Long)
	assert.Equal(t, optional.Some(0.0), got.Short)
}

func TestScopeAccessors(t *testing.T) {
	var v StatsNumberValue
	v.Set(ScopeShort, optional.Some(7.0))

	assert.Equal(t, optional.Some(7.0), v.At(ScopeShort))
	assert.True(t, v.At(ScopeAll).IsNone())
	assert.True(t, v.At(ScopeLong).IsNone())
}
