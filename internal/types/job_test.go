package types

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
)

func TestJobID_StableAcrossCalls(t *testing.T) {
	job := StatsJob{
		Type:     EntityRobot,
		EntityID: uuid.MustParse("a2f9e3b0-1111-4222-8333-444455556666"),
		Recalc:   false,
	}

	assert.Equal(t, job.ID(), job.ID())
}

func TestJobID_IgnoresRecalcFlag(t *testing.T) {
	id := uuid.MustParse("a2f9e3b0-1111-4222-8333-444455556666")
	a := StatsJob{Type: EntityRobot, EntityID: id, Recalc: false}
	b := StatsJob{Type: EntityRobot, EntityID: id, Recalc: true}

	assert.Equal(t, a.ID(), b.ID())
}

func TestJobID_DistinguishesFields(t *testing.T) {
	id := uuid.MustParse("a2f9e3b0-1111-4222-8333-444455556666")
	base := StatsJob{Type: EntityRobot, EntityID: id}

	other := base
	other.Type = EntityPortfolio
	assert.NotEqual(t, base.ID(), other.ID())

	withRange := base
	withRange.DateFrom = optional.Some(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.NotEqual(t, base.ID(), withRange.ID())
}
