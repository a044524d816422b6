package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
)

// EntityKind identifies which kind of trading entity a stats job targets.
type EntityKind string

const (
	// EntityRobot targets a single algorithmic trading robot.
	EntityRobot EntityKind = "robot"

	// EntityPortfolio targets a robot portfolio.
	EntityPortfolio EntityKind = "portfolio"

	// EntityUserRobot targets a user-linked robot instance.
	EntityUserRobot EntityKind = "userRobot"

	// EntityUserPortfolio targets a user-linked portfolio instance.
	EntityUserPortfolio EntityKind = "userPortfolio"

	// EntitySignalSubscription targets a single signal subscription.
	EntitySignalSubscription EntityKind = "signalSubscription"

	// EntityUserSignalsAggr aggregates all of a user's signal subscriptions.
	EntityUserSignalsAggr EntityKind = "userSignalsAggr"

	// EntityRobotSubscriptions fans one robot's position stream out to every
	// subscription of that robot.
	EntityRobotSubscriptions EntityKind = "robotSubscriptions"
)

// StatsJob is a recomputation request handed to the worker by the job
// orchestrator.
type StatsJob struct {
	Type     EntityKind                 `json:"type"`
	EntityID uuid.UUID                  `json:"entityId"`
	Recalc   bool                       `json:"recalc"`
	DateFrom optional.Option[time.Time] `json:"dateFrom,omitempty"`
	DateTo   optional.Option[time.Time] `json:"dateTo,omitempty"`
}

// jobNamespace seeds deterministic job ids so that equal jobs produced by
// different processes collapse to one queue entry.
var jobNamespace = uuid.MustParse("7d4a1e6a-9c1f-4a75-8a93-2f0d5b1c6e42")

// ID returns a stable identifier derived from every non-empty field except
// Recalc. Jobs that differ only in the recalc flag share an id and are
// deduplicated against each other.
func (j StatsJob) ID() string {
	parts := []string{string(j.Type), j.EntityID.String()}

	if j.DateFrom.IsSome() {
		parts = append(parts, j.DateFrom.Unwrap().UTC().Format(time.RFC3339Nano))
	}

	if j.DateTo.IsSome() {
		parts = append(parts, j.DateTo.Unwrap().UTC().Format(time.RFC3339Nano))
	}

	return uuid.NewSHA1(jobNamespace, []byte(strings.Join(parts, "|"))).String()
}
