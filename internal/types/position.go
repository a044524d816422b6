package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
)

// Direction is the side of a closed position.
type Direction string

const (
	// DirectionLong marks a position opened by buying.
	DirectionLong Direction = "long"

	// DirectionShort marks a position opened by selling.
	DirectionShort Direction = "short"
)

// Position is a closed trading position as read from the positions store.
// Direction, ExitDate, Profit and BarsHeld are required by the statistics
// engine; the remaining fields are carried for persistence write-backs.
type Position struct {
	ID        uuid.UUID                `json:"id"`
	Direction Direction                `json:"direction"`
	EntryDate time.Time                `json:"entryDate"`
	ExitDate  time.Time                `json:"exitDate"`
	Profit    float64                  `json:"profit"`
	BarsHeld  float64                  `json:"barsHeld"`
	Volume    optional.Option[float64] `json:"volume,omitempty"`
	Fee       optional.Option[float64] `json:"fee,omitempty"`
}

// Subscription links a user to a robot's signal stream. Positions entered
// before SubscribedAt do not count towards the subscriber's statistics.
type Subscription struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	RobotID      uuid.UUID `json:"robotId"`
	SubscribedAt time.Time `json:"subscribedAt"`
}
