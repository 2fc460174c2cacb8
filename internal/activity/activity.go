package activity

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"voxelprism.ai/internal/action"
	"voxelprism.ai/internal/world"
)

var ErrInvalid = errors.New("invalid activity")

// Non-actor cause names.
const (
	CauseFire      = "fire"
	CauseExplosion = "explosion"
	CausePhysics   = "physics"
)

// Cause is who or what triggered a change. Actor is nil for environmental
// causes, which carry a Name instead.
type Cause struct {
	Actor *world.Actor `json:"actor,omitempty"`
	Name  string       `json:"name,omitempty"`
}

func ByActor(a world.Actor) Cause { return Cause{Actor: &a} }

func Named(name string) Cause { return Cause{Name: name} }

func (c Cause) IsZero() bool { return c.Actor == nil && c.Name == "" }

func (c Cause) String() string {
	switch {
	case c.Actor != nil && c.Actor.Name != "":
		return c.Actor.Name
	case c.Actor != nil:
		return c.Actor.ID.String()
	case c.Name != "":
		return c.Name
	}
	return "unknown"
}

type Activity struct {
	ID        ulid.ULID        `json:"id"`
	Action    action.Action    `json:"action"`
	World     string           `json:"world"`
	Location  world.Coordinate `json:"location"`
	Cause     Cause            `json:"cause"`
	Timestamp time.Time        `json:"timestamp"`
}

// New stamps a fresh activity. IDs sort by timestamp and are monotonic
// within a millisecond.
func New(a action.Action, worldID string, loc world.Coordinate, cause Cause, at time.Time) Activity {
	at = at.UTC()
	return Activity{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()),
		Action:    a,
		World:     worldID,
		Location:  loc,
		Cause:     cause,
		Timestamp: at,
	}
}

func (a Activity) Validate() error {
	if a.Action.IsZero() {
		return fmt.Errorf("%w: missing action", ErrInvalid)
	}
	if a.ID == (ulid.ULID{}) {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalid)
	}
	return nil
}
