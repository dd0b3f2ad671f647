package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PermitType categorizes a permit application (e.g. "new_construction",
// "renovation"). Opaque to the engine except as a grouping key and a cost
// table lookup key.
type PermitType string

// Neighborhood is the geographic bucket a permit belongs to. Empty means
// unknown; baselines and transition rows fall back to type-global stats.
type Neighborhood string

// PermitEvent records a permit entering (and optionally leaving) one
// station. Events are immutable once recorded; the history store is
// append-only.
type PermitEvent struct {
	PermitID     uuid.UUID
	Station      StationID
	EnteredAt    time.Time
	ExitedAt     *time.Time // nil while the permit is still at the station
	PermitType   PermitType
	Neighborhood Neighborhood
}

// Dwell returns how long the permit sat at the station, or false when the
// event is still open. In-progress dwells are excluded from baseline fitting
// so a long-running open event cannot drag the percentiles.
func (e PermitEvent) Dwell() (time.Duration, bool) {
	if e.ExitedAt == nil {
		return 0, false
	}
	return e.ExitedAt.Sub(e.EnteredAt), true
}

// Trajectory is a permit's ordered station history, earliest entry first.
type Trajectory struct {
	PermitID     uuid.UUID
	PermitType   PermitType
	Neighborhood Neighborhood
	Events       []PermitEvent
}

// Current returns the latest event, the permit's present station.
// Callers must Validate first; Current panics on an empty trajectory.
func (t Trajectory) Current() PermitEvent {
	return t.Events[len(t.Events)-1]
}

// Completed reports whether the trajectory's final event has closed,
// i.e. the permit has exited its last recorded station.
func (t Trajectory) Completed() bool {
	return len(t.Events) > 0 && t.Events[len(t.Events)-1].ExitedAt != nil
}

// Validate checks the structural invariants every consumer assumes:
// at least one event, entry timestamps non-decreasing, and no event closed
// before it opened. Violations surface as ErrInvalidPermitState so the
// caller gets the error, never a silently defaulted reading.
func (t Trajectory) Validate() error {
	if len(t.Events) == 0 {
		return fmt.Errorf("%w: permit %s has no events", ErrInvalidPermitState, t.PermitID)
	}
	for i, e := range t.Events {
		if e.ExitedAt != nil && e.ExitedAt.Before(e.EnteredAt) {
			return fmt.Errorf("%w: permit %s event %d exits before entry", ErrInvalidPermitState, t.PermitID, i)
		}
		if i > 0 && e.EnteredAt.Before(t.Events[i-1].EnteredAt) {
			return fmt.Errorf("%w: permit %s events out of order at index %d", ErrInvalidPermitState, t.PermitID, i)
		}
	}
	return nil
}

// TrajectoryFilter narrows a history store read. Zero values mean
// "no constraint"; an empty result set is a valid answer, not an error.
type TrajectoryFilter struct {
	PermitIDs     []uuid.UUID
	PermitType    *PermitType
	Neighborhood  *Neighborhood
	EnteredAfter  *time.Time
	EnteredBefore *time.Time
	CompletedOnly bool
}
