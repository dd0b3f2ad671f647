package scenario

import (
	"fmt"

	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/model"
)

// OverrideKind names one hypothetical transformation. The set is closed:
// a new override means a new constant plus an entry in the applier table,
// keeping dispatch exhaustive.
type OverrideKind string

const (
	// OverrideAdvanceStation assumes the permit cleared its current station
	// and moved to the given successor.
	OverrideAdvanceStation OverrideKind = "advance_station"
	// OverrideReclassifyType assumes the permit was reclassified to the
	// given permit type.
	OverrideReclassifyType OverrideKind = "reclassify_type"
	// OverrideRebucketNeighborhood assumes the permit belongs to the given
	// neighborhood bucket.
	OverrideRebucketNeighborhood OverrideKind = "rebucket_neighborhood"
	// OverrideResetClock assumes the dwell clock restarted at the
	// observation time (e.g. a resubmission just landed).
	OverrideResetClock OverrideKind = "reset_clock"
)

// Override is one hypothetical change. Only the field matching the kind is
// read.
type Override struct {
	Kind         OverrideKind
	Station      model.StationID
	PermitType   model.PermitType
	Neighborhood model.Neighborhood
}

// view is one coherent (trajectory, timeline) reading, real or hypothetical.
type view struct {
	trajectory model.Trajectory
	timeline   model.Timeline
}

type applier func(g *graph.Graph, v view, o Override) (view, error)

var appliers = map[OverrideKind]applier{
	OverrideAdvanceStation:       applyAdvanceStation,
	OverrideReclassifyType:       applyReclassifyType,
	OverrideRebucketNeighborhood: applyRebucketNeighborhood,
	OverrideResetClock:           applyResetClock,
}

// applyOverrides folds the override list over a copy of the real view.
// Unknown kinds and illegal advances fail the whole scenario.
func applyOverrides(g *graph.Graph, v view, overrides []Override) (view, error) {
	v.trajectory.Events = append([]model.PermitEvent(nil), v.trajectory.Events...)
	for _, o := range overrides {
		apply, ok := appliers[o.Kind]
		if !ok {
			return view{}, fmt.Errorf("scenario: unknown override kind %q", o.Kind)
		}
		next, err := apply(g, v, o)
		if err != nil {
			return view{}, err
		}
		v = next
	}
	return v, nil
}

func applyAdvanceStation(g *graph.Graph, v view, o Override) (view, error) {
	from := v.timeline.Station
	legal := false
	for _, s := range g.Successors(from) {
		if s == o.Station {
			legal = true
			break
		}
	}
	if !legal {
		return view{}, fmt.Errorf("scenario: advance %q -> %q is not a legal transition", from, o.Station)
	}

	now := v.timeline.ObservedAt
	if n := len(v.trajectory.Events); n > 0 && v.trajectory.Events[n-1].ExitedAt == nil {
		exit := now
		v.trajectory.Events[n-1].ExitedAt = &exit
	}
	v.trajectory.Events = append(v.trajectory.Events, model.PermitEvent{
		PermitID:     v.trajectory.PermitID,
		Station:      o.Station,
		EnteredAt:    now,
		PermitType:   v.trajectory.PermitType,
		Neighborhood: v.trajectory.Neighborhood,
	})
	v.timeline = model.Timeline{Station: o.Station, EnteredAt: now, ObservedAt: now}
	return v, nil
}

func applyReclassifyType(_ *graph.Graph, v view, o Override) (view, error) {
	if o.PermitType == "" {
		return view{}, fmt.Errorf("scenario: reclassify_type requires a permit type")
	}
	v.trajectory.PermitType = o.PermitType
	for i := range v.trajectory.Events {
		v.trajectory.Events[i].PermitType = o.PermitType
	}
	return v, nil
}

func applyRebucketNeighborhood(_ *graph.Graph, v view, o Override) (view, error) {
	v.trajectory.Neighborhood = o.Neighborhood
	for i := range v.trajectory.Events {
		v.trajectory.Events[i].Neighborhood = o.Neighborhood
	}
	return v, nil
}

func applyResetClock(_ *graph.Graph, v view, _ Override) (view, error) {
	v.timeline.EnteredAt = v.timeline.ObservedAt
	return v, nil
}
