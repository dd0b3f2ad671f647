// Package diagnose explains why a specific permit is where it is: it
// compares the permit's live dwell against the fitted baselines, assigns a
// severity tier, and assembles a ranked remediation playbook.
//
// Diagnose is a pure function over immutable inputs, safe to call
// concurrently for different permits with no coordination.
package diagnose

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/permitops/permitflow/internal/baseline"
	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/markov"
	"github.com/permitops/permitflow/internal/model"
)

// Action is one configured remediation candidate. Actions are configuration,
// not hardwired logic; the surrounding application loads the table.
type Action struct {
	Code        string
	Description string
	// Stations restricts the action to specific station codes. Empty means
	// the action applies anywhere.
	Stations []model.StationID
	// Handoff marks an action that addresses inter-agency handoff stalls.
	// Handoff actions are prepended when the permit sits at a handoff
	// station, ahead of the severity-ranked remainder.
	Handoff bool
	// SeverityWeight scales the action's score by the diagnosis tier.
	SeverityWeight float64
}

// RankedAction is an Action placed in a diagnosis playbook.
type RankedAction struct {
	Action
	Score float64
	// HandoffFirst is set on actions promoted because the current station is
	// an inter-agency handoff.
	HandoffFirst bool
}

// Diagnosis is the full picture for one permit at one point in time.
type Diagnosis struct {
	PermitID     uuid.UUID
	Station      model.StationID
	PermitType   model.PermitType
	Neighborhood model.Neighborhood

	ElapsedHours float64
	Baseline     baseline.Baseline
	Severity     model.Severity
	// LowConfidence mirrors the baseline flag at the top level so callers
	// cannot miss it.
	LowConfidence bool

	HandoffStation   bool
	StallRisk        bool
	StallProbability float64

	Playbook []RankedAction
}

// Engine diagnoses permits against one model/baseline snapshot pair.
type Engine struct {
	graph     *graph.Graph
	model     *markov.Model
	baselines *baseline.Snapshot
	actions   []Action
}

// New wires a diagnostics engine over immutable snapshots.
func New(g *graph.Graph, m *markov.Model, b *baseline.Snapshot, actions []Action) *Engine {
	return &Engine{graph: g, model: m, baselines: b, actions: actions}
}

// Diagnose classifies the permit's current dwell and builds its playbook.
// A malformed trajectory or a timeline pointing at a station outside the
// graph is an error, never a silently defaulted diagnosis.
func (e *Engine) Diagnose(t model.Trajectory, tl model.Timeline) (Diagnosis, error) {
	if err := t.Validate(); err != nil {
		return Diagnosis{}, err
	}
	if _, ok := e.graph.Station(tl.Station); !ok {
		return Diagnosis{}, fmt.Errorf("%w: permit %s at unknown station %q", model.ErrInvalidPermitState, t.PermitID, tl.Station)
	}
	if tl.ObservedAt.Before(tl.EnteredAt) {
		return Diagnosis{}, fmt.Errorf("%w: permit %s observed before station entry", model.ErrInvalidPermitState, t.PermitID)
	}

	elapsed := tl.Elapsed().Hours()
	b := e.baselines.Lookup(tl.Station, t.PermitType, t.Neighborhood)
	stallP, stall := e.model.StallRisk(tl.Station, t.PermitType, t.Neighborhood)

	d := Diagnosis{
		PermitID:         t.PermitID,
		Station:          tl.Station,
		PermitType:       t.PermitType,
		Neighborhood:     t.Neighborhood,
		ElapsedHours:     elapsed,
		Baseline:         b,
		Severity:         Classify(elapsed, b),
		LowConfidence:    b.LowConfidence,
		HandoffStation:   e.graph.IsHandoff(tl.Station),
		StallRisk:        stall,
		StallProbability: stallP,
	}
	d.Playbook = e.rankPlaybook(d)
	return d, nil
}

// Classify maps elapsed dwell hours onto a severity tier. Boundaries are
// inclusive on the lower tier: exactly p50 is medium, exactly p75 is still
// medium, exactly p90 is still high.
func Classify(elapsedHours float64, b baseline.Baseline) model.Severity {
	switch {
	case elapsedHours > b.P90Hours:
		return model.SeverityCritical
	case elapsedHours > b.P75Hours:
		return model.SeverityHigh
	case elapsedHours >= b.P50Hours:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// rankPlaybook selects the applicable actions and orders them: handoff
// actions first when the permit sits at a handoff station, then by
// (severity contribution + historical resolution frequency) descending,
// ties broken by graph proximity to a terminal station (closer wins), then
// by code for a stable order.
func (e *Engine) rankPlaybook(d Diagnosis) []RankedAction {
	tier := float64(d.Severity)
	resolution := e.baselines.ResolutionRate(d.Station)

	var ranked []RankedAction
	for _, a := range e.actions {
		if !a.appliesTo(d.Station) {
			continue
		}
		if a.Handoff && !d.HandoffStation {
			continue
		}
		ranked = append(ranked, RankedAction{
			Action:       a,
			Score:        a.SeverityWeight*tier + resolution,
			HandoffFirst: a.Handoff && d.HandoffStation,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].HandoffFirst != ranked[j].HandoffFirst {
			return ranked[i].HandoffFirst
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		di, dj := e.actionDistance(ranked[i].Action), e.actionDistance(ranked[j].Action)
		if di != dj {
			return di < dj
		}
		return ranked[i].Code < ranked[j].Code
	})
	return ranked
}

func (a Action) appliesTo(station model.StationID) bool {
	if len(a.Stations) == 0 {
		return true
	}
	for _, s := range a.Stations {
		if s == station {
			return true
		}
	}
	return false
}

// actionDistance is the action's best-case hop count to a terminal station,
// taken over the stations it pertains to.
func (e *Engine) actionDistance(a Action) int {
	if len(a.Stations) == 0 {
		return int(^uint(0) >> 1)
	}
	best := int(^uint(0) >> 1)
	for _, s := range a.Stations {
		if d := e.graph.DistanceToTerminal(s); d < best {
			best = d
		}
	}
	return best
}
