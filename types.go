package permitflow

import (
	"time"

	"github.com/google/uuid"
)

// StationID identifies one review station in the pipeline.
type StationID string

// Station is one discrete stage of the permit review pipeline, owned by one
// agency. Stations and edges are immutable configuration.
type Station struct {
	ID                 StationID
	DisplayName        string
	Agency             string
	InteragencyHandoff bool
}

// Edge is one legal transition between stations.
type Edge struct {
	From StationID
	To   StationID
}

// PermitEvent records a permit entering (and optionally leaving) one
// station. Events are immutable; the history store is append-only.
type PermitEvent struct {
	PermitID     uuid.UUID
	Station      StationID
	EnteredAt    time.Time
	ExitedAt     *time.Time
	PermitType   string
	Neighborhood string
}

// Trajectory is a permit's ordered station history, earliest entry first.
type Trajectory struct {
	PermitID     uuid.UUID
	PermitType   string
	Neighborhood string
	Events       []PermitEvent
}

// TrajectoryFilter narrows a history store read. Zero values mean "no
// constraint". An empty match is an empty slice, never an error.
type TrajectoryFilter struct {
	PermitIDs     []uuid.UUID
	PermitType    string
	Neighborhood  string
	EnteredAfter  *time.Time
	EnteredBefore *time.Time
	CompletedOnly bool
}

// Timeline is a live reading of where a permit is right now. The engine
// queries it fresh per diagnose/estimate call and never caches one.
type Timeline struct {
	Station    StationID
	EnteredAt  time.Time
	ObservedAt time.Time
}

// Severity is a delay tier: "low", "medium", "high", or "critical".
type Severity string

// PredictedStation is one entry of a prediction, ordered by probability
// descending with a running cumulative sum.
type PredictedStation struct {
	Station     StationID
	Probability float64
	Cumulative  float64
}

// Prediction is the distribution over stations after Horizon steps from the
// permit's current station. Empty for a permit at a terminal station.
type Prediction struct {
	PermitID       uuid.UUID
	CurrentStation StationID
	Horizon        int
	// Confidence names the fallback level that produced the first-step
	// distribution: "neighborhood", "type", "station", or "uniform".
	Confidence string
	// StallRisk is set when the permit's self-transition probability at its
	// current station exceeds the configured threshold.
	StallRisk      bool
	SelfTransition float64
	Stations       []PredictedStation
}

// Baseline holds dwell percentiles (in hours) for one (station, permit
// type, neighborhood) group, with the fallback scope that produced it.
type Baseline struct {
	Station      StationID
	PermitType   string
	Neighborhood string
	// Scope is the fallback level that answered: "neighborhood", "type",
	// or "station".
	Scope    string
	P50Hours float64
	P75Hours float64
	P90Hours float64

	SampleCount int
	// LowConfidence is set when the requested most specific group was below
	// the configured minimum sample count and the lookup fell back.
	LowConfidence bool
}

// PlaybookAction is one ranked remediation candidate in a diagnosis.
type PlaybookAction struct {
	Code        string
	Description string
	// Stations lists the station codes the action pertains to; empty means
	// it applies anywhere. Handoff actions carry the interagency station
	// codes they address.
	Stations []StationID
	Score    float64
	// HandoffFirst marks actions promoted ahead of the severity ranking
	// because the permit sits at an inter-agency handoff station.
	HandoffFirst bool
}

// Diagnosis explains one permit's delay at one point in time.
type Diagnosis struct {
	PermitID     uuid.UUID
	Station      StationID
	PermitType   string
	Neighborhood string

	ElapsedHours  float64
	Baseline      Baseline
	Severity      Severity
	LowConfidence bool

	HandoffStation   bool
	StallRisk        bool
	StallProbability float64

	Playbook []PlaybookAction
}

// CostEstimate is the monetary reading of a permit's delay: carrying cost
// plus probability-weighted revision risk, scaled by the permit type's
// multiplier. Recomputed on demand, never authoritative.
type CostEstimate struct {
	PermitID   uuid.UUID
	PermitType string

	DelayHours     float64
	AccrualPerHour float64
	CarryingCost   float64

	ReworkProbability float64
	RevisionRisk      float64

	Multiplier float64
	Total      float64
}

// Rate is the configured financial profile for one permit type.
type Rate struct {
	AccrualPerHour float64
	ReworkCost     float64
	Multiplier     float64
}

// Action is one configured playbook candidate (see PlaybookAction for the
// ranked form).
type Action struct {
	Code           string
	Description    string
	Stations       []StationID
	Handoff        bool
	SeverityWeight float64
}

// Pipeline bundles everything the engine treats as opaque configuration:
// the station graph, the per-permit-type cost table, and the playbook
// action table.
type Pipeline struct {
	Start    StationID
	Stations []Station
	Edges    []Edge
	Costs    map[string]Rate
	Actions  []Action
}

// OverrideKind names one hypothetical scenario transformation. The set is
// closed; see the Override constants.
type OverrideKind string

const (
	// OverrideAdvanceStation assumes the permit cleared its current station
	// and moved to Override.Station (which must be a legal successor).
	OverrideAdvanceStation OverrideKind = "advance_station"
	// OverrideReclassifyType assumes the permit was reclassified to
	// Override.PermitType.
	OverrideReclassifyType OverrideKind = "reclassify_type"
	// OverrideRebucketNeighborhood assumes the permit belongs to
	// Override.Neighborhood.
	OverrideRebucketNeighborhood OverrideKind = "rebucket_neighborhood"
	// OverrideResetClock assumes the dwell clock restarted at observation
	// time.
	OverrideResetClock OverrideKind = "reset_clock"
)

// Override is one hypothetical change; only the field matching Kind is read.
type Override struct {
	Kind         OverrideKind
	Station      StationID
	PermitType   string
	Neighborhood string
}

// Scenario is a named override set.
type Scenario struct {
	Name      string
	Overrides []Override
}

// Change is one scenario delta field, explicitly marked changed or
// unchanged.
type Change[T any] struct {
	Before  T
	After   T
	Changed bool
}

// ScenarioDelta is the structured difference between the real and
// hypothetical runs of a scenario.
type ScenarioDelta struct {
	Name string

	PredictedStations Change[[]StationID]
	Severity          Change[Severity]
	TotalCost         Change[float64]
	StallRisk         Change[bool]

	// Real and Hypothetical carry the full branch results for callers that
	// want more than the headline fields.
	Real         ScenarioRun
	Hypothetical ScenarioRun
}

// ScenarioRun bundles the four sub-analysis results for one branch.
type ScenarioRun struct {
	Prediction Prediction
	Baseline   Baseline
	Diagnosis  Diagnosis
	Cost       CostEstimate
}
