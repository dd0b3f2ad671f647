package permitflow

import (
	"github.com/google/uuid"

	"github.com/permitops/permitflow/internal/baseline"
	"github.com/permitops/permitflow/internal/config"
	"github.com/permitops/permitflow/internal/cost"
	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/markov"
	"github.com/permitops/permitflow/internal/model"
	"github.com/permitops/permitflow/internal/scenario"
)

// Conversions between the public surface and internal types. Kept together
// here: this is the only package that sees both sides of the boundary.

func toInternalPipeline(p Pipeline) config.Pipeline {
	out := config.Pipeline{
		Start: model.StationID(p.Start),
		Costs: make(cost.Table, len(p.Costs)),
	}
	for _, s := range p.Stations {
		out.Stations = append(out.Stations, model.Station{
			ID:                 model.StationID(s.ID),
			DisplayName:        s.DisplayName,
			Agency:             s.Agency,
			InteragencyHandoff: s.InteragencyHandoff,
		})
	}
	for _, e := range p.Edges {
		out.Edges = append(out.Edges, graph.Edge{
			From: model.StationID(e.From),
			To:   model.StationID(e.To),
		})
	}
	for ptype, r := range p.Costs {
		out.Costs[model.PermitType(ptype)] = cost.Rate{
			AccrualPerHour: r.AccrualPerHour,
			ReworkCost:     r.ReworkCost,
			Multiplier:     r.Multiplier,
		}
	}
	for _, a := range p.Actions {
		out.Actions = append(out.Actions, diagnose.Action{
			Code:           a.Code,
			Description:    a.Description,
			Stations:       toStationIDs(a.Stations),
			Handoff:        a.Handoff,
			SeverityWeight: a.SeverityWeight,
		})
	}
	return out
}

func toStationIDs(ids []StationID) []model.StationID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]model.StationID, len(ids))
	for i, id := range ids {
		out[i] = model.StationID(id)
	}
	return out
}

func fromStationIDs(ids []model.StationID) []StationID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]StationID, len(ids))
	for i, id := range ids {
		out[i] = StationID(id)
	}
	return out
}

func toModelTrajectory(t Trajectory) model.Trajectory {
	out := model.Trajectory{
		PermitID:     t.PermitID,
		PermitType:   model.PermitType(t.PermitType),
		Neighborhood: model.Neighborhood(t.Neighborhood),
		Events:       make([]model.PermitEvent, len(t.Events)),
	}
	for i, e := range t.Events {
		out.Events[i] = model.PermitEvent{
			PermitID:     e.PermitID,
			Station:      model.StationID(e.Station),
			EnteredAt:    e.EnteredAt,
			ExitedAt:     e.ExitedAt,
			PermitType:   model.PermitType(e.PermitType),
			Neighborhood: model.Neighborhood(e.Neighborhood),
		}
	}
	return out
}

func toInternalScenario(sc Scenario) scenario.Scenario {
	out := scenario.Scenario{Name: sc.Name}
	for _, o := range sc.Overrides {
		out.Overrides = append(out.Overrides, scenario.Override{
			Kind:         scenario.OverrideKind(o.Kind),
			Station:      model.StationID(o.Station),
			PermitType:   model.PermitType(o.PermitType),
			Neighborhood: model.Neighborhood(o.Neighborhood),
		})
	}
	return out
}

func fromPrediction(permitID uuid.UUID, p markov.Prediction) Prediction {
	out := Prediction{
		PermitID:       permitID,
		CurrentStation: StationID(p.CurrentStation),
		Horizon:        p.Horizon,
		Confidence:     string(p.Confidence),
		StallRisk:      p.StallRisk,
		SelfTransition: p.SelfTransition,
	}
	for _, s := range p.Stations {
		out.Stations = append(out.Stations, PredictedStation{
			Station:     StationID(s.Station),
			Probability: s.Probability,
			Cumulative:  s.Cumulative,
		})
	}
	return out
}

func fromBaseline(b baseline.Baseline) Baseline {
	return Baseline{
		Station:       StationID(b.Station),
		PermitType:    string(b.PermitType),
		Neighborhood:  string(b.Neighborhood),
		Scope:         string(b.Scope),
		P50Hours:      b.P50Hours,
		P75Hours:      b.P75Hours,
		P90Hours:      b.P90Hours,
		SampleCount:   b.SampleCount,
		LowConfidence: b.LowConfidence,
	}
}

func fromDiagnosis(d diagnose.Diagnosis) Diagnosis {
	out := Diagnosis{
		PermitID:         d.PermitID,
		Station:          StationID(d.Station),
		PermitType:       string(d.PermitType),
		Neighborhood:     string(d.Neighborhood),
		ElapsedHours:     d.ElapsedHours,
		Baseline:         fromBaseline(d.Baseline),
		Severity:         Severity(d.Severity.String()),
		LowConfidence:    d.LowConfidence,
		HandoffStation:   d.HandoffStation,
		StallRisk:        d.StallRisk,
		StallProbability: d.StallProbability,
	}
	for _, a := range d.Playbook {
		out.Playbook = append(out.Playbook, PlaybookAction{
			Code:         a.Code,
			Description:  a.Description,
			Stations:     fromStationIDs(a.Stations),
			Score:        a.Score,
			HandoffFirst: a.HandoffFirst,
		})
	}
	return out
}

func fromEstimate(c cost.Estimate) CostEstimate {
	return CostEstimate{
		PermitID:          c.PermitID,
		PermitType:        string(c.PermitType),
		DelayHours:        c.DelayHours,
		AccrualPerHour:    c.AccrualPerHour,
		CarryingCost:      c.CarryingCost,
		ReworkProbability: c.ReworkProbability,
		RevisionRisk:      c.RevisionRisk,
		Multiplier:        c.Multiplier,
		Total:             c.Total,
	}
}

func fromRun(permitID uuid.UUID, r scenario.Run) ScenarioRun {
	return ScenarioRun{
		Prediction: fromPrediction(permitID, r.Prediction),
		Baseline:   fromBaseline(r.Baseline),
		Diagnosis:  fromDiagnosis(r.Diagnosis),
		Cost:       fromEstimate(r.Cost),
	}
}

func fromDelta(permitID uuid.UUID, d scenario.Delta) ScenarioDelta {
	return ScenarioDelta{
		Name: d.Name,
		PredictedStations: Change[[]StationID]{
			Before:  fromStationIDs(d.PredictedStations.Before),
			After:   fromStationIDs(d.PredictedStations.After),
			Changed: d.PredictedStations.Changed,
		},
		Severity: Change[Severity]{
			Before:  Severity(d.Severity.Before.String()),
			After:   Severity(d.Severity.After.String()),
			Changed: d.Severity.Changed,
		},
		TotalCost: Change[float64]{
			Before:  d.TotalCost.Before,
			After:   d.TotalCost.After,
			Changed: d.TotalCost.Changed,
		},
		StallRisk: Change[bool]{
			Before:  d.StallRisk.Before,
			After:   d.StallRisk.After,
			Changed: d.StallRisk.Changed,
		},
		Real:         fromRun(permitID, d.Real),
		Hypothetical: fromRun(permitID, d.Hypothetical),
	}
}
