package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/permitops/permitflow/internal/cost"
	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/model"
)

// Pipeline is the parsed pipeline definition: everything the engine treats
// as opaque configuration rather than logic.
type Pipeline struct {
	Start    model.StationID
	Stations []model.Station
	Edges    []graph.Edge
	Costs    cost.Table
	Actions  []diagnose.Action
}

type pipelineFile struct {
	StartStation string             `json:"start_station"`
	Stations     []stationDef       `json:"stations"`
	Edges        []edgeDef          `json:"edges"`
	HandoffCodes []string           `json:"handoff_stations"`
	CostTable    map[string]rateDef `json:"cost_table"`
	Actions      []actionDef        `json:"actions"`
}

type stationDef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Agency  string `json:"agency"`
	Handoff bool   `json:"interagency_handoff"`
}

type edgeDef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type rateDef struct {
	AccrualPerHour float64 `json:"accrual_per_hour"`
	ReworkCost     float64 `json:"rework_cost"`
	Multiplier     float64 `json:"multiplier"`
}

type actionDef struct {
	Code           string   `json:"code"`
	Description    string   `json:"description"`
	Stations       []string `json:"stations"`
	Handoff        bool     `json:"handoff"`
	SeverityWeight float64  `json:"severity_weight"`
}

// LoadPipeline reads and validates the JSON pipeline definition at path.
// Station codes are normalized, so the file and the history store may
// disagree on casing. The handoff_stations list ORs into the per-station
// flags; either form marks a station as an inter-agency handoff.
func LoadPipeline(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses a pipeline definition from raw JSON.
func ParsePipeline(data []byte) (Pipeline, error) {
	var f pipelineFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Pipeline{}, fmt.Errorf("config: parse pipeline: %w", err)
	}
	if len(f.Stations) == 0 {
		return Pipeline{}, fmt.Errorf("config: pipeline defines no stations")
	}
	if f.StartStation == "" {
		return Pipeline{}, fmt.Errorf("config: pipeline start_station is required")
	}

	handoff := make(map[model.StationID]bool, len(f.HandoffCodes))
	for _, code := range f.HandoffCodes {
		handoff[model.NormalizeStationID(code)] = true
	}

	p := Pipeline{
		Start: model.NormalizeStationID(f.StartStation),
		Costs: make(cost.Table, len(f.CostTable)),
	}
	for _, s := range f.Stations {
		id := model.NormalizeStationID(s.ID)
		p.Stations = append(p.Stations, model.Station{
			ID:                 id,
			DisplayName:        s.Name,
			Agency:             s.Agency,
			InteragencyHandoff: s.Handoff || handoff[id],
		})
	}
	for _, e := range f.Edges {
		p.Edges = append(p.Edges, graph.Edge{
			From: model.NormalizeStationID(e.From),
			To:   model.NormalizeStationID(e.To),
		})
	}
	for ptype, r := range f.CostTable {
		p.Costs[model.PermitType(ptype)] = cost.Rate{
			AccrualPerHour: r.AccrualPerHour,
			ReworkCost:     r.ReworkCost,
			Multiplier:     r.Multiplier,
		}
	}
	for _, a := range f.Actions {
		stations := make([]model.StationID, 0, len(a.Stations))
		for _, s := range a.Stations {
			stations = append(stations, model.NormalizeStationID(s))
		}
		p.Actions = append(p.Actions, diagnose.Action{
			Code:           a.Code,
			Description:    a.Description,
			Stations:       stations,
			Handoff:        a.Handoff,
			SeverityWeight: a.SeverityWeight,
		})
	}
	return p, nil
}
