// Package graph holds the static topology of the permit review pipeline:
// stations, legal transitions, and which stations are inter-agency handoffs.
//
// A Graph is validated at construction and immutable afterwards, so it is
// safe for unbounded concurrent reads by the model, diagnostics, and
// scenario layers.
package graph

import (
	"fmt"
	"math"
	"sort"

	"github.com/permitops/permitflow/internal/model"
)

// Edge is one legal transition between stations.
type Edge struct {
	From model.StationID
	To   model.StationID
}

// Graph is the validated station topology.
type Graph struct {
	stations map[model.StationID]model.Station
	succ     map[model.StationID][]model.StationID
	start    model.StationID

	// distance in hops from each station to the nearest terminal,
	// precomputed by reverse BFS. Used as the playbook ranking tie-break.
	toTerminal map[model.StationID]int
}

// New builds and validates a Graph. It fails fast on config problems:
// an edge naming an unknown station, a start station missing from the set,
// or a station unreachable from the start.
func New(stations []model.Station, edges []Edge, start model.StationID) (*Graph, error) {
	g := &Graph{
		stations: make(map[model.StationID]model.Station, len(stations)),
		succ:     make(map[model.StationID][]model.StationID),
		start:    start,
	}
	for _, s := range stations {
		if _, dup := g.stations[s.ID]; dup {
			return nil, fmt.Errorf("graph: duplicate station %q", s.ID)
		}
		g.stations[s.ID] = s
	}
	if _, ok := g.stations[start]; !ok {
		return nil, fmt.Errorf("graph: start station %q not defined", start)
	}
	for _, e := range edges {
		if _, ok := g.stations[e.From]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown station %q", e.From)
		}
		if _, ok := g.stations[e.To]; !ok {
			return nil, fmt.Errorf("graph: edge to unknown station %q", e.To)
		}
		g.succ[e.From] = append(g.succ[e.From], e.To)
	}
	for from := range g.succ {
		sort.Slice(g.succ[from], func(i, j int) bool { return g.succ[from][i] < g.succ[from][j] })
	}

	reach := g.reachableSet(start)
	for id := range g.stations {
		if !reach[id] {
			return nil, fmt.Errorf("graph: station %q unreachable from start %q", id, start)
		}
	}

	g.toTerminal = g.terminalDistances()
	return g, nil
}

// Station returns the station definition for id.
func (g *Graph) Station(id model.StationID) (model.Station, bool) {
	s, ok := g.stations[id]
	return s, ok
}

// Stations returns all station IDs in sorted order.
func (g *Graph) Stations() []model.StationID {
	ids := make([]model.StationID, 0, len(g.stations))
	for id := range g.stations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Start returns the pipeline's designated start station.
func (g *Graph) Start() model.StationID { return g.start }

// Successors returns the legal next stations from id.
func (g *Graph) Successors(id model.StationID) []model.StationID {
	return g.succ[id]
}

// Terminal reports whether id has no outgoing edges.
func (g *Graph) Terminal(id model.StationID) bool {
	_, known := g.stations[id]
	return known && len(g.succ[id]) == 0
}

// IsHandoff reports whether id is an inter-agency handoff station.
func (g *Graph) IsHandoff(id model.StationID) bool {
	return g.stations[id].InteragencyHandoff
}

// Reachable reports whether to can be reached from from by legal edges.
func (g *Graph) Reachable(from, to model.StationID) bool {
	return g.reachableSet(from)[to]
}

// UniformNext is the last-resort prediction fallback: a uniform distribution
// over the out-edges of id. Empty for terminal or unknown stations.
func (g *Graph) UniformNext(id model.StationID) map[model.StationID]float64 {
	next := g.succ[id]
	if len(next) == 0 {
		return nil
	}
	dist := make(map[model.StationID]float64, len(next))
	p := 1.0 / float64(len(next))
	for _, to := range next {
		dist[to] = p
	}
	return dist
}

// DistanceToTerminal returns the hop count from id to the nearest terminal
// station, or a large value when no terminal is reachable.
func (g *Graph) DistanceToTerminal(id model.StationID) int {
	if d, ok := g.toTerminal[id]; ok {
		return d
	}
	return math.MaxInt32
}

func (g *Graph) reachableSet(from model.StationID) map[model.StationID]bool {
	seen := map[model.StationID]bool{}
	queue := []model.StationID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		queue = append(queue, g.succ[cur]...)
	}
	return seen
}

// terminalDistances runs a reverse BFS from every terminal station at once.
func (g *Graph) terminalDistances() map[model.StationID]int {
	pred := make(map[model.StationID][]model.StationID)
	for from, tos := range g.succ {
		for _, to := range tos {
			pred[to] = append(pred[to], from)
		}
	}
	dist := make(map[model.StationID]int)
	var queue []model.StationID
	for id := range g.stations {
		if g.Terminal(id) {
			dist[id] = 0
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range pred[cur] {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[cur] + 1
			queue = append(queue, p)
		}
	}
	return dist
}
