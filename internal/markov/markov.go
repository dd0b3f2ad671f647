// Package markov fits and serves the permit transition model: a
// discrete-time Markov process over pipeline stations, fit per
// (station, permit type) from historical trajectories and refined by
// neighborhood where enough samples exist.
//
// A Model is an immutable snapshot. Fitting is a batch operation over the
// full history; refresh swaps whole models, never mutates one in place.
package markov

import (
	"log/slog"

	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/model"
)

// RowConfidence annotates which fallback level produced a distribution row.
// The chain is tried in order: neighborhood, type, station, uniform. The
// model never answers "no prediction" for a reachable station; the last
// level is the raw graph out-degree.
type RowConfidence string

const (
	ConfidenceNeighborhood RowConfidence = "neighborhood"
	ConfidenceType         RowConfidence = "type"
	ConfidenceStation      RowConfidence = "station"
	ConfidenceUniform      RowConfidence = "uniform"
)

// Config tunes fitting and prediction.
type Config struct {
	// MinNeighborhoodSamples is the transition count below which a
	// neighborhood-filtered row is discarded in favor of the type-level row.
	MinNeighborhoodSamples int
	// StallThreshold is the self-transition probability above which a
	// prediction is annotated StallRisk instead of naively projecting
	// forward motion.
	StallThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MinNeighborhoodSamples <= 0 {
		c.MinNeighborhoodSamples = 30
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 0.5
	}
	return c
}

type rowKey struct {
	station model.StationID
	ptype   model.PermitType
	hood    model.Neighborhood
}

type row struct {
	probs map[model.StationID]float64
	n     int
}

// Model is a fitted, immutable transition model.
type Model struct {
	cfg    Config
	graph  *graph.Graph
	logger *slog.Logger

	rows map[rowKey]row

	// rework holds the loop-back share per (station, type): the fraction of
	// observed transitions out of the key whose destination had already
	// appeared earlier in the same trajectory. Consumed by the cost model
	// as the probability of rework.
	rework map[rowKey]float64
}

// Fit builds a Model from completed historical trajectories. Sparse data is
// not an error: missing rows degrade through the fallback chain at predict
// time. Transitions that are not legal graph edges are kept out of the rows
// and logged once per fit: a learned edge outside the graph is an anomaly
// in the history, not a prediction candidate.
func Fit(trajectories []model.Trajectory, g *graph.Graph, cfg Config, logger *slog.Logger) *Model {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	counts := make(map[rowKey]map[model.StationID]int)
	loopback := make(map[rowKey][2]int) // [loopbacks, total]
	invalid := 0

	add := func(k rowKey, to model.StationID) {
		m, ok := counts[k]
		if !ok {
			m = make(map[model.StationID]int)
			counts[k] = m
		}
		m[to]++
	}

	for _, t := range trajectories {
		if !t.Completed() {
			continue
		}
		seen := make(map[model.StationID]bool, len(t.Events))
		for i := 0; i+1 < len(t.Events); i++ {
			from := t.Events[i].Station
			to := t.Events[i+1].Station
			seen[from] = true

			if from != to && !edge(g, from, to) {
				invalid++
				logger.Warn("markov: history transition outside station graph",
					"permit_id", t.PermitID, "from", from, "to", to)
				continue
			}

			add(rowKey{from, t.PermitType, t.Neighborhood}, to)
			add(rowKey{station: from, ptype: t.PermitType}, to)
			add(rowKey{station: from}, to)

			lk := rowKey{station: from, ptype: t.PermitType}
			lb := loopback[lk]
			lb[1]++
			if seen[to] {
				lb[0]++
			}
			loopback[lk] = lb

			sk := rowKey{station: from}
			sb := loopback[sk]
			sb[1]++
			if seen[to] {
				sb[0]++
			}
			loopback[sk] = sb
		}
	}

	m := &Model{
		cfg:    cfg,
		graph:  g,
		logger: logger,
		rows:   make(map[rowKey]row, len(counts)),
		rework: make(map[rowKey]float64, len(loopback)),
	}
	for k, dest := range counts {
		total := 0
		for _, n := range dest {
			total += n
		}
		probs := make(map[model.StationID]float64, len(dest))
		for to, n := range dest {
			probs[to] = float64(n) / float64(total)
		}
		m.rows[k] = row{probs: probs, n: total}
	}
	for k, lb := range loopback {
		if lb[1] > 0 {
			m.rework[k] = float64(lb[0]) / float64(lb[1])
		}
	}
	if invalid > 0 {
		logger.Warn("markov: excluded invalid transitions during fit", "count", invalid)
	}
	return m
}

// ReworkProbability returns the historical loop-back share for
// (station, permitType), falling back to the station-level share when the
// type was never observed there.
func (m *Model) ReworkProbability(station model.StationID, permitType model.PermitType) float64 {
	if p, ok := m.rework[rowKey{station: station, ptype: permitType}]; ok {
		return p
	}
	return m.rework[rowKey{station: station}]
}

// Graph returns the station graph the model was fit against.
func (m *Model) Graph() *graph.Graph { return m.graph }

func edge(g *graph.Graph, from, to model.StationID) bool {
	for _, s := range g.Successors(from) {
		if s == to {
			return true
		}
	}
	return false
}
