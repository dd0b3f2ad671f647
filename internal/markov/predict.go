package markov

import (
	"sort"

	"github.com/permitops/permitflow/internal/model"
)

// PredictedStation is one entry of a prediction, ordered by probability.
type PredictedStation struct {
	Station     model.StationID
	Probability float64
	// Cumulative is the running sum over the ordered sequence.
	Cumulative float64
}

// Prediction is the distribution over stations after Horizon steps from the
// permit's current station.
type Prediction struct {
	CurrentStation model.StationID
	Horizon        int
	// Confidence names the fallback level that produced the first-step row.
	Confidence RowConfidence
	// StallRisk is set when the self-transition probability at the current
	// station exceeds the configured threshold; the caller should read the
	// forward distribution with that caveat.
	StallRisk bool
	// SelfTransition is the observed probability of the permit re-entering
	// its current station.
	SelfTransition float64
	Stations       []PredictedStation
}

// PredictNext returns the ordered (station, cumulative probability) sequence
// after horizon steps. A permit at a terminal station gets an empty
// prediction, not an error. Every predicted station is reachable per the
// station graph; learned transitions outside the graph are excluded with the
// anomaly logged, then the row is renormalized.
func (m *Model) PredictNext(t model.Trajectory, horizon int) (Prediction, error) {
	if err := t.Validate(); err != nil {
		return Prediction{}, err
	}
	if horizon <= 0 {
		horizon = 1
	}
	current := t.Current().Station

	p := Prediction{CurrentStation: current, Horizon: horizon}
	if m.graph.Terminal(current) {
		p.Confidence = ConfidenceUniform
		return p, nil
	}

	firstRow, selfP, confidence := m.stepRow(current, t.PermitType, t.Neighborhood)
	p.Confidence = confidence
	p.SelfTransition = selfP
	p.StallRisk = selfP > m.cfg.StallThreshold

	// Matrix-style chaining: push the probability vector through the
	// one-step rows horizon times. Terminal stations absorb their mass.
	vec := map[model.StationID]float64{}
	for to, prob := range firstRow {
		vec[to] = prob
	}
	for step := 1; step < horizon; step++ {
		next := make(map[model.StationID]float64, len(vec))
		for from, mass := range vec {
			if m.graph.Terminal(from) {
				next[from] += mass
				continue
			}
			row, _, _ := m.stepRow(from, t.PermitType, t.Neighborhood)
			if len(row) == 0 {
				next[from] += mass
				continue
			}
			for to, prob := range row {
				next[to] += mass * prob
			}
		}
		vec = next
	}

	p.Stations = orderCumulative(vec)
	return p, nil
}

// StallRisk reports the self-transition probability for a permit sitting at
// station and whether it crosses the configured stall threshold.
func (m *Model) StallRisk(station model.StationID, ptype model.PermitType, hood model.Neighborhood) (float64, bool) {
	_, selfP, _ := m.stepRow(station, ptype, hood)
	return selfP, selfP > m.cfg.StallThreshold
}

// stepRow resolves the one-step distribution for a station through the
// fallback chain, cleaned of self-transitions and graph-invalid
// destinations and renormalized. Returns the cleaned row, the raw
// self-transition probability, and the confidence level used.
func (m *Model) stepRow(station model.StationID, ptype model.PermitType, hood model.Neighborhood) (map[model.StationID]float64, float64, RowConfidence) {
	chain := []struct {
		k          rowKey
		confidence RowConfidence
		min        int
	}{
		{rowKey{station, ptype, hood}, ConfidenceNeighborhood, m.cfg.MinNeighborhoodSamples},
		{rowKey{station: station, ptype: ptype}, ConfidenceType, 1},
		{rowKey{station: station}, ConfidenceStation, 1},
	}
	if hood == "" {
		chain = chain[1:]
	}
	for _, level := range chain {
		r, ok := m.rows[level.k]
		if !ok || r.n < level.min {
			continue
		}
		cleaned, selfP := m.cleanRow(station, r)
		if len(cleaned) == 0 {
			continue
		}
		return cleaned, selfP, level.confidence
	}
	// Unseen (station, type) with no station-level data either: the raw
	// graph out-degree, uniform.
	return m.graph.UniformNext(station), 0, ConfidenceUniform
}

// cleanRow drops self-transitions and destinations that are not legal graph
// edges, renormalizing the remainder. Invalid destinations are logged; they
// must be excluded, not silently renormalized away.
func (m *Model) cleanRow(from model.StationID, r row) (map[model.StationID]float64, float64) {
	cleaned := make(map[model.StationID]float64, len(r.probs))
	selfP := r.probs[from]
	total := 0.0
	for to, p := range r.probs {
		if to == from {
			continue
		}
		if !edge(m.graph, from, to) {
			m.logger.Warn("markov: dropped graph-invalid prediction", "from", from, "to", to, "probability", p)
			continue
		}
		cleaned[to] = p
		total += p
	}
	if total <= 0 {
		return nil, selfP
	}
	for to := range cleaned {
		cleaned[to] /= total
	}
	return cleaned, selfP
}

func orderCumulative(vec map[model.StationID]float64) []PredictedStation {
	out := make([]PredictedStation, 0, len(vec))
	for station, prob := range vec {
		out = append(out, PredictedStation{Station: station, Probability: prob})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Station < out[j].Station
	})
	cum := 0.0
	for i := range out {
		cum += out[i].Probability
		out[i].Cumulative = cum
	}
	return out
}
