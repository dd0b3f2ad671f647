// Package baseline computes dwell-time order statistics over historical
// permit trajectories and answers lookups with an explicit fallback chain.
//
// A Snapshot is fit once from a batch of history and is immutable; the
// engine swaps whole snapshots on refresh so concurrent readers never see a
// half-updated baseline set.
package baseline

import (
	"math"
	"sort"

	"github.com/permitops/permitflow/internal/model"
)

// Scope annotates which fallback level produced a Baseline.
type Scope string

const (
	// ScopeNeighborhood is the most specific level: (station, type, neighborhood).
	ScopeNeighborhood Scope = "neighborhood"
	// ScopeType is the type-global level: (station, type).
	ScopeType Scope = "type"
	// ScopeStation is the last level: all permits at the station.
	ScopeStation Scope = "station"
)

// Baseline holds the dwell percentiles for one lookup key.
// Invariant: P50Hours <= P75Hours <= P90Hours.
type Baseline struct {
	Station      model.StationID
	PermitType   model.PermitType
	Neighborhood model.Neighborhood // empty at ScopeType and below
	Scope        Scope

	P50Hours float64
	P75Hours float64
	P90Hours float64

	SampleCount int
	// LowConfidence is set when the requested, most specific group had fewer
	// than the configured minimum samples and the lookup had to fall back.
	// Diagnostics surface this flag rather than hide it; sparse data is an
	// expected condition, not a failure.
	LowConfidence bool
}

type key struct {
	station model.StationID
	ptype   model.PermitType
	hood    model.Neighborhood
}

// Snapshot is an immutable set of fitted baselines.
type Snapshot struct {
	minSamples int
	groups     map[key]stats

	// resolution is the share of historical over-p75 dwells at a station
	// that eventually exited. Feeds playbook ranking.
	resolution map[model.StationID]float64
}

type stats struct {
	p50, p75, p90 float64
	n             int
}

// Fit computes per-group percentiles from completed dwell intervals.
// Open events (no exit timestamp) are excluded from the percentiles; they
// only count as unresolved delays for the resolution-rate pass. Fit never
// fails on sparse data; lookups degrade and flag confidence instead.
func Fit(trajectories []model.Trajectory, minSamples int) *Snapshot {
	if minSamples <= 0 {
		minSamples = 20
	}
	dwells := make(map[key][]float64)
	for _, t := range trajectories {
		for _, e := range t.Events {
			d, ok := e.Dwell()
			if !ok {
				continue
			}
			h := d.Hours()
			dwells[key{e.Station, e.PermitType, e.Neighborhood}] = append(dwells[key{e.Station, e.PermitType, e.Neighborhood}], h)
			dwells[key{station: e.Station, ptype: e.PermitType}] = append(dwells[key{station: e.Station, ptype: e.PermitType}], h)
			dwells[key{station: e.Station}] = append(dwells[key{station: e.Station}], h)
		}
	}

	s := &Snapshot{
		minSamples: minSamples,
		groups:     make(map[key]stats, len(dwells)),
	}
	for k, vals := range dwells {
		sort.Float64s(vals)
		s.groups[k] = stats{
			p50: percentile(vals, 50),
			p75: percentile(vals, 75),
			p90: percentile(vals, 90),
			n:   len(vals),
		}
	}
	s.resolution = fitResolution(trajectories, s)
	return s
}

// Lookup returns the baseline for (station, permitType, neighborhood),
// walking the fallback chain neighborhood -> type-global -> station-only.
// The first level at or above the minimum sample count wins; LowConfidence
// is set whenever the requested most specific level was too sparse. Lookup
// never returns "no baseline"; worst case is a zero-valued, low-confidence
// station-level result.
func (s *Snapshot) Lookup(station model.StationID, permitType model.PermitType, hood model.Neighborhood) Baseline {
	chain := []struct {
		k     key
		scope Scope
	}{
		{key{station, permitType, hood}, ScopeNeighborhood},
		{key{station: station, ptype: permitType}, ScopeType},
		{key{station: station}, ScopeStation},
	}
	if hood == "" {
		chain = chain[1:]
	}

	lowConfidence := false
	var fallbackBest *Baseline
	for i, level := range chain {
		st, ok := s.groups[level.k]
		b := Baseline{
			Station:       station,
			PermitType:    permitType,
			Neighborhood:  level.k.hood,
			Scope:         level.scope,
			P50Hours:      st.p50,
			P75Hours:      st.p75,
			P90Hours:      st.p90,
			SampleCount:   st.n,
			LowConfidence: lowConfidence,
		}
		if ok && st.n >= s.minSamples {
			return b
		}
		if i == 0 {
			lowConfidence = true
			b.LowConfidence = true
		}
		if ok && fallbackBest == nil {
			b.LowConfidence = true
			fallbackBest = &b
		}
	}
	if fallbackBest != nil {
		// No level reached the sample minimum; return the most specific
		// non-empty one, flagged.
		return *fallbackBest
	}
	return Baseline{
		Station:       station,
		PermitType:    permitType,
		Scope:         ScopeStation,
		LowConfidence: true,
	}
}

// ResolutionRate returns the share of historical over-p75 delays at the
// station that eventually moved on, or 0 when the station has no delay
// history.
func (s *Snapshot) ResolutionRate(station model.StationID) float64 {
	return s.resolution[station]
}

// MinSamples returns the configured confidence floor.
func (s *Snapshot) MinSamples() int { return s.minSamples }

func fitResolution(trajectories []model.Trajectory, s *Snapshot) map[model.StationID]float64 {
	resolved := make(map[model.StationID]int)
	open := make(map[model.StationID]int)
	for _, t := range trajectories {
		for _, e := range t.Events {
			st, ok := s.groups[key{station: e.Station}]
			if !ok || st.p75 <= 0 {
				continue
			}
			d, closed := e.Dwell()
			if closed {
				if d.Hours() > st.p75 {
					resolved[e.Station]++
				}
				continue
			}
			open[e.Station]++
		}
	}
	rates := make(map[model.StationID]float64, len(resolved))
	for station, n := range resolved {
		rates[station] = float64(n) / float64(n+open[station])
	}
	return rates
}

// percentile computes the p-th percentile of sorted values via linear
// interpolation between order statistics, so recomputation over the same
// history is reproducible bit for bit.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
