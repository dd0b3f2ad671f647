package model

import "time"

// Timeline is a live reading of where a permit is right now: its current
// station, when it entered, and when the reading was taken. Diagnostics and
// cost estimates consume a fresh Timeline per call; the engine never caches
// one.
type Timeline struct {
	Station    StationID
	EnteredAt  time.Time
	ObservedAt time.Time
}

// Elapsed is the permit's current dwell at the station.
func (tl Timeline) Elapsed() time.Duration {
	return tl.ObservedAt.Sub(tl.EnteredAt)
}
