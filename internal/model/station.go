// Package model defines the domain value types shared by the engine's
// internal packages: stations, permit events, trajectories, severity tiers,
// and the error kinds surfaced to the embedding application.
//
// Everything here is a plain value. The engine owns no durable state;
// persistence belongs to the history store behind internal/storage.
package model

import "strings"

// StationID identifies one review station in the pipeline.
type StationID string

// Station is one discrete stage of the permit review pipeline.
// Stations are immutable configuration; the set of stations plus legal
// edges forms the station graph.
type Station struct {
	ID          StationID
	DisplayName string
	Agency      string
	// InteragencyHandoff marks stations whose exit requires coordination
	// across two or more agencies. Handoff stalls have a distinct root
	// cause from in-agency review delay and get their own playbook entries.
	InteragencyHandoff bool
}

// NormalizeStationID trims and lowercases a raw station code so config
// files and historical rows that disagree on casing resolve to one key.
func NormalizeStationID(raw string) StationID {
	return StationID(strings.ToLower(strings.TrimSpace(raw)))
}
