// Package cost converts permit delay into monetary terms: ongoing carrying
// cost plus probability-weighted revision risk, per configured permit type.
//
// Estimates are derived values, recomputed on demand and never persisted as
// authoritative.
package cost

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/model"
)

// Rate is the configured financial profile for one permit type.
type Rate struct {
	// AccrualPerHour is the carrying cost rate in dollars per hour of dwell.
	AccrualPerHour float64
	// ReworkCost is the average cost of one revision cycle.
	ReworkCost float64
	// Multiplier scales the total for the permit type. Zero means 1.0.
	Multiplier float64
}

// Table maps each recognized permit type to its rates. The table is
// configuration, not hardwired logic; a permit type missing from it is an
// error, never a zero-cost default.
type Table map[model.PermitType]Rate

// ReworkSource supplies the historical probability of a permit looping back
// from a station. Satisfied by *markov.Model.
type ReworkSource interface {
	ReworkProbability(station model.StationID, permitType model.PermitType) float64
}

// Estimate is the monetary reading of a permit's delay.
type Estimate struct {
	PermitID   uuid.UUID
	PermitType model.PermitType

	DelayHours     float64
	AccrualPerHour float64
	CarryingCost   float64

	ReworkProbability float64
	RevisionRisk      float64

	Multiplier float64
	Total      float64
}

// Estimator prices delay against a rate table and historical rework odds.
type Estimator struct {
	table  Table
	rework ReworkSource
}

// New builds an Estimator. The table must cover every permit type the
// caller expects to price.
func New(table Table, rework ReworkSource) *Estimator {
	return &Estimator{table: table, rework: rework}
}

// Estimate prices the diagnosed delay using the live timeline reading.
// Carrying cost accrues over the elapsed dwell, floored at zero; revision
// risk is the loop-back probability at the station times the type's average
// rework cost.
func (e *Estimator) Estimate(d diagnose.Diagnosis, tl model.Timeline) (Estimate, error) {
	rate, ok := e.table[d.PermitType]
	if !ok {
		return Estimate{}, fmt.Errorf("%w: %q not in cost table", model.ErrUnknownPermitType, d.PermitType)
	}

	hours := tl.Elapsed().Hours()
	if hours < 0 {
		hours = 0
	}
	multiplier := rate.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	est := Estimate{
		PermitID:          d.PermitID,
		PermitType:        d.PermitType,
		DelayHours:        hours,
		AccrualPerHour:    rate.AccrualPerHour,
		CarryingCost:      rate.AccrualPerHour * hours,
		ReworkProbability: e.rework.ReworkProbability(d.Station, d.PermitType),
		Multiplier:        multiplier,
	}
	est.RevisionRisk = est.ReworkProbability * rate.ReworkCost
	est.Total = (est.CarryingCost + est.RevisionRisk) * multiplier
	return est, nil
}
