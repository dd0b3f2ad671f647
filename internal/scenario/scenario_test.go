package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/permitflow/internal/baseline"
	"github.com/permitops/permitflow/internal/cost"
	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/markov"
	"github.com/permitops/permitflow/internal/model"
	"github.com/permitops/permitflow/internal/testutil"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New(
		[]model.Station{
			{ID: "intake"},
			{ID: "zoning"},
			{ID: "fire", InteragencyHandoff: true},
			{ID: "final"},
			{ID: "issued"},
		},
		[]graph.Edge{
			{From: "intake", To: "zoning"},
			{From: "zoning", To: "fire"},
			{From: "fire", To: "final"},
			{From: "fire", To: "zoning"},
			{From: "final", To: "issued"},
		},
		"intake",
	)
	require.NoError(t, err)
	return g
}

// testOrchestrator fits the full snapshot set from 25 completed runs with
// zoning dwells of 1..25 hours and returns an orchestrator over it. The
// renovation type is priced; new_construction deliberately is not.
func testOrchestrator(t *testing.T, timeout time.Duration) *Orchestrator {
	t.Helper()
	g := testGraph(t)

	var hist []model.Trajectory
	for i := 0; i < 25; i++ {
		hist = append(hist, testutil.NewTrajectory("renovation", "mission").
			Visit("intake", 1).
			Visit("zoning", float64(i+1)).
			Visit("fire", 4).
			Visit("final", 1).
			Visit("issued", 0).
			Build())
	}

	m := markov.Fit(hist, g, markov.Config{}, testutil.TestLogger())
	b := baseline.Fit(hist, 20)
	d := diagnose.New(g, m, b, []diagnose.Action{
		{Code: "expedite", SeverityWeight: 1},
	})
	est := cost.New(cost.Table{
		"renovation": {AccrualPerHour: 10, ReworkCost: 1000},
	}, m)
	return New(m, b, d, est, 2, timeout)
}

// stuckAtZoning is a renovation permit 30 hours into its zoning dwell,
// past the 22.6h fixture p90.
func stuckAtZoning() (*testutil.TrajectoryBuilder, model.Timeline) {
	b := testutil.NewTrajectory("renovation", "mission").
		Visit("intake", 1).Arrive("zoning")
	return b, b.Timeline(30)
}

func TestSimulateAdvanceStation(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	delta, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Name:      "assume zoning clears",
		Overrides: []Override{{Kind: OverrideAdvanceStation, Station: "fire"}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "assume zoning clears", delta.Name)

	// Real branch: permit is 30h into zoning, past p90.
	assert.Equal(t, model.SeverityCritical, delta.Real.Diagnosis.Severity)
	// Hypothetical branch: just arrived at fire, elapsed resets.
	assert.Equal(t, model.SeverityLow, delta.Hypothetical.Diagnosis.Severity)
	assert.True(t, delta.Severity.Changed)

	assert.True(t, delta.TotalCost.Changed)
	assert.Equal(t, 300.0, delta.TotalCost.Before) // 30h * $10
	assert.Equal(t, 0.0, delta.TotalCost.After)

	assert.True(t, delta.PredictedStations.Changed)
	assert.Equal(t, model.StationID("fire"), delta.Hypothetical.Diagnosis.Station)
}

func TestSimulateIllegalAdvance(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	_, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: OverrideAdvanceStation, Station: "issued"}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a legal transition")
}

func TestSimulateUnknownOverrideKind(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	_, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: "time_travel"}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown override kind")
}

func TestSimulateResetClock(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	delta, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: OverrideResetClock}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.SeverityCritical, delta.Real.Diagnosis.Severity)
	assert.InDelta(t, 0, delta.Hypothetical.Diagnosis.ElapsedHours, 1e-9)
	assert.True(t, delta.TotalCost.Changed)
	// Same station before and after, so the forward distribution holds.
	assert.False(t, delta.PredictedStations.Changed)
}

func TestSimulateSubAnalysisFailure(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	// Reclassifying to an unpriced type makes the cost sub-analysis fail;
	// the whole scenario fails with the origin identified, no partial delta.
	delta, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: OverrideReclassifyType, PermitType: "new_construction"}},
	}, nil)
	require.Error(t, err)
	assert.Zero(t, delta)

	var saErr *model.SubAnalysisError
	require.ErrorAs(t, err, &saErr)
	assert.Equal(t, model.SubAnalysisCost, saErr.Analysis)
	assert.ErrorIs(t, err, model.ErrUnknownPermitType)
}

func TestSimulateDeadline(t *testing.T) {
	o := testOrchestrator(t, time.Nanosecond)
	traj, tl := stuckAtZoning()

	_, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: OverrideResetClock}},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDeadlineExceeded)
}

func TestSimulateReusesRealRun(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()

	real, err := o.Baseline(context.Background(), traj.Build(), tl)
	require.NoError(t, err)

	delta, err := o.Simulate(context.Background(), traj.Build(), tl, Scenario{
		Overrides: []Override{{Kind: OverrideResetClock}},
	}, &real)
	require.NoError(t, err)
	assert.Equal(t, real, delta.Real)
}

func TestSimulateDeterministic(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()
	sc := Scenario{
		Name:      "clears",
		Overrides: []Override{{Kind: OverrideAdvanceStation, Station: "fire"}},
	}

	first, err := o.Simulate(context.Background(), traj.Build(), tl, sc, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := o.Simulate(context.Background(), traj.Build(), tl, sc, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSimulateDoesNotMutateInputs(t *testing.T) {
	o := testOrchestrator(t, 0)
	traj, tl := stuckAtZoning()
	real := traj.Build()

	_, err := o.Simulate(context.Background(), real, tl, Scenario{
		Overrides: []Override{
			{Kind: OverrideAdvanceStation, Station: "fire"},
			{Kind: OverrideReclassifyType, PermitType: "renovation"},
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, traj.Build(), real, "the real trajectory must stay untouched")
	require.Len(t, real.Events, 2)
	assert.Nil(t, real.Events[1].ExitedAt)
}

func TestOverrideFold(t *testing.T) {
	g := testGraph(t)
	b := testutil.NewTrajectory("renovation", "mission").
		Visit("intake", 1).Arrive("zoning")
	v := view{trajectory: b.Build(), timeline: b.Timeline(30)}

	out, err := applyOverrides(g, v, []Override{
		{Kind: OverrideAdvanceStation, Station: "fire"},
		{Kind: OverrideRebucketNeighborhood, Neighborhood: "soma"},
		{Kind: OverrideReclassifyType, PermitType: "new_construction"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.StationID("fire"), out.timeline.Station)
	assert.Equal(t, model.Neighborhood("soma"), out.trajectory.Neighborhood)
	assert.Equal(t, model.PermitType("new_construction"), out.trajectory.PermitType)
	require.Len(t, out.trajectory.Events, 3)
	// The zoning event closed at the observation instant.
	require.NotNil(t, out.trajectory.Events[1].ExitedAt)
	assert.Equal(t, v.timeline.ObservedAt, *out.trajectory.Events[1].ExitedAt)
	for _, e := range out.trajectory.Events {
		assert.Equal(t, model.Neighborhood("soma"), e.Neighborhood)
		assert.Equal(t, model.PermitType("new_construction"), e.PermitType)
	}
}

func TestReclassifyRequiresType(t *testing.T) {
	g := testGraph(t)
	b := testutil.NewTrajectory("renovation", "mission").Arrive("intake")
	v := view{trajectory: b.Build(), timeline: b.Timeline(1)}

	_, err := applyOverrides(g, v, []Override{{Kind: OverrideReclassifyType}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a permit type")
}
