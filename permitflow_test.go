package permitflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/permitflow"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// memStore serves trajectories from memory; the engine only ever filters
// by permit ID and completion.
type memStore struct {
	mu           sync.Mutex
	trajectories []permitflow.Trajectory
}

func (s *memStore) FetchTrajectories(_ context.Context, f permitflow.TrajectoryFilter) ([]permitflow.Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []permitflow.Trajectory
	for _, t := range s.trajectories {
		if len(f.PermitIDs) > 0 && !containsID(f.PermitIDs, t.PermitID) {
			continue
		}
		if f.PermitType != "" && t.PermitType != f.PermitType {
			continue
		}
		if f.CompletedOnly {
			if n := len(t.Events); n == 0 || t.Events[n-1].ExitedAt == nil {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) add(ts ...permitflow.Trajectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectories = append(s.trajectories, ts...)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func testPipeline() permitflow.Pipeline {
	return permitflow.Pipeline{
		Start: "intake",
		Stations: []permitflow.Station{
			{ID: "intake", DisplayName: "Intake", Agency: "permits"},
			{ID: "zoning", DisplayName: "Zoning", Agency: "planning"},
			{ID: "fire", DisplayName: "Fire Review", Agency: "fire", InteragencyHandoff: true},
			{ID: "final", DisplayName: "Final Decision", Agency: "permits"},
			{ID: "issued", DisplayName: "Issued", Agency: "permits"},
		},
		Edges: []permitflow.Edge{
			{From: "intake", To: "zoning"},
			{From: "zoning", To: "fire"},
			{From: "fire", To: "final"},
			{From: "fire", To: "zoning"},
			{From: "final", To: "issued"},
		},
		Costs: map[string]permitflow.Rate{
			"renovation": {AccrualPerHour: 10, ReworkCost: 1000},
		},
		Actions: []permitflow.Action{
			{Code: "expedite", Description: "expedite review", SeverityWeight: 2},
			{Code: "escalate_handoff", Description: "escalate to partner agency", Handoff: true, SeverityWeight: 1},
		},
	}
}

// completedRun builds one finished permit history with the given zoning
// dwell. Every station dwell is closed; the permit ends issued.
func completedRun(ptype, hood string, zoningHours float64) permitflow.Trajectory {
	id := uuid.New()
	at := epoch
	var events []permitflow.PermitEvent
	visit := func(station permitflow.StationID, hours float64) {
		exit := at.Add(time.Duration(hours * float64(time.Hour)))
		events = append(events, permitflow.PermitEvent{
			PermitID: id, Station: station,
			EnteredAt: at, ExitedAt: &exit,
			PermitType: ptype, Neighborhood: hood,
		})
		at = exit
	}
	visit("intake", 1)
	visit("zoning", zoningHours)
	visit("fire", 4)
	visit("final", 1)
	visit("issued", 0)
	return permitflow.Trajectory{PermitID: id, PermitType: ptype, Neighborhood: hood, Events: events}
}

// stuckPermit builds a history whose last event is open at zoning, entered
// one hour after the epoch.
func stuckPermit(ptype, hood string) permitflow.Trajectory {
	id := uuid.New()
	exit := epoch.Add(time.Hour)
	return permitflow.Trajectory{
		PermitID: id, PermitType: ptype, Neighborhood: hood,
		Events: []permitflow.PermitEvent{
			{PermitID: id, Station: "intake", EnteredAt: epoch, ExitedAt: &exit, PermitType: ptype, Neighborhood: hood},
			{PermitID: id, Station: "zoning", EnteredAt: exit, PermitType: ptype, Neighborhood: hood},
		},
	}
}

// newTestEngine builds an engine over 25 completed fixture runs (zoning
// dwells 1..25h, so p50=13 p75=19 p90=22.6) plus one permit stuck at
// zoning, with "now" pinned 31 hours past the epoch (30h into the stuck
// dwell).
func newTestEngine(t *testing.T) (*permitflow.Engine, *memStore, permitflow.Trajectory) {
	t.Helper()

	store := &memStore{}
	for i := 0; i < 25; i++ {
		store.add(completedRun("renovation", "mission", float64(i+1)))
	}
	stuck := stuckPermit("renovation", "mission")
	store.add(stuck)

	eng, err := permitflow.New(
		permitflow.WithHistoryStore(store),
		permitflow.WithPipeline(testPipeline()),
		permitflow.WithClock(func() time.Time { return epoch.Add(31 * time.Hour) }),
		permitflow.WithMinNeighborhoodSamples(20),
	)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng, store, stuck
}

func TestQueriesBeforeRefit(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.PredictNext(ctx, stuck.PermitID, 1)
	assert.ErrorIs(t, err, permitflow.ErrNotFitted)
	_, err = eng.Diagnose(ctx, stuck.PermitID)
	assert.ErrorIs(t, err, permitflow.ErrNotFitted)
	_, err = eng.Estimate(ctx, stuck.PermitID)
	assert.ErrorIs(t, err, permitflow.ErrNotFitted)
	_, err = eng.Baseline("zoning", "renovation", "mission")
	assert.ErrorIs(t, err, permitflow.ErrNotFitted)
}

func TestOpenPermits(t *testing.T) {
	eng, store, stuck := newTestEngine(t)
	ctx := context.Background()

	ids, err := eng.OpenPermits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.PermitID}, ids)

	second := stuckPermit("renovation", "soma")
	store.add(second)
	ids, err = eng.OpenPermits(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{stuck.PermitID, second.PermitID}, ids)
}

func TestPredictNext(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	p, err := eng.PredictNext(ctx, stuck.PermitID, 1)
	require.NoError(t, err)
	assert.Equal(t, stuck.PermitID, p.PermitID)
	assert.Equal(t, permitflow.StationID("zoning"), p.CurrentStation)
	assert.Equal(t, "neighborhood", p.Confidence)
	require.Len(t, p.Stations, 1)
	assert.Equal(t, permitflow.StationID("fire"), p.Stations[0].Station)
	assert.InDelta(t, 1.0, p.Stations[0].Cumulative, 1e-9)
}

func TestPredictNextUnknownPermit(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	_, err := eng.PredictNext(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, permitflow.ErrInvalidPermitState)
}

func TestDiagnose(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	d, err := eng.Diagnose(ctx, stuck.PermitID)
	require.NoError(t, err)

	assert.Equal(t, permitflow.StationID("zoning"), d.Station)
	// Pinned clock: 30 hours into the zoning dwell, past the 22.6h p90.
	assert.InDelta(t, 30, d.ElapsedHours, 1e-9)
	assert.Equal(t, permitflow.Severity("critical"), d.Severity)
	assert.False(t, d.LowConfidence)
	assert.False(t, d.HandoffStation)

	// Zoning is not a handoff station, so only the general action applies.
	require.Len(t, d.Playbook, 1)
	assert.Equal(t, "expedite", d.Playbook[0].Code)
}

func TestEstimate(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	c, err := eng.Estimate(ctx, stuck.PermitID)
	require.NoError(t, err)
	assert.InDelta(t, 30, c.DelayHours, 1e-9)
	assert.InDelta(t, 300, c.CarryingCost, 1e-9) // 30h * $10
	assert.Equal(t, 1.0, c.Multiplier)
	assert.InDelta(t, 300, c.Total, 1e-9)
}

func TestEstimateUnknownPermitType(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	unpriced := stuckPermit("food_truck", "mission")
	store.add(unpriced)
	require.NoError(t, eng.Refit(ctx))

	_, err := eng.Estimate(ctx, unpriced.PermitID)
	assert.ErrorIs(t, err, permitflow.ErrUnknownPermitType)
}

func TestBaselineLookup(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Refit(context.Background()))

	b, err := eng.Baseline("zoning", "renovation", "mission")
	require.NoError(t, err)
	assert.Equal(t, "neighborhood", b.Scope)
	assert.Equal(t, 25, b.SampleCount)
	assert.False(t, b.LowConfidence)
	assert.InDelta(t, 13, b.P50Hours, 1e-9)
	assert.InDelta(t, 19, b.P75Hours, 1e-9)
	assert.InDelta(t, 22.6, b.P90Hours, 1e-9)

	// A neighborhood with no history falls back to the type level, flagged.
	b, err = eng.Baseline("zoning", "renovation", "tenderloin")
	require.NoError(t, err)
	assert.Equal(t, "type", b.Scope)
	assert.True(t, b.LowConfidence)
}

func TestSimulate(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	delta, err := eng.Simulate(ctx, stuck.PermitID, permitflow.Scenario{
		Name: "assume zoning clears",
		Overrides: []permitflow.Override{
			{Kind: permitflow.OverrideAdvanceStation, Station: "fire"},
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "assume zoning clears", delta.Name)
	assert.True(t, delta.Severity.Changed)
	assert.Equal(t, permitflow.Severity("critical"), delta.Severity.Before)
	assert.Equal(t, permitflow.Severity("low"), delta.Severity.After)
	assert.True(t, delta.TotalCost.Changed)
	assert.Equal(t, 300.0, delta.TotalCost.Before)
	assert.Equal(t, 0.0, delta.TotalCost.After)
	assert.Equal(t, stuck.PermitID, delta.Hypothetical.Diagnosis.PermitID)
}

func TestSimulateSubAnalysisIdentified(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	_, err := eng.Simulate(ctx, stuck.PermitID, permitflow.Scenario{
		Overrides: []permitflow.Override{
			{Kind: permitflow.OverrideReclassifyType, PermitType: "food_truck"},
		},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, permitflow.ErrUnknownPermitType)

	name, ok := permitflow.FailedSubAnalysis(err)
	require.True(t, ok)
	assert.Equal(t, "cost", name)
}

func TestSimulateReusesBaselineRun(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	base, err := eng.ScenarioBaseline(ctx, stuck.PermitID)
	require.NoError(t, err)

	delta, err := eng.Simulate(ctx, stuck.PermitID, permitflow.Scenario{
		Overrides: []permitflow.Override{{Kind: permitflow.OverrideResetClock}},
	}, base)
	require.NoError(t, err)
	assert.True(t, delta.TotalCost.Changed)

	// A baseline run computed for one permit cannot vouch for another.
	other := uuid.New()
	_, err = eng.Simulate(ctx, other, permitflow.Scenario{
		Overrides: []permitflow.Override{{Kind: permitflow.OverrideResetClock}},
	}, base)
	require.Error(t, err)
}

func TestConcurrentDiagnoseDeterministic(t *testing.T) {
	eng, _, stuck := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	want, err := eng.Diagnose(ctx, stuck.PermitID)
	require.NoError(t, err)

	const workers = 16
	results := make([]permitflow.Diagnosis, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Diagnose(ctx, stuck.PermitID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i])
	}
}

func TestRefitSwapsSnapshot(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.Refit(ctx))

	before, err := eng.Baseline("zoning", "renovation", "mission")
	require.NoError(t, err)
	assert.Equal(t, 25, before.SampleCount)

	// New history lands; nothing changes until the next refit.
	for i := 0; i < 5; i++ {
		store.add(completedRun("renovation", "mission", 30))
	}
	mid, err := eng.Baseline("zoning", "renovation", "mission")
	require.NoError(t, err)
	assert.Equal(t, 25, mid.SampleCount)

	require.NoError(t, eng.Refit(ctx))
	after, err := eng.Baseline("zoning", "renovation", "mission")
	require.NoError(t, err)
	assert.Equal(t, 30, after.SampleCount)
	assert.Greater(t, after.P90Hours, before.P90Hours)
}

func TestNewWithoutStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PERMITFLOW_SQLITE_PATH", "")

	_, err := permitflow.New(permitflow.WithPipeline(testPipeline()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history store")
}

func TestNewRejectsBadPipeline(t *testing.T) {
	p := testPipeline()
	p.Edges = append(p.Edges, permitflow.Edge{From: "final", To: "archive"})

	_, err := permitflow.New(
		permitflow.WithHistoryStore(&memStore{}),
		permitflow.WithPipeline(p),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown station")
}
