package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitops/permitflow/internal/model"
	"github.com/permitops/permitflow/internal/storage"
	"github.com/permitops/permitflow/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func insertEvents(t *testing.T, events []model.PermitEvent) {
	t.Helper()
	ctx := context.Background()
	for _, e := range events {
		_, err := testDB.Pool().Exec(ctx,
			`INSERT INTO permit_events (permit_id, station, entered_at, exited_at, permit_type, neighborhood)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.PermitID, string(e.Station), e.EnteredAt, e.ExitedAt,
			string(e.PermitType), string(e.Neighborhood))
		require.NoError(t, err)
	}
}

func TestPing(t *testing.T) {
	require.NoError(t, testDB.Ping(context.Background()))
}

func TestFetchTrajectories(t *testing.T) {
	complete := testutil.NewTrajectory("renovation", "mission").
		Visit("intake", 1).
		Visit("zoning", 12).
		Visit("issued", 0).
		Build()
	open := testutil.NewTrajectory("new_construction", "soma").
		Visit("intake", 2).
		Arrive("zoning").
		Build()
	insertEvents(t, complete.Events)
	insertEvents(t, open.Events)

	got, err := testDB.FetchTrajectories(context.Background(), model.TrajectoryFilter{
		PermitIDs: []uuid.UUID{complete.PermitID, open.PermitID},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := make(map[uuid.UUID]model.Trajectory, len(got))
	for _, tr := range got {
		byID[tr.PermitID] = tr
	}

	gotComplete := byID[complete.PermitID]
	require.Len(t, gotComplete.Events, 3)
	assert.Equal(t, model.PermitType("renovation"), gotComplete.PermitType)
	assert.Equal(t, model.Neighborhood("mission"), gotComplete.Neighborhood)
	assert.True(t, gotComplete.Completed())
	d, ok := gotComplete.Events[1].Dwell()
	require.True(t, ok)
	assert.Equal(t, 12*time.Hour, d)

	gotOpen := byID[open.PermitID]
	require.Len(t, gotOpen.Events, 2)
	assert.False(t, gotOpen.Completed())
}

func TestFetchTrajectoriesFilters(t *testing.T) {
	ctx := context.Background()
	ptype := model.PermitType("filter_type")
	hood := model.Neighborhood("filter_hood")

	matching := testutil.NewTrajectory(ptype, hood).
		Visit("intake", 1).Visit("issued", 0).Build()
	other := testutil.NewTrajectory(ptype, "elsewhere").
		Visit("intake", 1).Arrive("zoning").Build()
	insertEvents(t, matching.Events)
	insertEvents(t, other.Events)

	t.Run("by type and neighborhood", func(t *testing.T) {
		got, err := testDB.FetchTrajectories(ctx, model.TrajectoryFilter{
			PermitType:   &ptype,
			Neighborhood: &hood,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, matching.PermitID, got[0].PermitID)
	})

	t.Run("completed only", func(t *testing.T) {
		got, err := testDB.FetchTrajectories(ctx, model.TrajectoryFilter{
			PermitIDs:     []uuid.UUID{matching.PermitID, other.PermitID},
			CompletedOnly: true,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, matching.PermitID, got[0].PermitID)
	})

	t.Run("entered-at window", func(t *testing.T) {
		// The fixture epoch is 2025-01-01; a window starting afterwards
		// excludes the intake events but keeps the later ones.
		after := time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)
		got, err := testDB.FetchTrajectories(ctx, model.TrajectoryFilter{
			PermitIDs:    []uuid.UUID{matching.PermitID},
			EnteredAfter: &after,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Len(t, got[0].Events, 1)
		assert.Equal(t, model.StationID("issued"), got[0].Events[0].Station)
	})

	t.Run("no match", func(t *testing.T) {
		missing := model.PermitType("never_recorded")
		got, err := testDB.FetchTrajectories(ctx, model.TrajectoryFilter{PermitType: &missing})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
