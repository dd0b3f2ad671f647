// Package testutil provides shared test infrastructure: a Postgres
// container bootstrap for storage integration tests and fixture trajectory
// builders used across the engine's unit tests.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/permitops/permitflow/internal/model"
	"github.com/permitops/permitflow/internal/storage"
	"github.com/permitops/permitflow/migrations"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container for the permit event
// history. Calls os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "permitflow",
			"POSTGRES_PASSWORD": "permitflow",
			"POSTGRES_DB":       "permitflow",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://permitflow:permitflow@%s:%s/permitflow?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container and runs all
// migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// TrajectoryBuilder assembles fixture trajectories with hour-granularity
// dwells, so tests read as station/dwell tables instead of timestamp math.
type TrajectoryBuilder struct {
	t    model.Trajectory
	at   time.Time
	open bool
}

// NewTrajectory starts a fixture trajectory at a fixed epoch.
func NewTrajectory(ptype model.PermitType, hood model.Neighborhood) *TrajectoryBuilder {
	return &TrajectoryBuilder{
		t: model.Trajectory{
			PermitID:     uuid.New(),
			PermitType:   ptype,
			Neighborhood: hood,
		},
		at: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Visit appends a completed dwell of the given hours at the station.
func (b *TrajectoryBuilder) Visit(station model.StationID, hours float64) *TrajectoryBuilder {
	enter := b.at
	exit := enter.Add(time.Duration(hours * float64(time.Hour)))
	b.t.Events = append(b.t.Events, model.PermitEvent{
		PermitID:     b.t.PermitID,
		Station:      station,
		EnteredAt:    enter,
		ExitedAt:     &exit,
		PermitType:   b.t.PermitType,
		Neighborhood: b.t.Neighborhood,
	})
	b.at = exit
	return b
}

// Arrive appends an open event: the permit entered the station and has not
// exited yet.
func (b *TrajectoryBuilder) Arrive(station model.StationID) *TrajectoryBuilder {
	b.t.Events = append(b.t.Events, model.PermitEvent{
		PermitID:     b.t.PermitID,
		Station:      station,
		EnteredAt:    b.at,
		PermitType:   b.t.PermitType,
		Neighborhood: b.t.Neighborhood,
	})
	b.open = true
	return b
}

// Build returns the assembled trajectory.
func (b *TrajectoryBuilder) Build() model.Trajectory { return b.t }

// Timeline returns a live reading for the trajectory's open final event
// after the given elapsed hours.
func (b *TrajectoryBuilder) Timeline(elapsedHours float64) model.Timeline {
	last := b.t.Events[len(b.t.Events)-1]
	return model.Timeline{
		Station:    last.Station,
		EnteredAt:  last.EnteredAt,
		ObservedAt: last.EnteredAt.Add(time.Duration(elapsedHours * float64(time.Hour))),
	}
}
