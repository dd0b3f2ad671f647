package permitflow

import (
	"context"

	"github.com/google/uuid"
)

// HistoryStore is read-only access to historical permit station events, the
// engine's only window onto persisted data. Implementations must be safe
// for unbounded concurrent reads and must return an empty slice, not an
// error, when nothing matches. Durability and schema migration of the
// backing store belong to its owner, not to this engine.
//
// When provided via WithHistoryStore, replaces the built-in Postgres/SQLite
// adapters selected by DATABASE_URL / PERMITFLOW_SQLITE_PATH.
type HistoryStore interface {
	FetchTrajectories(ctx context.Context, filter TrajectoryFilter) ([]Trajectory, error)
}

// TimelineSource supplies the live current-station reading for a permit at
// call time. Diagnostics and cost estimates depend on this being fresh per
// call; the engine never caches a Timeline.
//
// When not provided, the engine derives the timeline from the permit's last
// open history event, observed at the engine clock's now.
type TimelineSource interface {
	Timeline(ctx context.Context, permitID uuid.UUID) (Timeline, error)
}
