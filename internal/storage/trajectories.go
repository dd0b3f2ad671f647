package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/permitops/permitflow/internal/model"
)

// FetchTrajectories returns the permit trajectories matching the filter,
// each ordered by entry timestamp. No match is an empty slice, never an
// error.
func (db *DB) FetchTrajectories(ctx context.Context, f model.TrajectoryFilter) ([]model.Trajectory, error) {
	where, args := filterClauses(f, func(n int) string { return fmt.Sprintf("$%d", n) })
	query := selectEvents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY permit_id, entered_at"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch trajectories: %w", err)
	}
	defer rows.Close()

	var events []model.PermitEvent
	for rows.Next() {
		var e model.PermitEvent
		if err := rows.Scan(&e.PermitID, &e.Station, &e.EnteredAt, &e.ExitedAt, &e.PermitType, &e.Neighborhood); err != nil {
			return nil, fmt.Errorf("storage: scan permit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate permit events: %w", err)
	}
	return groupTrajectories(events, f.CompletedOnly), nil
}

const selectEvents = `SELECT permit_id, station, entered_at, exited_at, permit_type, neighborhood FROM permit_events`

// filterClauses renders the filter into WHERE clauses with the backend's
// placeholder syntax. CompletedOnly is applied after grouping: whether a
// trajectory is complete is a property of its last event, not of any row.
func filterClauses(f model.TrajectoryFilter, placeholder func(int) string) ([]string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if len(f.PermitIDs) > 0 {
		ps := make([]string, len(f.PermitIDs))
		for i, id := range f.PermitIDs {
			ps[i] = arg(id)
		}
		where = append(where, "permit_id IN ("+strings.Join(ps, ", ")+")")
	}
	if f.PermitType != nil {
		where = append(where, "permit_type = "+arg(string(*f.PermitType)))
	}
	if f.Neighborhood != nil {
		where = append(where, "neighborhood = "+arg(string(*f.Neighborhood)))
	}
	if f.EnteredAfter != nil {
		where = append(where, "entered_at >= "+arg(*f.EnteredAfter))
	}
	if f.EnteredBefore != nil {
		where = append(where, "entered_at < "+arg(*f.EnteredBefore))
	}
	return where, args
}

// groupTrajectories folds rows ordered by (permit_id, entered_at) into
// per-permit trajectories. The trajectory's type and neighborhood come from
// its latest event.
func groupTrajectories(events []model.PermitEvent, completedOnly bool) []model.Trajectory {
	var out []model.Trajectory
	var cur *model.Trajectory
	flush := func() {
		if cur == nil {
			return
		}
		last := cur.Events[len(cur.Events)-1]
		cur.PermitType = last.PermitType
		cur.Neighborhood = last.Neighborhood
		if !completedOnly || last.ExitedAt != nil {
			out = append(out, *cur)
		}
		cur = nil
	}
	for _, e := range events {
		if cur == nil || cur.PermitID != e.PermitID {
			flush()
			cur = &model.Trajectory{PermitID: e.PermitID}
		}
		cur.Events = append(cur.Events, e)
	}
	flush()
	return out
}

// scanRow is the row shape shared with the SQLite backend, which cannot
// scan uuid.UUID or *time.Time directly through database/sql.
type scanRow struct {
	permitID string
	station  string
	entered  time.Time
	exited   *time.Time
	ptype    string
	hood     string
}

func (r scanRow) event() (model.PermitEvent, error) {
	id, err := uuid.Parse(r.permitID)
	if err != nil {
		return model.PermitEvent{}, fmt.Errorf("storage: bad permit id %q: %w", r.permitID, err)
	}
	return model.PermitEvent{
		PermitID:     id,
		Station:      model.StationID(r.station),
		EnteredAt:    r.entered,
		ExitedAt:     r.exited,
		PermitType:   model.PermitType(r.ptype),
		Neighborhood: model.Neighborhood(r.hood),
	}, nil
}
