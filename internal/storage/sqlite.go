package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/permitops/permitflow/internal/model"
)

// SQLiteStore serves permit history from a local SQLite file. It exists for
// fixture data and development parity with the Postgres adapter; the query
// surface is identical.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) the SQLite database at path and ensures the
// permit_events schema exists.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ensure sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS permit_events (
	permit_id    TEXT NOT NULL,
	station      TEXT NOT NULL,
	entered_at   TIMESTAMP NOT NULL,
	exited_at    TIMESTAMP,
	permit_type  TEXT NOT NULL,
	neighborhood TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (permit_id, entered_at)
);
CREATE INDEX IF NOT EXISTS idx_permit_events_type ON permit_events (permit_type, entered_at);
`

// FetchTrajectories mirrors (*DB).FetchTrajectories over SQLite.
func (s *SQLiteStore) FetchTrajectories(ctx context.Context, f model.TrajectoryFilter) ([]model.Trajectory, error) {
	where, args := filterClauses(f, func(int) string { return "?" })
	// database/sql cannot bind uuid.UUID portably; stringify for SQLite.
	for i, a := range args {
		if id, ok := a.(interface{ String() string }); ok {
			args[i] = id.String()
		}
	}
	query := selectEvents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY permit_id, entered_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch trajectories (sqlite): %w", err)
	}
	defer rows.Close()

	var events []model.PermitEvent
	for rows.Next() {
		var r scanRow
		if err := rows.Scan(&r.permitID, &r.station, &r.entered, &r.exited, &r.ptype, &r.hood); err != nil {
			return nil, fmt.Errorf("storage: scan permit event (sqlite): %w", err)
		}
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate permit events (sqlite): %w", err)
	}
	return groupTrajectories(events, f.CompletedOnly), nil
}

// InsertEvents loads fixture events. It exists for tests and local seeding;
// the engine itself never writes history.
func (s *SQLiteStore) InsertEvents(ctx context.Context, events []model.PermitEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO permit_events (permit_id, station, entered_at, exited_at, permit_type, neighborhood)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare sqlite insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.PermitID.String(), string(e.Station), e.EnteredAt, e.ExitedAt,
			string(e.PermitType), string(e.Neighborhood)); err != nil {
			return fmt.Errorf("storage: insert permit event: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
