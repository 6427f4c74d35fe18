// Package history persists sweep runs and place sightings in SQLite so later runs
// can report what changed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ca-srg/placesweep/internal/types"
)

const timeLayout = time.RFC3339Nano

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Store manages SQLite persistence for sweep history.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.placesweep/history.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".placesweep", "history.db"), nil
}

// NewStore opens the database at ~/.placesweep/history.db.
// The directory and database file are created if they don't exist.
func NewStore() (*Store, error) {
	dbPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStoreWithPath(dbPath)
}

// NewStoreWithPath opens the database at dbPath, creating parent directories as needed.
func NewStoreWithPath(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes come from a single orchestrator goroutine; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			area TEXT NOT NULL,
			center_lat REAL NOT NULL,
			center_lng REAL NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			grid_points INTEGER NOT NULL,
			points_searched INTEGER NOT NULL,
			points_failed INTEGER NOT NULL,
			total_places INTEGER NOT NULL,
			low_rated_places INTEGER NOT NULL,
			new_places INTEGER NOT NULL DEFAULT 0,
			cap_reached INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS point_failures (
			run_id TEXT NOT NULL,
			point_index INTEGER NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			outcome TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, point_index)
		);`,
		`CREATE TABLE IF NOT EXISTS place_sightings (
			area TEXT NOT NULL,
			place_id TEXT NOT NULL,
			name TEXT NOT NULL,
			rating REAL,
			first_run_id TEXT NOT NULL,
			last_run_id TEXT NOT NULL,
			first_seen_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			times_seen INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (area, place_id)
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// RecordRun stores a run summary together with its failed grid points.
func (s *Store) RecordRun(ctx context.Context, summary types.RunSummary, failures []types.PointFailure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, area, center_lat, center_lng, started_at, finished_at, grid_points,
			points_searched, points_failed, total_places, low_rated_places, new_places, cap_reached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID,
		summary.Area,
		summary.Center.Latitude,
		summary.Center.Longitude,
		summary.StartedAt.UTC().Format(timeLayout),
		summary.FinishedAt.UTC().Format(timeLayout),
		summary.GridPoints,
		summary.PointsSearched,
		summary.PointsFailed,
		summary.TotalPlaces,
		summary.LowRatedPlaces,
		summary.NewPlaces,
		boolToInt(summary.CapReached),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, f := range failures {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO point_failures (run_id, point_index, lat, lng, outcome, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, summary.RunID, f.Index, f.Coordinate.Latitude, f.Coordinate.Longitude, f.Outcome.String(), f.Message)
		if err != nil {
			return fmt.Errorf("failed to insert point failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecordSightings upserts every place seen by a run of area and returns how many were
// never seen in that area before.
func (s *Store) RecordSightings(ctx context.Context, area, runID string, seenAt time.Time, places []types.Place) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO place_sightings (area, place_id, name, rating, first_run_id, last_run_id, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE place_sightings
		SET name = ?, rating = ?, last_run_id = ?, last_seen_at = ?, times_seen = times_seen + 1
		WHERE area = ? AND place_id = ?
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare update: %w", err)
	}
	defer func() { _ = updateStmt.Close() }()

	ts := seenAt.UTC().Format(timeLayout)
	newCount := 0
	for _, p := range places {
		var rating sql.NullFloat64
		if p.Rating != nil {
			rating = sql.NullFloat64{Float64: *p.Rating, Valid: true}
		}

		res, err := insertStmt.ExecContext(ctx, area, p.ID, p.Name, rating, runID, runID, ts, ts)
		if err != nil {
			return 0, fmt.Errorf("failed to insert sighting %s: %w", p.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected > 0 {
			newCount++
			continue
		}

		if _, err := updateStmt.ExecContext(ctx, p.Name, rating, runID, ts, area, p.ID); err != nil {
			return 0, fmt.Errorf("failed to update sighting %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sightings: %w", err)
	}
	return newCount, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]types.RunSummary, error) {
	query := `
		SELECT run_id, area, center_lat, center_lng, started_at, finished_at, grid_points,
			points_searched, points_failed, total_places, low_rated_places, new_places, cap_reached
		FROM runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []types.RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, area, center_lat, center_lng, started_at, finished_at, grid_points,
			points_searched, points_failed, total_places, low_rated_places, new_places, cap_reached
		FROM runs
		WHERE run_id = ?
	`, runID)

	summary, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return &summary, nil
}

// Failures returns the failed grid points of a run ordered by grid index.
func (s *Store) Failures(ctx context.Context, runID string) ([]types.PointFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT point_index, lat, lng, outcome, message
		FROM point_failures
		WHERE run_id = ?
		ORDER BY point_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query point failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var failures []types.PointFailure
	for rows.Next() {
		var f types.PointFailure
		var outcome string
		if err := rows.Scan(&f.Index, &f.Coordinate.Latitude, &f.Coordinate.Longitude, &outcome, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.Outcome = parseOutcome(outcome)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return failures, nil
}

// TimesSeen returns how many runs of area have seen placeID, or 0 if none has.
func (s *Store) TimesSeen(ctx context.Context, area, placeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT times_seen FROM place_sightings WHERE area = ? AND place_id = ?",
		area, placeID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get sighting: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (types.RunSummary, error) {
	var (
		summary    types.RunSummary
		startedAt  string
		finishedAt string
		capReached int
	)
	err := row.Scan(
		&summary.RunID,
		&summary.Area,
		&summary.Center.Latitude,
		&summary.Center.Longitude,
		&startedAt,
		&finishedAt,
		&summary.GridPoints,
		&summary.PointsSearched,
		&summary.PointsFailed,
		&summary.TotalPlaces,
		&summary.LowRatedPlaces,
		&summary.NewPlaces,
		&capReached,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return summary, err
		}
		return summary, fmt.Errorf("failed to scan run: %w", err)
	}

	if summary.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return summary, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if summary.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return summary, fmt.Errorf("failed to parse finished_at: %w", err)
	}
	summary.CapReached = capReached != 0
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	return summary, nil
}

func parseOutcome(s string) types.SearchOutcome {
	for _, o := range []types.SearchOutcome{types.OutcomeComplete, types.OutcomeCapped, types.OutcomeRetryExhausted, types.OutcomeFailed} {
		if o.String() == s {
			return o
		}
	}
	return types.OutcomeFailed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
