// Package sqlite persists the visible tracks of each processed frame so a
// run can be reported on after the fact.
//
// A Store owns one database file. Each call to BeginRun opens a new run
// keyed by a UUID; RecordFrame then appends that frame's visible tracks
// under the current run inside a single transaction. Undefined turn
// angles are stored as SQL NULL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gelloguiam/spot-video-analysis/internal/vision/motion"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

// ErrNoRun is returned by RecordFrame and FinishRun before BeginRun.
var ErrNoRun = errors.New("sqlite: no run in progress")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store writes track observations to SQLite.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	runID string
}

// Open opens (or creates) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// The per-connection pragmas below only hold with a single connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunID returns the current run, or "" before BeginRun.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// BeginRun inserts a new run row and makes it current. configJSON is the
// resolved tuning configuration for the run.
func (s *Store) BeginRun(ctx context.Context, version, configJSON string) (string, error) {
	runID := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, version, config_json) VALUES (?, ?, ?, ?)`,
		runID, time.Now().UnixNano(), version, configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	return runID, nil
}

// RecordFrame stores the visible tracks of one frame under the current run.
func (s *Store) RecordFrame(ctx context.Context, frame int, tracks []tracking.VisibleTrack) error {
	runID := s.RunID()
	if runID == "" {
		return ErrNoRun
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame %d: %w", frame, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_observations (
			run_id, frame, track_id, class,
			xmin, ymin, xmax, ymax, cx, cy, turn_angle
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range tracks {
		_, err := stmt.ExecContext(ctx,
			runID, frame, v.ID, v.Class,
			v.Bounds.XMin, v.Bounds.YMin, v.Bounds.XMax, v.Bounds.YMax,
			v.Centroid.X, v.Centroid.Y,
			nullAngle(v.TurnAngle),
		)
		if err != nil {
			return fmt.Errorf("insert track %d frame %d: %w", v.ID, frame, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET frames = frames + 1, visible_records = visible_records + ? WHERE run_id = ?`,
		len(tracks), runID,
	); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame %d: %w", frame, err)
	}
	return nil
}

// FinishRun stamps the current run's end time.
func (s *Store) FinishRun(ctx context.Context) error {
	runID := s.RunID()
	if runID == "" {
		return ErrNoRun
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UnixNano(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func nullAngle(a motion.Angle) sql.NullFloat64 {
	v, ok := a.Value()
	return sql.NullFloat64{Float64: v, Valid: ok}
}
