package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gelloguiam/spot-video-analysis/internal/vision/motion"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

// Run is one row of the runs table.
type Run struct {
	RunID          string `json:"run_id"`
	StartedAt      int64  `json:"started_at"`
	FinishedAt     *int64 `json:"finished_at,omitempty"`
	Version        string `json:"version"`
	ConfigJSON     string `json:"config_json"`
	Frames         int64  `json:"frames"`
	VisibleRecords int64  `json:"visible_records"`
}

// Observation is one visible track in one frame.
type Observation struct {
	RunID     string          `json:"run_id"`
	Frame     int             `json:"frame"`
	TrackID   int             `json:"track_id"`
	Class     string          `json:"class"`
	Bounds    tracking.Bounds `json:"bounds"`
	Centroid  motion.Point    `json:"centroid"`
	TurnAngle motion.Angle    `json:"turn_angle"`
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		r        Run
		finished sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, version, config_json, frames, visible_records
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.StartedAt, &finished, &r.Version, &r.ConfigJSON, &r.Frames, &r.VisibleRecords)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	return &r, nil
}

// ListObservations returns every observation of a run ordered by frame,
// then track ID. A trackID above zero restricts the result to that track.
func (s *Store) ListObservations(ctx context.Context, runID string, trackID int) ([]Observation, error) {
	query := `
		SELECT run_id, frame, track_id, class, xmin, ymin, xmax, ymax, cx, cy, turn_angle
		FROM track_observations
		WHERE run_id = ?`
	args := []interface{}{runID}
	if trackID > 0 {
		query += ` AND track_id = ?`
		args = append(args, trackID)
	}
	query += ` ORDER BY frame, track_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o     Observation
			angle sql.NullFloat64
		)
		if err := rows.Scan(
			&o.RunID, &o.Frame, &o.TrackID, &o.Class,
			&o.Bounds.XMin, &o.Bounds.YMin, &o.Bounds.XMax, &o.Bounds.YMax,
			&o.Centroid.X, &o.Centroid.Y, &angle,
		); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if angle.Valid {
			o.TurnAngle = motion.Degrees(angle.Float64)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}
