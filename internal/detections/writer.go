package detections

import (
	"bufio"
	"fmt"
	"io"

	"github.com/tidwall/sjson"

	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

// EncodeTrack renders one visible track as a JSON object:
//
//	{"run_id": "...", "frame": 12, "track_id": 3, "class": "person",
//	 "bbox": [xmin, ymin, xmax, ymax], "centroid": [cx, cy],
//	 "history": [[x, y], ...], "turn_angle": 12.5}
//
// An undefined turn angle is encoded as null.
func EncodeTrack(runID string, frame int, v tracking.VisibleTrack) (string, error) {
	history := make([][2]int, len(v.History))
	for i, p := range v.History {
		history[i] = [2]int{p.X, p.Y}
	}

	fields := []struct {
		path  string
		value interface{}
	}{
		{"run_id", runID},
		{"frame", frame},
		{"track_id", v.ID},
		{"class", v.Class},
		{"bbox", [4]int{v.Bounds.XMin, v.Bounds.YMin, v.Bounds.XMax, v.Bounds.YMax}},
		{"centroid", [2]int{v.Centroid.X, v.Centroid.Y}},
		{"history", history},
		{"turn_angle", v.TurnAngle.Ptr()},
	}

	out := "{}"
	for _, f := range fields {
		var err error
		out, err = sjson.Set(out, f.path, f.value)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", f.path, err)
		}
	}
	return out, nil
}

// RecordWriter writes one JSON line per visible track per frame.
type RecordWriter struct {
	w     *bufio.Writer
	runID string
	count int64
}

// NewRecordWriter writes records tagged with runID to w.
func NewRecordWriter(w io.Writer, runID string) *RecordWriter {
	return &RecordWriter{w: bufio.NewWriter(w), runID: runID}
}

// WriteFrame writes the visible tracks of one frame.
func (rw *RecordWriter) WriteFrame(frame int, tracks []tracking.VisibleTrack) error {
	for _, v := range tracks {
		line, err := EncodeTrack(rw.runID, frame, v)
		if err != nil {
			return err
		}
		if _, err := rw.w.WriteString(line); err != nil {
			return fmt.Errorf("write track record: %w", err)
		}
		if err := rw.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write track record: %w", err)
		}
		rw.count++
	}
	return nil
}

// Count returns the number of records written.
func (rw *RecordWriter) Count() int64 { return rw.count }

// Flush flushes buffered records.
func (rw *RecordWriter) Flush() error {
	if err := rw.w.Flush(); err != nil {
		return fmt.Errorf("flush track records: %w", err)
	}
	return nil
}
