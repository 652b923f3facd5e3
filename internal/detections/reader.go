// Package detections is the boundary with the external detector and
// embedder: it decodes per-frame detections from JSON lines and encodes
// the visible tracks of each frame back to JSON lines.
//
// Input, one frame per line:
//
//	{"frame": 12, "detections": [{"bbox": [x, y, w, h], "score": 0.93, "class": "person", "feature": [...]}]}
//
// A line that is not valid JSON yields a frame with no detections; a
// detection with a bad bbox, score, or feature is dropped on its own.
package detections

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

// ErrMalformedFrame marks a line that could not be decoded as a frame.
var ErrMalformedFrame = errors.New("detections: malformed frame")

// maxLineBytes bounds a single frame line. 128-float features for a few
// hundred detections fit comfortably.
const maxLineBytes = 16 * 1024 * 1024

// Frame is one decoded input line.
type Frame struct {
	Index      int
	Detections []tracking.Detection
	Dropped    int  // Detections rejected during decoding
	Malformed  bool // The whole line was rejected
}

// Reader yields frames from a JSON-lines stream.
type Reader struct {
	br    *bufio.Reader
	limit int    // longest accepted line, excluding the line ending
	line  []byte // reused between lines
	next  int    // index assigned to frames without a "frame" key
}

// NewReader wraps r. Lines longer than maxLineBytes are skipped as
// malformed frames.
func NewReader(r io.Reader) *Reader {
	return newReaderSize(r, maxLineBytes)
}

func newReaderSize(r io.Reader, limit int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// Next returns the next frame, or io.EOF at the end of the stream. A
// malformed or oversized line is not an error: it comes back as an empty
// frame with Malformed set.
func (r *Reader) Next() (Frame, error) {
	line, tooLong, err := r.readLine()
	if err == io.EOF {
		return Frame{}, io.EOF
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read detections: %w", err)
	}

	if tooLong {
		frame := Frame{Index: r.next, Malformed: true}
		monitoring.Logf("[detections] frame %d: line exceeds %d bytes; treating as empty", frame.Index, r.limit)
		r.next++
		return frame, nil
	}

	frame, err := ParseFrame(line, r.next)
	if err != nil {
		monitoring.Logf("[detections] frame %d: %v; treating as empty", frame.Index, err)
	}
	r.next = frame.Index + 1
	return frame, nil
}

// readLine returns the next line without its line ending. An oversized
// line is consumed to its end and reported with tooLong instead of being
// buffered.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	r.line = r.line[:0]
	sawData := false
	for {
		chunk, rerr := r.br.ReadSlice('\n')
		if len(chunk) > 0 {
			sawData = true
		}
		if !tooLong {
			r.line = append(r.line, chunk...)
			if len(bytes.TrimRight(r.line, "\r\n")) > r.limit {
				tooLong = true
				r.line = r.line[:0]
			}
		}

		switch {
		case rerr == bufio.ErrBufferFull:
			continue
		case rerr == io.EOF && !sawData:
			return nil, false, io.EOF
		case rerr != nil && rerr != io.EOF:
			return nil, false, rerr
		}
		return bytes.TrimRight(r.line, "\r\n"), tooLong, nil
	}
}

// ParseFrame decodes one line. fallbackIndex is used when the line has no
// "frame" key or cannot be decoded. On ErrMalformedFrame the returned
// frame is still usable: it has no detections.
func ParseFrame(line []byte, fallbackIndex int) (Frame, error) {
	frame := Frame{Index: fallbackIndex}
	if len(line) == 0 {
		return frame, nil
	}
	if !gjson.ValidBytes(line) {
		frame.Malformed = true
		return frame, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}

	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		frame.Malformed = true
		return frame, fmt.Errorf("%w: expected an object", ErrMalformedFrame)
	}
	if idx := root.Get("frame"); idx.Type == gjson.Number {
		frame.Index = int(idx.Int())
	}

	dets := root.Get("detections")
	if dets.Exists() && !dets.IsArray() {
		frame.Malformed = true
		return frame, fmt.Errorf("%w: detections is not an array", ErrMalformedFrame)
	}
	dets.ForEach(func(_, value gjson.Result) bool {
		d, err := parseDetection(value)
		if err != nil {
			frame.Dropped++
			monitoring.Debugf("[detections] frame %d: dropping detection: %v", frame.Index, err)
			return true
		}
		frame.Detections = append(frame.Detections, d)
		return true
	})
	return frame, nil
}

func parseDetection(v gjson.Result) (tracking.Detection, error) {
	var d tracking.Detection
	if !v.IsObject() {
		return d, errors.New("not an object")
	}

	bbox := v.Get("bbox").Array()
	if len(bbox) != 4 {
		return d, fmt.Errorf("bbox has %d values, want 4", len(bbox))
	}
	var xywh [4]float64
	for i, n := range bbox {
		if n.Type != gjson.Number {
			return d, fmt.Errorf("bbox[%d] is not a number", i)
		}
		xywh[i] = n.Float()
	}
	d.Box = tracking.Box{X: xywh[0], Y: xywh[1], W: xywh[2], H: xywh[3]}
	if !d.Box.Valid() {
		return d, fmt.Errorf("bbox %v has no area", xywh)
	}

	if s := v.Get("score"); s.Exists() {
		if s.Type != gjson.Number {
			return d, errors.New("score is not a number")
		}
		d.Score = s.Float()
	} else {
		d.Score = 1
	}
	d.Class = v.Get("class").String()

	if f := v.Get("feature"); f.Exists() {
		values := f.Array()
		d.Feature = make([]float64, len(values))
		for i, n := range values {
			if n.Type != gjson.Number {
				return d, fmt.Errorf("feature[%d] is not a number", i)
			}
			d.Feature[i] = n.Float()
		}
	}
	return d, nil
}
