// Package pipeline drives the per-frame loop: read detections, step the
// tracker, then hand the visible set to the configured sinks.
//
// Decoding frame N+1 overlaps with tracking frame N. Tracking itself is
// strictly sequential; a frame either completes its whole cycle and
// reaches every sink, or the loop stops before it starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/gelloguiam/spot-video-analysis/internal/detections"
	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/tracking"
)

// FrameSource yields decoded frames and io.EOF at end of stream.
type FrameSource interface {
	Next() (detections.Frame, error)
}

// TrackingStage runs one frame through the tracker.
type TrackingStage interface {
	Step(dets []tracking.Detection) []tracking.VisibleTrack
}

// RecordSink writes the visible tracks of each frame to an output stream.
type RecordSink interface {
	WriteFrame(frame int, tracks []tracking.VisibleTrack) error
}

// PersistenceSink stores the visible tracks of each frame.
type PersistenceSink interface {
	RecordFrame(ctx context.Context, frame int, tracks []tracking.VisibleTrack) error
}

// PublishSink pushes the visible tracks of each frame to live consumers.
// It must not block.
type PublishSink interface {
	PublishFrame(frame int, tracks []tracking.VisibleTrack)
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Config holds the stages of one run. Source and Tracker are required;
// every sink is optional.
type Config struct {
	Source    FrameSource
	Tracker   TrackingStage
	Records   RecordSink
	Store     PersistenceSink
	Publisher PublishSink

	// ProgressEvery logs a progress line every N frames. Zero disables.
	ProgressEvery int
}

// Summary describes a finished run.
type Summary struct {
	Frames         int64
	Malformed      int64 // Frames whose line could not be decoded
	Dropped        int64 // Individual detections rejected while decoding
	Detections     int64 // Detections handed to the tracker
	VisibleRecords int64 // Visible tracks emitted, summed over frames
	Elapsed        time.Duration
}

type fetched struct {
	frame detections.Frame
	err   error
}

// Run processes frames until the source reports io.EOF (returns nil), a
// stage fails, or ctx is cancelled between frames.
func (cfg *Config) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if isNilInterface(cfg.Source) || isNilInterface(cfg.Tracker) {
		return sum, errors.New("pipeline: source and tracker are required")
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	frames := cfg.prefetch(ctx)

	for {
		var item fetched
		select {
		case <-ctx.Done():
			sum.Elapsed = time.Since(start)
			return sum, ctx.Err()
		case item = <-frames:
		}

		if errors.Is(item.err, io.EOF) {
			sum.Elapsed = time.Since(start)
			monitoring.Logf("[pipeline] end of stream after %d frames (%d malformed, %d detections dropped, %d visible records) in %v",
				sum.Frames, sum.Malformed, sum.Dropped, sum.VisibleRecords, sum.Elapsed.Round(time.Millisecond))
			return sum, nil
		}
		if item.err != nil {
			sum.Elapsed = time.Since(start)
			return sum, fmt.Errorf("pipeline: frame source: %w", item.err)
		}

		if err := cfg.processFrame(ctx, item.frame, &sum); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if cfg.ProgressEvery > 0 && sum.Frames%int64(cfg.ProgressEvery) == 0 {
			monitoring.Logf("[pipeline] %d frames processed", sum.Frames)
		}
	}
}

func (cfg *Config) processFrame(ctx context.Context, frame detections.Frame, sum *Summary) error {
	if frame.Malformed {
		sum.Malformed++
	}
	sum.Dropped += int64(frame.Dropped)
	sum.Detections += int64(len(frame.Detections))

	visible := cfg.Tracker.Step(frame.Detections)
	sum.Frames++
	sum.VisibleRecords += int64(len(visible))

	if !isNilInterface(cfg.Records) {
		if err := cfg.Records.WriteFrame(frame.Index, visible); err != nil {
			return fmt.Errorf("pipeline: frame %d: %w", frame.Index, err)
		}
	}
	if !isNilInterface(cfg.Store) {
		if err := cfg.Store.RecordFrame(ctx, frame.Index, visible); err != nil {
			return fmt.Errorf("pipeline: frame %d: %w", frame.Index, err)
		}
	}
	if !isNilInterface(cfg.Publisher) {
		cfg.Publisher.PublishFrame(frame.Index, visible)
	}
	return nil
}

// prefetch decodes frames one ahead of the tracker. The goroutine stops
// after delivering an error (including io.EOF) or when ctx is done. A
// Next call already blocked on input finishes only when the input does.
func (cfg *Config) prefetch(ctx context.Context) <-chan fetched {
	out := make(chan fetched, 1)
	go func() {
		for {
			frame, err := cfg.Source.Next()
			select {
			case out <- fetched{frame: frame, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
