package tracking

import (
	"fmt"
	"sync"

	"github.com/gelloguiam/spot-video-analysis/internal/config"
	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/assign"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/kalman"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/motion"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxCosineDistance  float64 // Appearance reject threshold
	NNBudget           int     // Gallery capacity per track (0 = unbounded)
	MaxIoUDistance     float64 // IoU fallback reject threshold (1 - IoU)
	GatingOnlyPosition bool    // Gate on (cx, cy) only
	AssignmentSolver   string  // assign.NameJonkerVolgenant or assign.NameKuhnMunkres

	MaxAge        int // Misses a confirmed track survives
	HitsToConfirm int // Hits needed for confirmation

	Filter FilterOptions

	MotionBand           motion.Band
	CentroidHistoryDepth int
	MaxVisibleArea       float64 // Visible tracks with a larger box are not reported (0 = no cap)

	StdWeightPosition float64
	StdWeightVelocity float64
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found; intended for tests.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MaxCosineDistance:  cfg.GetMaxCosineDistance(),
		NNBudget:           cfg.GetNNBudget(),
		MaxIoUDistance:     cfg.GetMaxIoUDistance(),
		GatingOnlyPosition: cfg.GetGatingOnlyPosition(),
		AssignmentSolver:   cfg.GetAssignmentSolver(),
		MaxAge:             cfg.GetMaxAge(),
		HitsToConfirm:      cfg.GetHitsToConfirm(),
		Filter: FilterOptions{
			AllowedClasses:   cfg.GetAllowedClasses(),
			MinScore:         cfg.GetMinScore(),
			MaxOverlap:       cfg.GetNMSMaxOverlap(),
			AcrossClasses:    cfg.GetSuppressAcrossClasses(),
			SuppressionOrder: cfg.GetSuppressionOrder(),
		},
		MotionBand:           motion.Band{Min: cfg.GetMotionMinPx(), Max: cfg.GetMotionMaxPx()},
		CentroidHistoryDepth: cfg.GetCentroidHistoryDepth(),
		MaxVisibleArea:       cfg.GetMaxVisibleArea(),
		StdWeightPosition:    cfg.GetStdWeightPosition(),
		StdWeightVelocity:    cfg.GetStdWeightVelocity(),
	}
}

// VisibleTrack is the per-frame view of a reported track.
type VisibleTrack struct {
	ID        int
	Class     string
	Bounds    Bounds
	Centroid  motion.Point
	History   []motion.Point
	TurnAngle motion.Angle
}

// Stats are cumulative tracker counters since creation or the last Reset.
type Stats struct {
	Frames       int64
	Detections   int64 // Detections that reached association
	Created      int64
	Confirmed    int64
	Deleted      int64 // Includes ForceDeleted
	ForceDeleted int64 // Deleted after a failed Kalman correction
	Active       int
}

// Tracker manages the active track set. All mutation happens in Step;
// accessors return copies and may be called from other goroutines.
type Tracker struct {
	Config TrackerConfig

	filter  *kalman.Filter
	matcher *matcher

	tracks     []*Track // creation order
	nextID     int
	featureDim int // 0 until the first feature of the run is seen
	visible    []VisibleTrack
	stats      Stats

	mu sync.RWMutex
}

// NewTracker creates a tracker. It fails only for an unknown solver name.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	solver, err := assign.ForName(cfg.AssignmentSolver)
	if err != nil {
		return nil, fmt.Errorf("new tracker: %w", err)
	}
	if solver.Name() == assign.NameKuhnMunkres {
		monitoring.Logf("[tracking] warning: %s is a reduction heuristic and may miss the optimal assignment on contested frames; %s is exact",
			assign.NameKuhnMunkres, assign.NameJonkerVolgenant)
	}
	filter := kalman.NewFilter(cfg.StdWeightPosition, cfg.StdWeightVelocity)
	return &Tracker{
		Config: cfg,
		filter: filter,
		matcher: &matcher{
			filter:       filter,
			solver:       solver,
			maxCosine:    cfg.MaxCosineDistance,
			maxIoU:       cfg.MaxIoUDistance,
			onlyPosition: cfg.GatingOnlyPosition,
			cascadeDepth: cfg.MaxAge,
		},
		nextID: 1,
	}, nil
}

// Reset drops every track and restarts identities at 1.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 1
	t.featureDim = 0
	t.visible = nil
	t.stats = Stats{}
}

// Step runs one full frame cycle: filter detections, predict every track,
// associate, correct matched tracks, age unmatched ones, spawn tracks for
// unmatched detections, purge deleted tracks, and publish the visible set.
func (t *Tracker) Step(dets []Detection) []VisibleTrack {
	t.mu.Lock()
	defer t.mu.Unlock()

	dets = t.normalizeFeatures(FilterDetections(dets, t.Config.Filter))
	t.stats.Frames++
	t.stats.Detections += int64(len(dets))

	// Step 1: Predict all tracks one frame ahead
	for _, tr := range t.tracks {
		tr.kf = t.filter.Predict(tr.kf)
		tr.Age++
		tr.TimeSinceUpdate++
	}

	// Step 2: Associate
	matches, unmatchedTracks, unmatchedDets := t.matcher.associate(t.tracks, dets)

	// Step 3: Correct matched tracks
	for _, m := range matches {
		t.update(t.tracks[m.track], dets[m.det])
	}

	// Step 4: Age unmatched tracks
	for _, k := range unmatchedTracks {
		t.markMissed(t.tracks[k])
	}

	// Step 5: New tentative tracks from leftover detections
	for _, d := range unmatchedDets {
		t.initTrack(dets[d])
	}

	// Step 6: Purge
	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if !tr.IsDeleted() {
			alive = append(alive, tr)
		}
	}
	for i := len(alive); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = alive
	t.stats.Active = len(t.tracks)

	t.visible = t.buildVisible()
	return copyVisible(t.visible)
}

// update applies a successful match. A failed Kalman correction deletes
// the track instead of carrying a corrupt state forward.
func (t *Tracker) update(tr *Track, det Detection) {
	kf, err := t.filter.Update(tr.kf, det.Box.XYAH())
	if err != nil {
		tr.State = TrackDeleted
		t.stats.Deleted++
		t.stats.ForceDeleted++
		monitoring.Logf("[tracking] force-deleting track %d: %v", tr.ID, err)
		return
	}
	tr.kf = kf
	tr.Hits++
	tr.TimeSinceUpdate = 0
	tr.gallery.Add(det.Feature)
	tr.turnAngle = tr.history.Observe(tr.Bounds().Centroid())

	if tr.IsTentative() && tr.Hits >= t.Config.HitsToConfirm {
		tr.State = TrackConfirmed
		t.stats.Confirmed++
		monitoring.Debugf("[tracking] track %d confirmed after %d hits", tr.ID, tr.Hits)
	}
}

// markMissed deletes tentative tracks on their first miss and confirmed
// tracks once they have gone unmatched for more than MaxAge frames.
func (t *Tracker) markMissed(tr *Track) {
	if tr.IsDeleted() {
		return
	}
	if tr.IsTentative() || tr.TimeSinceUpdate > t.Config.MaxAge {
		tr.State = TrackDeleted
		t.stats.Deleted++
		monitoring.Debugf("[tracking] track %d deleted (hits=%d, time_since_update=%d)", tr.ID, tr.Hits, tr.TimeSinceUpdate)
	}
}

// initTrack creates a new tentative track from an unassociated detection.
// Identities come from a counter and are never reused.
func (t *Tracker) initTrack(det Detection) *Track {
	tr := newTrack(t.nextID, det, t.filter.Initiate(det.Box.XYAH()),
		t.Config.NNBudget, t.Config.CentroidHistoryDepth, t.Config.MotionBand)
	t.nextID++
	t.tracks = append(t.tracks, tr)
	t.stats.Created++
	monitoring.Debugf("[tracking] track %d created (%s)", tr.ID, tr.Class)
	return tr
}

// normalizeFeatures drops features whose length differs from the first
// feature seen in the run. The detection itself is kept.
func (t *Tracker) normalizeFeatures(dets []Detection) []Detection {
	for i := range dets {
		n := len(dets[i].Feature)
		if n == 0 {
			continue
		}
		if t.featureDim == 0 {
			t.featureDim = n
			continue
		}
		if n != t.featureDim {
			monitoring.Debugf("[tracking] dropping feature of length %d, run uses %d", n, t.featureDim)
			dets[i].Feature = nil
		}
	}
	return dets
}

// buildVisible collects confirmed tracks updated this frame or the one
// before, skipping boxes larger than MaxVisibleArea.
func (t *Tracker) buildVisible() []VisibleTrack {
	var out []VisibleTrack
	for _, tr := range t.tracks {
		if !tr.IsConfirmed() || tr.TimeSinceUpdate > 1 {
			continue
		}
		b := tr.Bounds()
		if t.Config.MaxVisibleArea > 0 && float64(b.Area()) > t.Config.MaxVisibleArea {
			continue
		}
		out = append(out, VisibleTrack{
			ID:        tr.ID,
			Class:     tr.Class,
			Bounds:    b,
			Centroid:  b.Centroid(),
			History:   tr.History(),
			TurnAngle: tr.turnAngle,
		})
	}
	return out
}

func copyVisible(in []VisibleTrack) []VisibleTrack {
	if in == nil {
		return nil
	}
	out := make([]VisibleTrack, len(in))
	for i, v := range in {
		out[i] = v
		out[i].History = append([]motion.Point(nil), v.History...)
	}
	return out
}

// Visible returns the visible set published by the last completed Step.
func (t *Tracker) Visible() []VisibleTrack {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyVisible(t.visible)
}

// GetActiveTracks returns copies of all live tracks in creation order.
func (t *Tracker) GetActiveTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = tr.snapshot()
	}
	return out
}

// GetConfirmedTracks returns copies of confirmed tracks only.
func (t *Tracker) GetConfirmedTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Track
	for _, tr := range t.tracks {
		if tr.IsConfirmed() {
			out = append(out, tr.snapshot())
		}
	}
	return out
}

// GetTrackCount returns counts of live tracks by state.
func (t *Tracker) GetTrackCount() (total, tentative, confirmed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tr := range t.tracks {
		total++
		switch tr.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		}
	}
	return total, tentative, confirmed
}

// Stats returns the cumulative counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
