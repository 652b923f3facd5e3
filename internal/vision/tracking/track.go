package tracking

import (
	"github.com/gelloguiam/spot-video-analysis/internal/vision/kalman"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/motion"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Matched often enough to report
	TrackDeleted   TrackState = "deleted"   // Terminal; removed at end of frame
)

// Track is one identity hypothesis. Tracks are owned by a Tracker; the
// copies returned by Tracker accessors share nothing with live state.
type Track struct {
	ID    int
	State TrackState
	Class string

	// Hits counts successful matches since creation (creation counts as
	// one). Age counts frames since creation. TimeSinceUpdate counts
	// frames since the last successful match.
	Hits            int
	Age             int
	TimeSinceUpdate int

	kf        kalman.State
	gallery   *Gallery
	history   *motion.History
	turnAngle motion.Angle
}

func newTrack(id int, det Detection, kf kalman.State, budget, depth int, band motion.Band) *Track {
	tr := &Track{
		ID:      id,
		State:   TrackTentative,
		Class:   det.Class,
		Hits:    1,
		Age:     1,
		kf:      kf,
		gallery: NewGallery(budget),
		history: motion.NewHistory(depth, band),
	}
	tr.gallery.Add(det.Feature)
	tr.history.Seed(tr.Bounds().Centroid())
	return tr
}

// IsConfirmed reports whether the track is Confirmed.
func (tr *Track) IsConfirmed() bool { return tr.State == TrackConfirmed }

// IsTentative reports whether the track is Tentative.
func (tr *Track) IsTentative() bool { return tr.State == TrackTentative }

// IsDeleted reports whether the track is Deleted.
func (tr *Track) IsDeleted() bool { return tr.State == TrackDeleted }

// Box returns the current Kalman box estimate.
func (tr *Track) Box() Box { return BoxFromXYAH(tr.kf.Box()) }

// Bounds returns the current box estimate in integer pixels.
func (tr *Track) Bounds() Bounds { return tr.Box().Bounds() }

// History returns a copy of the centroid history, oldest first.
func (tr *Track) History() []motion.Point { return tr.history.Points() }

// TurnAngle returns the angle derived at the last successful match.
func (tr *Track) TurnAngle() motion.Angle { return tr.turnAngle }

// GallerySize returns how many appearance features the track holds.
func (tr *Track) GallerySize() int { return tr.gallery.Len() }

// snapshot returns a deep copy safe to hand out without the tracker lock.
func (tr *Track) snapshot() *Track {
	cp := *tr
	cp.kf = tr.kf.Clone()
	cp.gallery = tr.gallery.Clone()
	cp.history = tr.history.Clone()
	return &cp
}
