// Package motion keeps the bounded centroid trajectory of a track and
// derives the turn angle between its two most recent displacements.
package motion

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gelloguiam/spot-video-analysis/internal/ringbuf"
)

// Point is an integer pixel centroid.
type Point struct {
	X, Y int
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}

// Heading returns the direction of the displacement from -> to in degrees,
// measured with atan2 in image coordinates, in (-180, 180].
func Heading(from, to Point) float64 {
	return math.Atan2(float64(to.Y-from.Y), float64(to.X-from.X)) * 180 / math.Pi
}

// Angle is a turn-angle signal that may be undefined. The zero value is
// undefined; a defined zero is a real "no turn" reading.
type Angle struct {
	value   float64
	defined bool
}

// Undefined returns the undefined signal.
func Undefined() Angle { return Angle{} }

// Degrees returns a defined signal with value v.
func Degrees(v float64) Angle { return Angle{value: v, defined: true} }

// Defined reports whether the signal carries a value.
func (a Angle) Defined() bool { return a.defined }

// Value returns the angle in degrees and whether it is defined.
func (a Angle) Value() (float64, bool) { return a.value, a.defined }

// Ptr returns the value as a pointer, nil when undefined. Handy for
// nullable columns and optional JSON fields.
func (a Angle) Ptr() *float64 {
	if !a.defined {
		return nil
	}
	v := a.value
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr(p *float64) Angle {
	if p == nil {
		return Undefined()
	}
	return Degrees(*p)
}

func (a Angle) String() string {
	if !a.defined {
		return "undefined"
	}
	return strconv.FormatFloat(a.value, 'f', 2, 64)
}

// MarshalJSON encodes an undefined signal as null.
func (a Angle) MarshalJSON() ([]byte, error) {
	if !a.defined {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(a.value, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts a number or null.
func (a *Angle) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*a = Undefined()
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse turn angle %q: %w", s, err)
	}
	*a = Degrees(v)
	return nil
}

// Band is the plausible per-frame displacement range. Both bounds are
// exclusive: a step of exactly Min or Max pixels is rejected.
type Band struct {
	Min, Max float64
}

// Contains reports whether d lies strictly inside the band.
func (b Band) Contains(d float64) bool {
	return d > b.Min && d < b.Max
}

// TurnAngle returns the absolute difference, in degrees rounded to two
// decimals, between the heading of prev1 -> curr and the heading of
// prev2 -> prev1. It is undefined when the latest step is outside band.
func TurnAngle(prev2, prev1, curr Point, band Band) Angle {
	if !band.Contains(Distance(prev1, curr)) {
		return Undefined()
	}
	diff := math.Abs(Heading(prev1, curr) - Heading(prev2, prev1))
	return Degrees(math.Round(diff*100) / 100)
}

// History is the bounded centroid trajectory of one track, oldest first.
type History struct {
	points *ringbuf.Ring[Point]
	band   Band
}

// NewHistory returns a history keeping at most depth centroids.
func NewHistory(depth int, band Band) *History {
	return &History{points: ringbuf.New[Point](depth), band: band}
}

// Observe computes the turn angle for curr against the two most recent
// stored centroids, then appends curr. With fewer than two stored
// centroids the angle is undefined.
func (h *History) Observe(curr Point) Angle {
	angle := Undefined()
	prev1, ok1 := h.points.Last(0)
	prev2, ok2 := h.points.Last(1)
	if ok1 && ok2 {
		angle = TurnAngle(prev2, prev1, curr, h.band)
	}
	h.points.Add(curr)
	return angle
}

// Seed appends p without deriving an angle.
func (h *History) Seed(p Point) {
	h.points.Add(p)
}

// Len returns the number of stored centroids.
func (h *History) Len() int { return h.points.Len() }

// Depth returns the configured capacity.
func (h *History) Depth() int { return h.points.Cap() }

// Latest returns the newest centroid.
func (h *History) Latest() (Point, bool) { return h.points.Last(0) }

// Points returns a copy of the stored centroids, oldest first.
func (h *History) Points() []Point { return h.points.Items() }

// Clone returns an independent copy of h.
func (h *History) Clone() *History {
	return &History{points: h.points.Clone(), band: h.band}
}
