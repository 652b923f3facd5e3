package tracking

import (
	"math"

	"github.com/gelloguiam/spot-video-analysis/internal/vision/kalman"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/motion"
)

// Box is an axis-aligned box in image pixels: top-left corner plus size.
type Box struct {
	X, Y, W, H float64
}

// Bounds is a box in integer pixel corners, as reported to consumers.
type Bounds struct {
	XMin, YMin, XMax, YMax int
}

// Area returns the pixel area of b.
func (b Bounds) Area() int {
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

// Centroid returns the integer centre of b.
func (b Bounds) Centroid() motion.Point {
	return motion.Point{
		X: int(float64(b.XMin+b.XMax) / 2),
		Y: int(float64(b.YMin+b.YMax) / 2),
	}
}

// Valid reports whether b has a finite position and a positive size.
func (b Box) Valid() bool {
	for _, v := range [4]float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.W > 0 && b.H > 0
}

// TLBR returns the top-left and bottom-right corners.
func (b Box) TLBR() (x1, y1, x2, y2 float64) {
	return b.X, b.Y, b.X + b.W, b.Y + b.H
}

// Bounds truncates the corners to integer pixels.
func (b Box) Bounds() Bounds {
	x1, y1, x2, y2 := b.TLBR()
	return Bounds{XMin: int(x1), YMin: int(y1), XMax: int(x2), YMax: int(y2)}
}

// Area returns W*H.
func (b Box) Area() float64 {
	return b.W * b.H
}

// XYAH converts b to the Kalman measurement form (cx, cy, w/h, h).
func (b Box) XYAH() kalman.Measurement {
	return kalman.Measurement{b.X + b.W/2, b.Y + b.H/2, b.W / b.H, b.H}
}

// BoxFromXYAH is the inverse of Box.XYAH.
func BoxFromXYAH(m kalman.Measurement) Box {
	w := m[2] * m[3]
	return Box{X: m[0] - w/2, Y: m[1] - m[3]/2, W: w, H: m[3]}
}

// IoU returns the intersection-over-union of a and b in [0, 1].
func IoU(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.TLBR()
	bx1, by1, bx2, by2 := b.TLBR()

	iw := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	ih := math.Min(ay2, by2) - math.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
