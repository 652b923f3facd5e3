package tracking

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/gelloguiam/spot-video-analysis/internal/ringbuf"
)

// Gallery is a track's bounded set of recent appearance features, stored
// L2-normalised. Oldest features are evicted first.
type Gallery struct {
	features *ringbuf.Ring[[]float64]
}

// NewGallery returns a gallery holding at most budget features
// (0 = unbounded).
func NewGallery(budget int) *Gallery {
	return &Gallery{features: ringbuf.New[[]float64](budget)}
}

// Add stores a normalised copy of f. Empty and zero-norm features are
// ignored.
func (g *Gallery) Add(f []float64) {
	n := normalize(f)
	if n == nil {
		return
	}
	g.features.Add(n)
}

// Len returns the number of stored features.
func (g *Gallery) Len() int { return g.features.Len() }

// Cap returns the gallery budget (0 = unbounded).
func (g *Gallery) Cap() int { return g.features.Cap() }

// Distance returns the smallest cosine distance (1 - cosine similarity)
// between f and any stored feature. It is +Inf when the gallery is empty
// or f cannot be compared.
func (g *Gallery) Distance(f []float64) float64 {
	q := normalize(f)
	if q == nil {
		return math.Inf(1)
	}
	best := math.Inf(1)
	g.features.Each(func(s []float64) bool {
		if len(s) != len(q) {
			return true
		}
		if d := 1 - floats.Dot(s, q); d < best {
			best = d
		}
		return true
	})
	return best
}

func normalize(f []float64) []float64 {
	if len(f) == 0 {
		return nil
	}
	norm := floats.Norm(f, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil
	}
	out := make([]float64, len(f))
	floats.ScaleTo(out, 1/norm, f)
	return out
}

// Clone returns an independent copy of g.
func (g *Gallery) Clone() *Gallery {
	return &Gallery{features: g.features.Clone()}
}
