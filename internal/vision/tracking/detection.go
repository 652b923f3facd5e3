package tracking

import (
	"sort"

	"github.com/gelloguiam/spot-video-analysis/internal/config"
)

// Detection is one detector output for a frame, with its appearance
// feature from the embedder. Feature may be nil.
type Detection struct {
	Box     Box
	Score   float64
	Class   string
	Feature []float64
}

// FilterOptions controls which detections reach association.
type FilterOptions struct {
	// AllowedClasses lists accepted class labels. Empty or containing
	// "*" accepts every class.
	AllowedClasses []string
	MinScore       float64
	// MaxOverlap is the same-class IoU above which the lower-scored
	// detection is dropped. 1.0 or more disables suppression.
	MaxOverlap float64
	// AcrossClasses lets suppression compare detections of different
	// classes.
	AcrossClasses bool
	// SuppressionOrder is config.SuppressAfterClassFilter or
	// config.SuppressBeforeClassFilter.
	SuppressionOrder string
}

// FilterDetections drops invalid boxes, applies the score floor, and then
// runs the class allow-list and overlap suppression in the configured
// order. Survivors keep their input order.
func FilterDetections(dets []Detection, opts FilterOptions) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Box.Valid() && d.Score >= opts.MinScore {
			out = append(out, d)
		}
	}

	if opts.SuppressionOrder == config.SuppressBeforeClassFilter {
		out = suppress(out, opts.MaxOverlap, opts.AcrossClasses)
		return filterClasses(out, opts.AllowedClasses)
	}
	out = filterClasses(out, opts.AllowedClasses)
	return suppress(out, opts.MaxOverlap, opts.AcrossClasses)
}

func filterClasses(dets []Detection, allowed []string) []Detection {
	if len(allowed) == 0 {
		return dets
	}
	set := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		if c == "*" {
			return dets
		}
		set[c] = true
	}
	out := dets[:0:0]
	for _, d := range dets {
		if set[d.Class] {
			out = append(out, d)
		}
	}
	return out
}

// SuppressOverlaps removes same-class duplicates: visiting detections by
// descending score, any remaining detection of the same class whose IoU
// with a kept one exceeds maxOverlap is dropped. Ties in score keep the
// earlier detection.
func SuppressOverlaps(dets []Detection, maxOverlap float64) []Detection {
	return suppress(dets, maxOverlap, false)
}

func suppress(dets []Detection, maxOverlap float64, acrossClasses bool) []Detection {
	if len(dets) < 2 || maxOverlap >= 1 {
		return dets
	}

	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Score > dets[order[b]].Score
	})

	suppressed := make([]bool, len(dets))
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		for _, j := range order[oi+1:] {
			if suppressed[j] || (!acrossClasses && dets[j].Class != dets[i].Class) {
				continue
			}
			if IoU(dets[i].Box, dets[j].Box) > maxOverlap {
				suppressed[j] = true
			}
		}
	}

	out := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if !suppressed[i] {
			out = append(out, d)
		}
	}
	return out
}
