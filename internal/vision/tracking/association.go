package tracking

import (
	"github.com/gelloguiam/spot-video-analysis/internal/monitoring"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/assign"
	"github.com/gelloguiam/spot-video-analysis/internal/vision/kalman"
)

// gatedCost replaces the cost of pairs rejected by the motion gate or
// excluded from the IoU pass. It only has to exceed every reject threshold.
const gatedCost = 1e5

// match pairs a track index with a detection index.
type match struct {
	track int
	det   int
}

// costFunc builds the cost matrix for the given track and detection
// indices: one row per track index, one column per detection index.
type costFunc func(tracks []*Track, dets []Detection, trackIdx, detIdx []int) [][]float64

// matcher runs the two association passes. The cost functions live here;
// the assignment itself is delegated to an assign.Solver.
type matcher struct {
	filter       *kalman.Filter
	solver       assign.Solver
	maxCosine    float64
	maxIoU       float64
	onlyPosition bool
	cascadeDepth int
}

// associate matches detections to tracks: confirmed tracks go through the
// appearance cascade, then unconfirmed tracks plus cascade leftovers
// updated in the previous frame go through IoU matching.
func (m *matcher) associate(tracks []*Track, dets []Detection) (matches []match, unmatchedTracks, unmatchedDets []int) {
	var confirmed, unconfirmed []int
	for i, tr := range tracks {
		if tr.IsConfirmed() {
			confirmed = append(confirmed, i)
		} else {
			unconfirmed = append(unconfirmed, i)
		}
	}
	detIdx := make([]int, len(dets))
	for i := range detIdx {
		detIdx[i] = i
	}

	matchesA, unmatchedA, unmatchedDets := m.matchingCascade(tracks, dets, confirmed, detIdx)

	// Predict has already run, so "updated last frame" is TimeSinceUpdate 1.
	iouCandidates := append([]int(nil), unconfirmed...)
	var staleA []int
	for _, k := range unmatchedA {
		if tracks[k].TimeSinceUpdate == 1 {
			iouCandidates = append(iouCandidates, k)
		} else {
			staleA = append(staleA, k)
		}
	}

	matchesB, unmatchedB, unmatchedDets := m.minCostMatching(iouCost, m.maxIoU, tracks, dets, iouCandidates, unmatchedDets)

	matches = append(matchesA, matchesB...)
	seen := make(map[int]bool, len(staleA)+len(unmatchedB))
	for _, k := range append(staleA, unmatchedB...) {
		if !seen[k] {
			seen[k] = true
			unmatchedTracks = append(unmatchedTracks, k)
		}
	}
	return matches, unmatchedTracks, unmatchedDets
}

// matchingCascade matches trackIdx in tiers of increasing
// TimeSinceUpdate, so tracks seen most recently get first pick.
func (m *matcher) matchingCascade(tracks []*Track, dets []Detection, trackIdx, detIdx []int) (matches []match, unmatchedTracks, unmatchedDets []int) {
	unmatchedDets = detIdx
	for level := 0; level < m.cascadeDepth; level++ {
		if len(unmatchedDets) == 0 {
			break
		}
		var tier []int
		for _, k := range trackIdx {
			if tracks[k].TimeSinceUpdate == 1+level {
				tier = append(tier, k)
			}
		}
		if len(tier) == 0 {
			continue
		}
		var tierMatches []match
		tierMatches, _, unmatchedDets = m.minCostMatching(m.appearanceCost, m.maxCosine, tracks, dets, tier, unmatchedDets)
		matches = append(matches, tierMatches...)
	}

	matched := make(map[int]bool, len(matches))
	for _, mt := range matches {
		matched[mt.track] = true
	}
	for _, k := range trackIdx {
		if !matched[k] {
			unmatchedTracks = append(unmatchedTracks, k)
		}
	}
	return matches, unmatchedTracks, unmatchedDets
}

// minCostMatching solves one assignment tier. Costs above maxDistance are
// clamped just past it before solving, and any assigned pair above
// maxDistance is rejected afterwards. A solver error leaves the whole tier
// unmatched.
func (m *matcher) minCostMatching(costFn costFunc, maxDistance float64, tracks []*Track, dets []Detection, trackIdx, detIdx []int) (matches []match, unmatchedTracks, unmatchedDets []int) {
	if len(trackIdx) == 0 || len(detIdx) == 0 {
		return nil, trackIdx, detIdx
	}

	cost := costFn(tracks, dets, trackIdx, detIdx)
	for _, row := range cost {
		for j, c := range row {
			if c > maxDistance {
				row[j] = maxDistance + 1e-5
			}
		}
	}

	rowToCol, err := m.solver.Solve(cost)
	if err != nil {
		monitoring.Logf("[tracking] %s solver failed on %dx%d tier, leaving it unmatched: %v", m.solver.Name(), len(trackIdx), len(detIdx), err)
		return nil, trackIdx, detIdx
	}

	colAssigned := make([]bool, len(detIdx))
	for _, col := range rowToCol {
		if col >= 0 {
			colAssigned[col] = true
		}
	}
	for col, d := range detIdx {
		if !colAssigned[col] {
			unmatchedDets = append(unmatchedDets, d)
		}
	}
	for row, col := range rowToCol {
		if col < 0 {
			unmatchedTracks = append(unmatchedTracks, trackIdx[row])
		}
	}
	for row, col := range rowToCol {
		if col < 0 {
			continue
		}
		if cost[row][col] > maxDistance {
			unmatchedTracks = append(unmatchedTracks, trackIdx[row])
			unmatchedDets = append(unmatchedDets, detIdx[col])
			continue
		}
		matches = append(matches, match{track: trackIdx[row], det: detIdx[col]})
	}
	return matches, unmatchedTracks, unmatchedDets
}

// appearanceCost is the gallery cosine distance, with pairs outside the
// Mahalanobis gate set to gatedCost.
func (m *matcher) appearanceCost(tracks []*Track, dets []Detection, trackIdx, detIdx []int) [][]float64 {
	measurements := make([]kalman.Measurement, len(detIdx))
	for j, d := range detIdx {
		measurements[j] = dets[d].Box.XYAH()
	}
	threshold := kalman.GatingThreshold(m.onlyPosition)

	cost := make([][]float64, len(trackIdx))
	for i, k := range trackIdx {
		tr := tracks[k]
		row := make([]float64, len(detIdx))
		for j, d := range detIdx {
			row[j] = tr.gallery.Distance(dets[d].Feature)
		}

		gate, err := m.filter.GatingDistance(tr.kf, measurements, m.onlyPosition)
		if err != nil {
			monitoring.Debugf("[tracking] gating failed for track %d: %v", tr.ID, err)
			for j := range row {
				row[j] = gatedCost
			}
		} else {
			for j, g := range gate {
				if g > threshold {
					row[j] = gatedCost
				}
			}
		}
		cost[i] = row
	}
	return cost
}

// iouCost is 1 - IoU between the predicted track box and each detection.
// Tracks not updated in the previous frame get gatedCost.
func iouCost(tracks []*Track, dets []Detection, trackIdx, detIdx []int) [][]float64 {
	cost := make([][]float64, len(trackIdx))
	for i, k := range trackIdx {
		tr := tracks[k]
		row := make([]float64, len(detIdx))
		if tr.TimeSinceUpdate > 1 {
			for j := range row {
				row[j] = gatedCost
			}
			cost[i] = row
			continue
		}
		box := tr.Box()
		for j, d := range detIdx {
			row[j] = 1 - IoU(box, dets[d].Box)
		}
		cost[i] = row
	}
	return cost
}
