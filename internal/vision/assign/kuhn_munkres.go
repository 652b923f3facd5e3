package assign

import (
	"math"

	hungarian "github.com/arthurkushman/go-hungarian"
)

// KuhnMunkres delegates to github.com/arthurkushman/go-hungarian, a
// row/column reduction solver that maximises. Costs are flipped into
// scores: every allowed pair scores ceiling-cost, forbidden and padding
// pairs score 0.
//
// The library is a heuristic. It finds the optimum whenever each row has
// a distinct cheapest column, which is the common case for well separated
// tracks, but may settle for fewer or costlier matches on contested
// matrices and is not deterministic on ties. Its proposal is sanitised so
// the result never contains a forbidden pair or a column used twice.
type KuhnMunkres struct{}

// Name implements Solver.
func (KuhnMunkres) Name() string { return NameKuhnMunkres }

// Solve implements Solver.
func (KuhnMunkres) Solve(cost [][]float64) ([]int, error) {
	n, m, err := validate(cost)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if m == 0 {
		return unassigned(n), nil
	}

	dim, k := n, m
	if m > dim {
		dim, k = m, n
	}

	maxCost := 0.0
	for _, row := range cost {
		for _, c := range row {
			if !IsForbidden(c) && math.Abs(c) > maxCost {
				maxCost = math.Abs(c)
			}
		}
	}
	// One extra match must always beat the cheapest k-match alternative.
	ceiling := 2*float64(k)*maxCost + 1
	scores := make([][]float64, dim)
	for i := range scores {
		scores[i] = make([]float64, dim)
		if i >= n {
			continue
		}
		for j := 0; j < m; j++ {
			if !IsForbidden(cost[i][j]) {
				scores[i][j] = ceiling - cost[i][j]
			}
		}
	}

	proposal := hungarian.SolveMax(scores)

	result := unassigned(n)
	used := make([]bool, m)
	for row := 0; row < n; row++ {
		best := -1
		for col := range proposal[row] {
			if col >= m || used[col] || IsForbidden(cost[row][col]) {
				continue
			}
			if best < 0 || cost[row][col] < cost[row][best] || (cost[row][col] == cost[row][best] && col < best) {
				best = col
			}
		}
		if best >= 0 {
			result[row] = best
			used[best] = true
		}
	}
	return result, nil
}
