package assign

import (
	"fmt"
	"math"
)

// JonkerVolgenant is an exact solver: it assigns as many allowed pairs as
// possible and, among those assignments, returns one of least total cost.
//
// It works on the rectangular matrix directly, transposed so rows never
// outnumber columns, and grows the matching one row at a time along
// shortest augmenting paths (Dijkstra over reduced costs with row and
// column potentials). O(k^2 * max(n, m)) for k = min(n, m).
type JonkerVolgenant struct{}

// Name implements Solver.
func (JonkerVolgenant) Name() string { return NameJonkerVolgenant }

// Solve implements Solver.
func (JonkerVolgenant) Solve(cost [][]float64) ([]int, error) {
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

	transposed := n > m
	c := boundedCosts(cost, n, m, transposed)

	colForRow, err := shortestAugmentingPaths(c)
	if err != nil {
		return nil, err
	}

	result := unassigned(n)
	for r, col := range colForRow {
		row := r
		if transposed {
			row, col = col, r
		}
		if !IsForbidden(cost[row][col]) {
			result[row] = col
		}
	}
	return result, nil
}

// boundedCosts copies cost into a matrix with no more rows than columns and
// replaces forbidden cells by bigM. bigM exceeds the spread of any
// assignment over allowed cells, so an assignment with fewer forbidden
// cells is always cheaper than one with more.
func boundedCosts(cost [][]float64, n, m int, transposed bool) [][]float64 {
	var spread float64
	for _, row := range cost {
		for _, v := range row {
			if !IsForbidden(v) {
				spread = math.Max(spread, math.Abs(v))
			}
		}
	}
	k := n
	if m < k {
		k = m
	}
	bigM := float64(k+1) * (2*spread + 1)

	rows, cols := n, m
	if transposed {
		rows, cols = m, n
	}
	c := make([][]float64, rows)
	for i := range c {
		c[i] = make([]float64, cols)
		for j := range c[i] {
			v := cost[i][j]
			if transposed {
				v = cost[j][i]
			}
			if IsForbidden(v) {
				v = bigM
			}
			c[i][j] = v
		}
	}
	return c
}

// shortestAugmentingPaths returns the minimum-cost column for every row of
// c, which must be finite with len(c) <= len(c[0]).
func shortestAugmentingPaths(c [][]float64) ([]int, error) {
	rows, cols := len(c), len(c[0])

	u := make([]float64, rows) // row potentials
	v := make([]float64, cols) // column potentials
	colForRow := unassigned(rows)
	rowForCol := unassigned(cols)

	dist := make([]float64, cols)   // shortest reduced distance to each column
	prev := make([]int, cols)       // row preceding each column on the path
	rowSeen := make([]bool, rows)   // rows scanned in this search
	colDone := make([]bool, cols)   // columns with final distance
	pending := make([]int, 0, cols) // columns not yet final

	for start := 0; start < rows; start++ {
		for j := range dist {
			dist[j] = math.Inf(1)
			colDone[j] = false
		}
		for i := range rowSeen {
			rowSeen[i] = false
		}
		pending = pending[:0]
		for j := cols - 1; j >= 0; j-- {
			pending = append(pending, j)
		}

		// Grow the search tree until it reaches a free column.
		row, sink, reach := start, -1, 0.0
		for sink < 0 {
			rowSeen[row] = true
			best, bestAt := math.Inf(1), -1
			for at, j := range pending {
				if d := reach + c[row][j] - u[row] - v[j]; d < dist[j] {
					dist[j] = d
					prev[j] = row
				}
				if dist[j] < best || (dist[j] == best && rowForCol[j] < 0) {
					best, bestAt = dist[j], at
				}
			}
			if bestAt < 0 || math.IsInf(best, 0) || math.IsNaN(best) {
				return nil, fmt.Errorf("%w: no augmenting path from row %d", ErrInfeasible, start)
			}

			reach = best
			j := pending[bestAt]
			colDone[j] = true
			pending[bestAt] = pending[len(pending)-1]
			pending = pending[:len(pending)-1]

			if rowForCol[j] < 0 {
				sink = j
			} else {
				row = rowForCol[j]
			}
		}

		// Keep reduced costs non-negative for the next search.
		u[start] += reach
		for i := range rowSeen {
			if rowSeen[i] && i != start {
				u[i] += reach - dist[colForRow[i]]
			}
		}
		for j := range colDone {
			if colDone[j] {
				v[j] -= reach - dist[j]
			}
		}
		if math.IsInf(u[start], 0) || math.IsNaN(u[start]) {
			return nil, fmt.Errorf("%w: potential diverged at row %d", ErrInfeasible, start)
		}

		// Flip the path from sink back to start.
		for j := sink; ; {
			i := prev[j]
			rowForCol[j] = i
			colForRow[i], j = j, colForRow[i]
			if i == start {
				break
			}
		}
	}
	return colForRow, nil
}
