package assign

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var solvers = []Solver{JonkerVolgenant{}, KuhnMunkres{}}

func assignedCount(result []int) int {
	n := 0
	for _, j := range result {
		if j >= 0 {
			n++
		}
	}
	return n
}

func assertValidAssignment(t *testing.T, cost [][]float64, result []int) {
	t.Helper()
	require.Len(t, result, len(cost))
	seen := make(map[int]bool)
	for i, j := range result {
		if j < 0 {
			continue
		}
		assert.False(t, seen[j], "column %d assigned twice", j)
		seen[j] = true
		assert.False(t, IsForbidden(cost[i][j]), "row %d assigned to forbidden column %d", i, j)
	}
}

// ---------------------------------------------------------------------------
// Shared cases
// ---------------------------------------------------------------------------

func TestSolvers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		cost         [][]float64
		wantAssigned int
		wantCost     float64
		exactOnly    bool // contested rows; the reduction heuristic may settle lower
	}{
		{
			name:         "single element",
			cost:         [][]float64{{5}},
			wantAssigned: 1,
			wantCost:     5,
		},
		{
			// row0->col0 (1), row1->col1 (4), row2->col2 (5)
			name:         "square optimal",
			cost:         [][]float64{{1, 2, 3}, {4, 4, 6}, {9, 8, 5}},
			wantAssigned: 3,
			wantCost:     10,
		},
		{
			name:         "forbidden row stays unassigned",
			cost:         [][]float64{{1, 2}, {Forbidden, Forbidden}},
			wantAssigned: 1,
			wantCost:     1,
		},
		{
			name:         "more rows than columns",
			cost:         [][]float64{{1, 10}, {10, 1}, {5, 5}},
			wantAssigned: 2,
			wantCost:     2,
		},
		{
			// The only column goes to the cheapest row, not the first.
			name:         "later row is cheaper for a single column",
			cost:         [][]float64{{0.79}, {0.12}, {0.52}},
			wantAssigned: 1,
			wantCost:     0.12,
			exactOnly:    true,
		},
		{
			// row0->col0 (0.1), row2->col1 (0.05); row1 stays unassigned.
			name:         "surplus row in the middle",
			cost:         [][]float64{{0.1, 0.9}, {0.8, 0.2}, {0.3, 0.05}},
			wantAssigned: 2,
			wantCost:     0.15,
			exactOnly:    true,
		},
		{
			// row1->col0 (0.3), row2->col1 (0.1) beats keeping row0.
			name:         "later rows win around forbidden cells",
			cost:         [][]float64{{0.5, Forbidden}, {0.3, 0.9}, {Forbidden, 0.1}},
			wantAssigned: 2,
			wantCost:     0.4,
			exactOnly:    true,
		},
		{
			name:         "infinite cost is forbidden",
			cost:         [][]float64{{math.Inf(1), 0.4}, {0.2, math.Inf(1)}},
			wantAssigned: 2,
			wantCost:     0.6,
		},
		{
			name:         "more columns than rows",
			cost:         [][]float64{{10, 1, 5}, {5, 10, 1}},
			wantAssigned: 2,
			wantCost:     2,
		},
		{
			name:         "all zero",
			cost:         [][]float64{{0, 0}, {0, 0}},
			wantAssigned: 2,
			wantCost:     0,
		},
		{
			// (0,3)=1, (1,2)=2, (2,1)=3, (3,0)=4
			name:         "four by four",
			cost:         [][]float64{{10, 5, 7, 1}, {8, 9, 2, 6}, {7, 3, 11, 5}, {4, 12, 8, 9}},
			wantAssigned: 4,
			wantCost:     10,
		},
		{
			// Taking the cheap (0,0) pair would strand row 1.
			name:         "prefers more feasible matches",
			cost:         [][]float64{{0.1, 0.9}, {0.2, Forbidden}},
			wantAssigned: 2,
			wantCost:     1.1,
			exactOnly:    true,
		},
		{
			name:         "fractional distances",
			cost:         [][]float64{{0.31, 0.05, 0.7}, {0.02, 0.4, 0.9}, {0.6, 0.6, 0.11}},
			wantAssigned: 3,
			wantCost:     0.18,
		},
	}

	for _, s := range solvers {
		for _, tc := range cases {
			t.Run(s.Name()+"/"+tc.name, func(t *testing.T) {
				t.Parallel()
				result, err := s.Solve(tc.cost)
				require.NoError(t, err)
				assertValidAssignment(t, tc.cost, result)
				if tc.exactOnly && s.Name() != NameJonkerVolgenant {
					return
				}
				assert.Equal(t, tc.wantAssigned, assignedCount(result), "assignment %v", result)
				assert.InDelta(t, tc.wantCost, TotalCost(tc.cost, result), 1e-9, "assignment %v", result)
			})
		}
	}
}

func TestSolversEmpty(t *testing.T) {
	t.Parallel()
	for _, s := range solvers {
		result, err := s.Solve(nil)
		require.NoError(t, err, s.Name())
		assert.Empty(t, result, s.Name())

		result, err = s.Solve([][]float64{{}, {}})
		require.NoError(t, err, s.Name())
		assert.Equal(t, []int{-1, -1}, result, s.Name())
	}
}

func TestSolversRejectMalformed(t *testing.T) {
	t.Parallel()
	for _, s := range solvers {
		_, err := s.Solve([][]float64{{1, 2}, {3}})
		assert.True(t, errors.Is(err, ErrInfeasible), "%s ragged: %v", s.Name(), err)

		_, err = s.Solve([][]float64{{1, math.NaN()}})
		assert.True(t, errors.Is(err, ErrInfeasible), "%s NaN: %v", s.Name(), err)

		_, err = s.Solve([][]float64{{1}, {math.Inf(-1)}})
		assert.True(t, errors.Is(err, ErrInfeasible), "%s -Inf: %v", s.Name(), err)
	}
}

func randomCost(rng *rand.Rand, rows, cols int) [][]float64 {
	cost := make([][]float64, rows)
	for i := range cost {
		cost[i] = make([]float64, cols)
		for j := range cost[i] {
			cost[i][j] = math.Round(rng.Float64()*1000) / 1000
		}
	}
	return cost
}

func TestSolversStayValidOnRandomMatrices(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		cost := randomCost(rng, 1+rng.Intn(6), 1+rng.Intn(6))
		if trial%5 == 0 {
			cost[0][0] = Forbidden
		}

		jv, err := JonkerVolgenant{}.Solve(cost)
		require.NoError(t, err)
		km, err := KuhnMunkres{}.Solve(cost)
		require.NoError(t, err)

		assertValidAssignment(t, cost, jv)
		assertValidAssignment(t, cost, km)
		// JonkerVolgenant is exact: it never does worse than any valid assignment.
		if assignedCount(km) == assignedCount(jv) {
			assert.LessOrEqual(t, TotalCost(cost, jv), TotalCost(cost, km)+1e-9, "trial %d", trial)
		} else {
			assert.Greater(t, assignedCount(jv), assignedCount(km), "trial %d", trial)
		}
	}
}

// bruteForce enumerates every partial assignment and returns the best
// (most pairs, then least cost) pair count and total.
func bruteForce(cost [][]float64) (count int, total float64) {
	m := len(cost[0])
	used := make([]bool, m)
	bestCount, bestTotal := -1, 0.0

	var walk func(row, n int, sum float64)
	walk = func(row, n int, sum float64) {
		if row == len(cost) {
			if n > bestCount || (n == bestCount && sum < bestTotal-1e-12) {
				bestCount, bestTotal = n, sum
			}
			return
		}
		walk(row+1, n, sum)
		for j := 0; j < m; j++ {
			if used[j] || IsForbidden(cost[row][j]) {
				continue
			}
			used[j] = true
			walk(row+1, n+1, sum+cost[row][j])
			used[j] = false
		}
	}
	walk(0, 0, 0)
	return bestCount, bestTotal
}

func TestJonkerVolgenantMatchesBruteForce(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(23))

	for trial := 0; trial < 400; trial++ {
		rows, cols := 1+rng.Intn(6), 1+rng.Intn(6)
		if trial%3 == 0 {
			// Tall matrices, where surplus rows must stay unassigned.
			rows = cols + 1 + rng.Intn(3)
		}
		cost := randomCost(rng, rows, cols)
		if trial%2 == 1 {
			for i := range cost {
				for j := range cost[i] {
					switch r := rng.Float64(); {
					case r < 0.15:
						cost[i][j] = Forbidden
					case r < 0.25:
						cost[i][j] = math.Inf(1)
					}
				}
			}
		}
		if trial%7 == 0 {
			for i := range cost {
				for j := range cost[i] {
					if !IsForbidden(cost[i][j]) {
						cost[i][j] -= 0.5
					}
				}
			}
		}

		got, err := JonkerVolgenant{}.Solve(cost)
		require.NoError(t, err, "trial %d", trial)
		assertValidAssignment(t, cost, got)

		wantCount, wantTotal := bruteForce(cost)
		assert.Equal(t, wantCount, assignedCount(got), "trial %d: %v -> %v", trial, cost, got)
		assert.InDelta(t, wantTotal, TotalCost(cost, got), 1e-9, "trial %d: %v -> %v", trial, cost, got)
	}
}

// When every row has its own clearly cheapest column both strategies must
// find that pairing.
func TestSolversAgreeWhenRowsAreSeparated(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 30; trial++ {
		n := 1 + rng.Intn(7)
		perm := rng.Perm(n)
		cost := make([][]float64, n)
		for i := range cost {
			cost[i] = make([]float64, n)
			for j := range cost[i] {
				cost[i][j] = 0.5 + rng.Float64()/2
			}
			cost[i][perm[i]] = rng.Float64() / 10
		}

		jv, err := JonkerVolgenant{}.Solve(cost)
		require.NoError(t, err)
		km, err := KuhnMunkres{}.Solve(cost)
		require.NoError(t, err)

		assert.Equal(t, perm, jv, "trial %d", trial)
		assert.Equal(t, perm, km, "trial %d", trial)
	}
}

func TestForName(t *testing.T) {
	t.Parallel()

	s, err := ForName(NameJonkerVolgenant)
	require.NoError(t, err)
	assert.Equal(t, NameJonkerVolgenant, s.Name())

	s, err = ForName("")
	require.NoError(t, err)
	assert.Equal(t, NameJonkerVolgenant, s.Name())

	s, err = ForName(NameKuhnMunkres)
	require.NoError(t, err)
	assert.Equal(t, NameKuhnMunkres, s.Name())

	_, err = ForName("greedy")
	assert.Error(t, err)
}
