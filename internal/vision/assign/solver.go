// Package assign solves the min-cost bipartite assignment problems built by
// the association engine.
//
// The cost functions (appearance, IoU, gating) live with the tracker; this
// package only sees a cost matrix. Solver is the strategy interface so the
// two are swappable independently.
package assign

import (
	"errors"
	"fmt"
	"math"
)

// Forbidden marks a pair that must never be assigned. Any cost at or above
// this value is treated as forbidden.
const Forbidden = 1e18

// ErrInfeasible is returned for cost matrices a solver cannot work with:
// ragged rows, NaN or -Inf entries. Callers treat it as "no matches".
var ErrInfeasible = errors.New("assign: infeasible cost matrix")

// Solver computes a minimum-cost assignment for a rows x cols cost matrix.
// The result has one entry per row: the assigned column, or -1. Forbidden
// pairs are never returned.
type Solver interface {
	Solve(cost [][]float64) ([]int, error)
	Name() string
}

// Names of the built-in solvers, matching the tuning config values.
const (
	NameJonkerVolgenant = "jonker_volgenant"
	NameKuhnMunkres     = "kuhn_munkres"
)

// ForName returns the solver registered under name.
func ForName(name string) (Solver, error) {
	switch name {
	case "", NameJonkerVolgenant:
		return JonkerVolgenant{}, nil
	case NameKuhnMunkres:
		return KuhnMunkres{}, nil
	}
	return nil, fmt.Errorf("unknown assignment solver %q", name)
}

// IsForbidden reports whether c marks a forbidden pair.
func IsForbidden(c float64) bool {
	return c >= Forbidden
}

// validate checks the matrix is rectangular with no NaN or -Inf entries,
// returning its dimensions. +Inf is a forbidden pair.
func validate(cost [][]float64) (n, m int, err error) {
	n = len(cost)
	if n == 0 {
		return 0, 0, nil
	}
	m = len(cost[0])
	for i, row := range cost {
		if len(row) != m {
			return 0, 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInfeasible, i, len(row), m)
		}
		for j, c := range row {
			if math.IsNaN(c) || math.IsInf(c, -1) {
				return 0, 0, fmt.Errorf("%w: %v at (%d, %d)", ErrInfeasible, c, i, j)
			}
		}
	}
	return n, m, nil
}

func unassigned(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

// TotalCost sums the cost of an assignment, ignoring unassigned rows.
func TotalCost(cost [][]float64, assignment []int) float64 {
	var total float64
	for i, j := range assignment {
		if j >= 0 {
			total += cost[i][j]
		}
	}
	return total
}
