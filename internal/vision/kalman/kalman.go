// Package kalman implements the constant-velocity motion model used to
// predict and correct track positions in bounding-box space.
//
// The 8-dimensional state is (cx, cy, a, h, vcx, vcy, va, vh): box centre,
// aspect ratio (width / height), height, and their per-frame velocities.
// Process and observation noise are scaled by the current height estimate,
// so larger (closer) objects tolerate more absolute motion.
//
// All matrix work uses gonum. The correction step and the gating distance
// both go through a Cholesky factorisation of the projected covariance
// instead of an explicit inverse.
package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// MeasurementDim is the size of an observation (cx, cy, a, h).
	MeasurementDim = 4
	// StateDim is the size of the state vector (position + velocity).
	StateDim = 2 * MeasurementDim
)

// Chi2Inv95 holds the 0.95 quantile of the chi-square distribution for
// 1..9 degrees of freedom. Used as the Mahalanobis gating threshold.
var Chi2Inv95 = map[int]float64{
	1: 3.8415,
	2: 5.9915,
	3: 7.8147,
	4: 9.4877,
	5: 11.070,
	6: 12.592,
	7: 14.067,
	8: 15.507,
	9: 16.919,
}

// ErrNotPositiveDefinite is returned when the projected (innovation)
// covariance cannot be Cholesky-factorised, or a correction step produced a
// non-finite or negative-variance state. Callers treat the track as lost.
var ErrNotPositiveDefinite = errors.New("kalman: covariance is not positive definite")

// Measurement is an observed box in (cx, cy, aspect, height) form.
type Measurement [MeasurementDim]float64

// State is a track's mean and covariance.
type State struct {
	Mean [StateDim]float64
	Cov  *mat.SymDense
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Mean: s.Mean}
	if s.Cov != nil {
		out.Cov = mat.NewSymDense(StateDim, nil)
		out.Cov.CopySym(s.Cov)
	}
	return out
}

// Box returns the (cx, cy, a, h) portion of the mean.
func (s State) Box() Measurement {
	var m Measurement
	copy(m[:], s.Mean[:MeasurementDim])
	return m
}

// Filter holds the fixed motion and observation matrices plus the noise
// weights. It is stateless between calls and safe for concurrent use.
type Filter struct {
	stdWeightPosition float64
	stdWeightVelocity float64

	motion *mat.Dense // F, StateDim x StateDim
	update *mat.Dense // H, MeasurementDim x StateDim
}

// NewFilter builds a filter with the given position / velocity noise
// weights (relative to box height). A dt of one frame is assumed.
func NewFilter(stdWeightPosition, stdWeightVelocity float64) *Filter {
	motion := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		motion.Set(i, i, 1)
	}
	for i := 0; i < MeasurementDim; i++ {
		motion.Set(i, MeasurementDim+i, 1)
	}

	update := mat.NewDense(MeasurementDim, StateDim, nil)
	for i := 0; i < MeasurementDim; i++ {
		update.Set(i, i, 1)
	}

	return &Filter{
		stdWeightPosition: stdWeightPosition,
		stdWeightVelocity: stdWeightVelocity,
		motion:            motion,
		update:            update,
	}
}

// Initiate creates a state from an unassociated measurement. Velocities
// start at zero with high uncertainty.
func (f *Filter) Initiate(m Measurement) State {
	var s State
	copy(s.Mean[:MeasurementDim], m[:])

	h := m[3]
	std := [StateDim]float64{
		2 * f.stdWeightPosition * h,
		2 * f.stdWeightPosition * h,
		1e-2,
		2 * f.stdWeightPosition * h,
		10 * f.stdWeightVelocity * h,
		10 * f.stdWeightVelocity * h,
		1e-5,
		10 * f.stdWeightVelocity * h,
	}
	s.Cov = diagSym(std[:])
	return s
}

// Predict advances s by one frame under the constant-velocity model and
// returns the new state. s is not modified.
func (f *Filter) Predict(s State) State {
	h := s.Mean[3]
	std := [StateDim]float64{
		f.stdWeightPosition * h,
		f.stdWeightPosition * h,
		1e-2,
		f.stdWeightPosition * h,
		f.stdWeightVelocity * h,
		f.stdWeightVelocity * h,
		1e-5,
		f.stdWeightVelocity * h,
	}

	mean := mat.NewVecDense(StateDim, nil)
	mean.MulVec(f.motion, mat.NewVecDense(StateDim, s.Mean[:]))

	// P' = F P F^T + Q
	var fp, fpf mat.Dense
	fp.Mul(f.motion, s.Cov)
	fpf.Mul(&fp, f.motion.T())

	cov := symmetrize(&fpf)
	for i, v := range std {
		cov.SetSym(i, i, cov.At(i, i)+v*v)
	}

	var out State
	copy(out.Mean[:], mean.RawVector().Data)
	out.Cov = cov
	return out
}

// Project maps s into measurement space and adds observation noise,
// returning the projected mean and innovation covariance.
func (f *Filter) Project(s State) (*mat.VecDense, *mat.SymDense) {
	h := s.Mean[3]
	std := [MeasurementDim]float64{
		f.stdWeightPosition * h,
		f.stdWeightPosition * h,
		1e-1,
		f.stdWeightPosition * h,
	}

	mean := mat.NewVecDense(MeasurementDim, nil)
	mean.MulVec(f.update, mat.NewVecDense(StateDim, s.Mean[:]))

	var hp, hph mat.Dense
	hp.Mul(f.update, s.Cov)
	hph.Mul(&hp, f.update.T())

	cov := symmetrize(&hph)
	for i, v := range std {
		cov.SetSym(i, i, cov.At(i, i)+v*v)
	}
	return mean, cov
}

// Update runs the correction step with measurement m and returns the
// corrected state. On ErrNotPositiveDefinite the returned state must be
// discarded.
func (f *Filter) Update(s State, m Measurement) (State, error) {
	projMean, projCov := f.Project(s)

	var chol mat.Cholesky
	if ok := chol.Factorize(projCov); !ok {
		return State{}, ErrNotPositiveDefinite
	}

	// K = P H^T S^-1, solved as S X = (P H^T)^T with X = K^T.
	var pht mat.Dense
	pht.Mul(s.Cov, f.update.T())

	var gainT mat.Dense
	if err := chol.SolveTo(&gainT, pht.T()); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
	}

	innovation := mat.NewVecDense(MeasurementDim, nil)
	innovation.SubVec(mat.NewVecDense(MeasurementDim, m[:]), projMean)

	delta := mat.NewVecDense(StateDim, nil)
	delta.MulVec(gainT.T(), innovation)

	var out State
	for i := 0; i < StateDim; i++ {
		out.Mean[i] = s.Mean[i] + delta.AtVec(i)
	}

	// P' = P - K S K^T
	var ks, ksk mat.Dense
	ks.Mul(gainT.T(), projCov)
	ksk.Mul(&ks, &gainT)

	var cov mat.Dense
	cov.Sub(s.Cov, &ksk)
	out.Cov = symmetrize(&cov)

	if !isFinite(out) {
		return State{}, ErrNotPositiveDefinite
	}
	return out, nil
}

// GatingDistance returns the squared Mahalanobis distance between s and
// each candidate measurement. With onlyPosition only (cx, cy) is compared,
// and the matching threshold is Chi2Inv95[2] instead of Chi2Inv95[4].
func (f *Filter) GatingDistance(s State, candidates []Measurement, onlyPosition bool) ([]float64, error) {
	projMean, projCov := f.Project(s)

	dim := MeasurementDim
	if onlyPosition {
		dim = 2
		sub := mat.NewSymDense(2, nil)
		for i := 0; i < 2; i++ {
			for j := i; j < 2; j++ {
				sub.SetSym(i, j, projCov.At(i, j))
			}
		}
		projCov = sub
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(projCov); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	out := make([]float64, len(candidates))
	d := mat.NewVecDense(dim, nil)
	var z mat.VecDense
	for k, c := range candidates {
		for i := 0; i < dim; i++ {
			d.SetVec(i, c[i]-projMean.AtVec(i))
		}
		// Solve L z = d; the squared norm of z is d^T S^-1 d.
		if err := z.SolveVec(&lower, d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
		}
		out[k] = mat.Dot(&z, &z)
	}
	return out, nil
}

// GatingThreshold returns the chi-square 95% gate for the given mode.
func GatingThreshold(onlyPosition bool) float64 {
	if onlyPosition {
		return Chi2Inv95[2]
	}
	return Chi2Inv95[MeasurementDim]
}

func diagSym(std []float64) *mat.SymDense {
	cov := mat.NewSymDense(len(std), nil)
	for i, v := range std {
		cov.SetSym(i, i, v*v)
	}
	return cov
}

// symmetrize averages a with its transpose to absorb round-off drift.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out
}

// isFinite rejects NaN/Inf anywhere in the mean and NaN/Inf or negative
// variances on the covariance diagonal.
func isFinite(s State) bool {
	for _, v := range s.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < StateDim; i++ {
		v := s.Cov.At(i, i)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}
