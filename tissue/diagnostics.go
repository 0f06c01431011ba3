package tissue

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GridMean returns the mean of one state slot across every cell.
func GridMean(state []float64, nx, ny, states, slot int) float64 {
	n := nx * ny
	vals := make([]float64, n)
	for c := 0; c < n; c++ {
		vals[c] = state[c*states+slot]
	}
	return floats.Sum(vals) / float64(n)
}

// GridVariance returns the population variance of one state slot across
// every cell, used by the diffusion-convergence property (scenario 2: two
// coupled cells must converge to within 1e-3 of their mean).
func GridVariance(state []float64, nx, ny, states, slot int) float64 {
	n := nx * ny
	vals := make([]float64, n)
	for c := 0; c < n; c++ {
		vals[c] = state[c*states+slot]
	}
	mean := floats.Sum(vals) / float64(n)
	var sumSq float64
	for _, v := range vals {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(n)
}

// TotalMass sums one state slot across every cell, via a gonum VecDense —
// used by the mass-conservation test for any state component whose RHS
// sums to zero by construction (a generator property, §8).
func TotalMass(state []float64, nx, ny, states, slot int) float64 {
	n := nx * ny
	vals := make([]float64, n)
	for c := 0; c < n; c++ {
		vals[c] = state[c*states+slot]
	}
	return mat.Sum(mat.NewVecDense(n, vals))
}

// FirstNonFinite scans every cell's slot-0 (membrane potential) and
// reports the index of the first non-finite value, or -1 if the whole grid
// is finite. This is strictly a diagnostic: §9's Open Question keeps the
// halt decision itself scoped to cell 0 only (see (*Integrator[R]).checkHalt);
// this helper exists so a test or a caller inspecting a halted run's
// state_out can answer "how far did it spread" without widening the
// documented halt semantics.
func FirstNonFinite(state []float64, nx, ny, states int) int {
	n := nx * ny
	for c := 0; c < n; c++ {
		v := state[c*states+0]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return c
		}
	}
	return -1
}
