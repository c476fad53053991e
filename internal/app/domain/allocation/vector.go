// Package allocation defines the weight vector domain: simplex-constrained
// allocation percentages and the reward/acceptance contracts used by the
// optimizer.
package allocation

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance used when checking that a weight vector sums to 1.
const Epsilon = 1e-9

// WeightVector holds one allocation weight per slot (service provider,
// upline tiers, reserve). A valid vector lies on the probability simplex:
// every element in [0,1] and the elements summing to 1 within Epsilon.
type WeightVector []float64

// Validate reports whether the vector satisfies the simplex constraint.
func (w WeightVector) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("weight vector is empty")
	}
	var sum float64
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %d is not a finite number", i)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %d out of range [0,1]: %v", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > Epsilon {
		return fmt.Errorf("weights sum to %v, want 1", sum)
	}
	return nil
}

// Clone returns an independent copy of the vector.
func (w WeightVector) Clone() WeightVector {
	if w == nil {
		return nil
	}
	out := make(WeightVector, len(w))
	copy(out, w)
	return out
}

// Sum returns the total of all elements.
func (w WeightVector) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Uniform returns a vector of n equal weights.
func Uniform(n int) WeightVector {
	if n <= 0 {
		return nil
	}
	out := make(WeightVector, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// Project clamps every element to [0,1] and renormalizes so the elements sum
// to exactly 1. Clamping alone breaks the sum-to-1 invariant, which is why
// both steps are always applied together. A vector that clamps to all zeros
// projects to the uniform vector.
func (w WeightVector) Project() WeightVector {
	out := make(WeightVector, len(w))
	var sum float64
	for i, v := range w {
		switch {
		case v < 0 || math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		}
		out[i] = v
		sum += v
	}
	if sum <= 0 {
		return Uniform(len(w))
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
