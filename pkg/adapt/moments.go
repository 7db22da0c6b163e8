// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adapt maintains the adaptive proposal state of the cold chain:
// a running estimate of the posterior covariance and its per-group SVD
// factorization consumed by the adaptive jump kernels.
//
// Adaptation is strictly unidirectional. Only the coldest chain accumulates
// moments and recomputes the covariance; hotter chains install broadcast
// copies and re-derive factorizations from them. No chain ever computes
// these quantities independently, which keeps the ensemble's proposal
// kernels consistent.
package adapt

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// RunningMoments accumulates an online mean and scatter matrix over the
// cold chain's trajectory.
//
// The update is the standard Welford recurrence: for the it-th sample,
//
//	diff = x - mu
//	mu  += diff / it
//	M2  += outer(diff, x - mu)
//
// so covariance = M2 / (count - 1). State persists and grows monotonically
// across the whole run; Reset is called only at the start of the first
// accumulation window.
//
// Thread Safety: not safe for concurrent use. Owned by one chain.
type RunningMoments struct {
	dim   int
	count int
	mu    []float64
	m2    *mat.Dense
	diff  []float64 // scratch
	post  []float64 // scratch
}

// NewRunningMoments returns zeroed moments for a dim-dimensional problem.
func NewRunningMoments(dim int) *RunningMoments {
	return &RunningMoments{
		dim:  dim,
		mu:   make([]float64, dim),
		m2:   mat.NewDense(dim, dim, nil),
		diff: make([]float64, dim),
		post: make([]float64, dim),
	}
}

// Reset zeroes the mean, scatter matrix, and sample count.
func (r *RunningMoments) Reset() {
	r.count = 0
	for i := range r.mu {
		r.mu[i] = 0
	}
	r.m2.Zero()
}

// Count returns the number of accumulated samples.
func (r *RunningMoments) Count() int { return r.count }

// Push folds one sample into the running moments.
func (r *RunningMoments) Push(x []float64) error {
	if len(x) != r.dim {
		return fmt.Errorf("adapt: sample has dim %d, want %d", len(x), r.dim)
	}
	r.count++
	it := float64(r.count)
	for j := 0; j < r.dim; j++ {
		r.diff[j] = x[j] - r.mu[j]
		r.mu[j] += r.diff[j] / it
		r.post[j] = x[j] - r.mu[j]
	}
	for i := 0; i < r.dim; i++ {
		for j := 0; j < r.dim; j++ {
			r.m2.Set(i, j, r.m2.At(i, j)+r.diff[i]*r.post[j])
		}
	}
	return nil
}

// Mean returns a copy of the current mean vector.
func (r *RunningMoments) Mean() []float64 {
	out := make([]float64, r.dim)
	copy(out, r.mu)
	return out
}

// Covariance writes the sample covariance M2/(count-1) into dst.
// Requires at least two accumulated samples.
func (r *RunningMoments) Covariance(dst *mat.SymDense) error {
	if r.count < 2 {
		return fmt.Errorf("adapt: covariance needs >= 2 samples, have %d", r.count)
	}
	if n := dst.SymmetricDim(); n != r.dim {
		return fmt.Errorf("adapt: dst has dim %d, want %d", n, r.dim)
	}
	inv := 1 / float64(r.count-1)
	for i := 0; i < r.dim; i++ {
		for j := i; j < r.dim; j++ {
			// Symmetrize: the scatter matrix accumulates tiny asymmetry
			// from floating point, the estimate must not.
			v := 0.5 * (r.m2.At(i, j) + r.m2.At(j, i)) * inv
			dst.SetSym(i, j, v)
		}
	}
	return nil
}
