// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sampleforge/ptmcmc/pkg/sampler"
)

// buildTarget returns a built-in demo target and a start point for it.
//
// Both demos use a flat box prior, so the tempered posterior stays
// proper at every rung of the ladder including the hot-mode chain.
func buildTarget(name string, dim int) (sampler.Target, []float64, error) {
	switch name {
	case "gaussian":
		return gaussianTarget(dim)
	case "rosenbrock":
		return rosenbrockTarget(dim)
	default:
		return sampler.Target{}, nil, fmt.Errorf("unknown target %q, want 'gaussian' or 'rosenbrock'", name)
	}
}

// gaussianTarget is a standard multivariate normal on a [-10, 10] box.
func gaussianTarget(dim int) (sampler.Target, []float64, error) {
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, 1)
	}
	normal, ok := distmv.NewNormal(make([]float64, dim), cov, nil)
	if !ok {
		return sampler.Target{}, nil, fmt.Errorf("gaussian target: covariance not positive definite")
	}
	prior := boxPrior(dim, -10, 10)

	start := make([]float64, dim)
	for i := range start {
		start[i] = 1
	}
	return sampler.Target{
		LogLikelihood: normal.LogProb,
		LogPrior:      prior,
	}, start, nil
}

// rosenbrockTarget is the banana-shaped Rosenbrock density on a [-5, 10]
// box, a standard stress test for adaptive proposals.
func rosenbrockTarget(dim int) (sampler.Target, []float64, error) {
	if dim < 2 {
		return sampler.Target{}, nil, fmt.Errorf("rosenbrock target needs ndim >= 2, got %d", dim)
	}
	prior := boxPrior(dim, -5, 10)
	logLike := func(x []float64) float64 {
		var sum float64
		for i := 0; i+1 < len(x); i++ {
			a := x[i+1] - x[i]*x[i]
			b := 1 - x[i]
			sum += 100*a*a + b*b
		}
		return -sum
	}
	return sampler.Target{
		LogLikelihood: logLike,
		LogPrior:      prior,
	}, make([]float64, dim), nil
}

// boxPrior is a flat prior on [min, max] per dimension: a constant log
// density inside the box and -Inf outside.
func boxPrior(dim int, min, max float64) func(x []float64) float64 {
	u := distuv.Uniform{Min: min, Max: max}
	return func(x []float64) float64 {
		var sum float64
		for _, v := range x {
			lp := u.LogProb(v)
			if math.IsInf(lp, -1) {
				return math.Inf(-1)
			}
			sum += lp
		}
		return sum
	}
}
