// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagnostics estimates convergence diagnostics for recorded
// chains. The sampler's stop rule consumes the effective sample size; the
// estimate itself is intentionally self-contained so result analysis can
// reuse it offline.
package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// EffectiveSampleSize estimates the number of effectively independent
// samples in a recorded trajectory.
//
// # Description
//
// Per dimension, the integrated autocorrelation time is estimated with
// Geyer's initial positive sequence: consecutive autocorrelation pairs
// rho(2k) + rho(2k+1) are summed while they stay positive, which is the
// standard truncation rule for reversible chains. The reported ESS is the
// minimum across dimensions, matching the conservative convention used by
// ensemble convergence monitors.
//
// Inputs:
//   - samples: recorded trajectory, one row per sample. Rows must share a
//     common length.
//
// Outputs:
//   - int: estimated ESS, clamped to [0, len(samples)]. Zero when fewer
//     than 4 samples exist or a dimension has zero variance.
func EffectiveSampleSize(samples [][]float64) int {
	n := len(samples)
	if n < 4 {
		return 0
	}
	dim := len(samples[0])
	minESS := math.Inf(1)
	series := make([]float64, n)
	for d := 0; d < dim; d++ {
		for i, row := range samples {
			series[i] = row[d]
		}
		ess := seriesESS(series)
		if ess < minESS {
			minESS = ess
		}
	}
	if math.IsInf(minESS, 1) {
		return 0
	}
	if minESS > float64(n) {
		minESS = float64(n)
	}
	return int(minESS)
}

func seriesESS(x []float64) float64 {
	n := len(x)
	mean := stat.Mean(x, nil)
	variance := stat.Variance(x, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}

	// Autocorrelation at the lags the truncation rule consumes, biased
	// normalization (divide by n) as is standard for spectral estimates.
	rho := func(lag int) float64 {
		var sum float64
		for i := 0; i+lag < n; i++ {
			sum += (x[i] - mean) * (x[i+lag] - mean)
		}
		return sum / float64(n) / variance
	}

	var tau float64 = 1
	for lag := 1; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag + 1)
		if pair <= 0 {
			break
		}
		tau += 2 * pair
	}
	return float64(n) / tau
}
