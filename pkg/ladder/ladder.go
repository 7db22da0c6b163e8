// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ladder computes the temperature ladder for a parallel tempering
// ensemble.
//
// The ladder assigns one temperature per chain, ascending from Tmin. The
// coldest chain (T = Tmin, conventionally 1) samples the true posterior;
// hotter chains sample progressively flattened versions of it so the
// ensemble can hop between modes via temperature swaps.
package ladder

import (
	"fmt"
	"math"
)

// HotTemperature is the override applied to the highest-rank chain when
// hot-chain mode is enabled. At this temperature the tempered likelihood is
// numerically flat, so the chain effectively samples from the prior.
const HotTemperature = 1e80

// Geometric returns a geometrically spaced temperature ladder.
//
// # Description
//
// Produces nchain ascending temperatures with ladder[0] == tmin. The step
// ratio r is chosen two ways:
//
//   - tmax <= 0 (unspecified): r = 1 + sqrt(2/ndim), a heuristic tuned to
//     target roughly 25% pairwise swap acceptance.
//   - tmax > 0: r = (tmax/tmin)^(1/(nchain-1)), so ladder[nchain-1] == tmax.
//
// A single-chain ensemble always gets the ladder [1].
//
// Inputs:
//   - ndim: problem dimensionality. Must be >= 1.
//   - nchain: number of cooperating chains. Must be >= 1.
//   - tmin: coldest temperature. Must be > 0.
//   - tmax: hottest temperature, or <= 0 to use the spacing heuristic.
//
// Outputs:
//   - []float64: strictly increasing ladder of length nchain.
//   - error: non-nil on invalid inputs.
func Geometric(ndim, nchain int, tmin, tmax float64) ([]float64, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("ladder: ndim must be >= 1, got %d", ndim)
	}
	if nchain < 1 {
		return nil, fmt.Errorf("ladder: nchain must be >= 1, got %d", nchain)
	}
	if tmin <= 0 {
		return nil, fmt.Errorf("ladder: tmin must be > 0, got %g", tmin)
	}
	if tmax > 0 && tmax <= tmin {
		return nil, fmt.Errorf("ladder: tmax %g must exceed tmin %g", tmax, tmin)
	}

	if nchain == 1 {
		return []float64{1}, nil
	}

	var step float64
	if tmax <= 0 {
		step = 1 + math.Sqrt(2/float64(ndim))
	} else {
		step = math.Exp(math.Log(tmax/tmin) / float64(nchain-1))
	}

	out := make([]float64, nchain)
	for i := range out {
		out[i] = tmin * math.Pow(step, float64(i))
	}
	return out, nil
}
