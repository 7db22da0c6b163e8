// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proposal defines the jump proposal contract for the parallel
// tempering sampler, the weighted randomized proposal cycle that schedules
// kernels, and the built-in adaptive kernels (AM, SCAM, DE).
//
// A proposal maps the chain's current point to a candidate point plus the
// log Hastings correction for any asymmetry in the move. Kernels read the
// adaptation state (covariance factors, trajectory, DE buffer) through a
// Context; they never own it.
package proposal

import (
	"math/rand/v2"

	"github.com/sampleforge/ptmcmc/pkg/adapt"
)

// Context carries the per-draw sampling state a kernel may consult.
//
// All fields are read-only for kernels. Chain and DEBuffer expose the
// recorded trajectory and differential evolution history as row vectors;
// either may be empty early in a run.
type Context struct {
	// Iter is the current iteration number.
	Iter int

	// Beta is the chain's inverse temperature 1/T.
	Beta float64

	// Model exposes the committed covariance and per-group (U, S) factors.
	Model *adapt.Model

	// Accepted is the chain's cumulative accepted-step count.
	Accepted int64

	// Chain is the recorded (thinned) trajectory so far, one row per sample.
	Chain [][]float64

	// DEBuffer is the differential evolution history window. Empty until
	// the cold chain's first burn-in refresh arrives.
	DEBuffer [][]float64

	// Rand is the chain's private random source.
	Rand *rand.Rand
}

// Proposal generates candidate points.
//
// Propose must not mutate x; the returned slice must be freshly allocated.
// The second return value is the log Hastings correction log q(x|y)/q(y|x),
// zero for symmetric kernels.
type Proposal interface {
	// Name identifies the kernel in the cycle, ledger, and reports.
	Name() string

	// Propose draws a candidate from the current point.
	Propose(x []float64, pctx *Context) (y []float64, logQxy float64)
}

// Auxiliary is a post-processing proposal applied to every candidate after
// the primary kernel, in registration order. Typical uses are periodic
// boundary wraps and fixed-point corrections.
//
// Apply receives both the original point x and the candidate y and returns
// the corrected candidate plus an additive log Hastings contribution.
type Auxiliary interface {
	Name() string
	Apply(x, y []float64, iter int, beta float64) (corrected []float64, logQxy float64)
}

// Func adapts a plain function to the Proposal interface.
type Func struct {
	// ProposalName is the identifier reported for this kernel.
	ProposalName string

	// F is the proposal function.
	F func(x []float64, pctx *Context) ([]float64, float64)
}

// Name implements Proposal.
func (f Func) Name() string { return f.ProposalName }

// Propose implements Proposal.
func (f Func) Propose(x []float64, pctx *Context) ([]float64, float64) {
	return f.F(x, pctx)
}
