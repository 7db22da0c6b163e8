// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chain holds per-chain sampling state and its persistence: the
// mutable chain context (current point, likelihood, posterior, counters),
// the recorded trajectory, chain and diagnostic file output, and resume
// parsing.
package chain

import "fmt"

// Context is one chain's mutable sampling state.
//
// # Description
//
// A Context is owned exclusively by its chain and mutated only by that
// chain's step driver; neighbors see its fields only through the explicit
// values exchanged during a swap. The temperature is fixed for the chain's
// lifetime.
//
// Two trajectories are kept. The raw history stores every iterate
// unthinned and exists only on the coldest chain, where it is the raw
// material for covariance adaptation and the DE buffer. The recorded
// trajectory stores every thin-th iterate together with its log densities
// and is what gets persisted and analyzed.
//
// Thread Safety: not safe for concurrent use.
type Context struct {
	// NDim is the problem dimensionality.
	NDim int

	// Temp is the chain's fixed temperature.
	Temp float64

	// X is the current parameter vector.
	X []float64

	// LogLike is the log-likelihood at X.
	LogLike float64

	// LogPost is the tempered log-posterior at X: LogLike/Temp + logPrior(X).
	LogPost float64

	// Accepted counts accepted Metropolis steps.
	Accepted int64

	// SwapProposed counts temperature swaps this chain proposed.
	SwapProposed int64

	// SwapAccepted counts proposed swaps that were accepted.
	SwapAccepted int64

	thin        int
	keepHistory bool
	history     [][]float64
	samples     [][]float64
	logLikes    []float64
	logPosts    []float64
}

// NewContext creates a chain context at the given fixed temperature.
// keepHistory enables the unthinned raw history and should be true only
// on the coldest chain.
func NewContext(ndim int, temp float64, thin int, keepHistory bool) (*Context, error) {
	if ndim < 1 {
		return nil, fmt.Errorf("chain: ndim must be >= 1, got %d", ndim)
	}
	if temp <= 0 {
		return nil, fmt.Errorf("chain: temperature must be > 0, got %g", temp)
	}
	if thin < 1 {
		return nil, fmt.Errorf("chain: thin must be >= 1, got %d", thin)
	}
	return &Context{
		NDim:        ndim,
		Temp:        temp,
		X:           make([]float64, ndim),
		thin:        thin,
		keepHistory: keepHistory,
	}, nil
}

// SetState installs a new current point and its log densities. The vector
// is copied.
func (c *Context) SetState(x []float64, logLike, logPost float64) {
	copy(c.X, x)
	c.LogLike = logLike
	c.LogPost = logPost
}

// Record appends the current state to the trajectories for iteration iter,
// respecting the thinning stride for the recorded trajectory.
func (c *Context) Record(iter int) {
	if c.keepHistory {
		c.history = append(c.history, append([]float64(nil), c.X...))
	}
	if iter%c.thin == 0 {
		c.samples = append(c.samples, append([]float64(nil), c.X...))
		c.logLikes = append(c.logLikes, c.LogLike)
		c.logPosts = append(c.logPosts, c.LogPost)
	}
}

// HistoryLen returns the raw history length.
func (c *Context) HistoryLen() int { return len(c.history) }

// HistoryWindow returns rows [from, to) of the raw history. The rows are
// shared, not copied; callers must treat them as read-only.
func (c *Context) HistoryWindow(from, to int) ([][]float64, error) {
	if !c.keepHistory {
		return nil, fmt.Errorf("chain: raw history not kept on this chain")
	}
	if from < 0 || to > len(c.history) || from > to {
		return nil, fmt.Errorf("chain: history window [%d,%d) out of range [0,%d)", from, to, len(c.history))
	}
	return c.history[from:to], nil
}

// Samples returns the recorded (thinned) trajectory. Shared, read-only.
func (c *Context) Samples() [][]float64 { return c.samples }

// LogLikes returns the recorded log-likelihoods. Shared, read-only.
func (c *Context) LogLikes() []float64 { return c.logLikes }

// LogPosts returns the recorded log-posteriors. Shared, read-only.
func (c *Context) LogPosts() []float64 { return c.logPosts }

// NumRecorded returns the recorded trajectory length.
func (c *Context) NumRecorded() int { return len(c.samples) }

// AcceptanceFraction returns the running global acceptance fraction after
// iter iterations.
func (c *Context) AcceptanceFraction(iter int) float64 {
	if iter <= 0 {
		return 0
	}
	return float64(c.Accepted) / float64(iter)
}

// SwapFraction returns the running swap-acceptance fraction for the
// adjacent pair this chain proposes to. Defaults to 1 before the first
// proposal, matching the reference chain-file convention.
func (c *Context) SwapFraction() float64 {
	if c.SwapProposed == 0 {
		return 1
	}
	return float64(c.SwapAccepted) / float64(c.SwapProposed)
}
