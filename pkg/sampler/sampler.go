// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sampler implements the parallel tempering MCMC engine: the
// per-chain Metropolis step driver, the covariance and DE buffer
// maintenance schedule, and the temperature swap protocol between
// neighboring chains.
//
// # Architecture
//
// One goroutine per chain, each advancing an independent iteration loop.
// Chains share no memory; all coordination flows through the comm
// package's tagged message links. The coldest chain (rank 0) owns all
// adaptation state: it accumulates running moments over its raw
// trajectory, commits covariance updates, refreshes the DE buffer, and
// broadcasts both to the hotter chains, which install the copies and
// re-derive their factorizations. Termination is likewise cold-driven: a
// single signal fanned out when the cold chain reaches its iteration
// budget or effective-sample-size target.
//
//	rank 0 (T=Tmin)   rank 1          rank K-1
//	  | moments         |                |
//	  | cov/DE ---------+--------------->|   broadcasts
//	  |<===> swap <===> |  ...  <===>    |   adjacent pairs only
//	  | terminate ------+--------------->|
package sampler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/sampleforge/ptmcmc/pkg/comm"
	"github.com/sampleforge/ptmcmc/pkg/config"
	"github.com/sampleforge/ptmcmc/pkg/ladder"
	"github.com/sampleforge/ptmcmc/pkg/logging"
	"github.com/sampleforge/ptmcmc/pkg/observability"
	"github.com/sampleforge/ptmcmc/pkg/proposal"
)

var tracer = otel.Tracer("github.com/sampleforge/ptmcmc/pkg/sampler")

// Target is the caller-supplied distribution. Both functions are treated
// as opaque; they must be pure and safe for concurrent calls from all
// chain goroutines.
//
// A log-prior of -Inf marks a structurally infeasible point: the step
// driver then skips likelihood evaluation entirely and rejects the step
// deterministically.
type Target struct {
	LogLikelihood func(x []float64) float64
	LogPrior      func(x []float64) float64
}

// Result packages the cold chain's output.
type Result struct {
	// RunID identifies the run in logs and file metadata.
	RunID string

	// Samples is the recorded (thinned) cold-chain trajectory.
	Samples [][]float64

	// LogLikes and LogPosts align with Samples.
	LogLikes []float64
	LogPosts []float64

	// Burn is the configured burn-in, for downstream analysis.
	Burn int

	// Iters is the number of iterations the cold chain completed.
	Iters int

	// Accepted, SwapProposed, SwapAccepted are the cold chain's final
	// counters.
	Accepted     int64
	SwapProposed int64
	SwapAccepted int64
}

// PostBurnMean returns the post-burn-in sample mean of each parameter.
func (r *Result) PostBurnMean() []float64 {
	if len(r.Samples) == 0 {
		return nil
	}
	start := r.Burn
	if start >= len(r.Samples) {
		start = 0
	}
	dim := len(r.Samples[0])
	mean := make([]float64, dim)
	rows := r.Samples[start:]
	for _, row := range rows {
		for d, v := range row {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float64(len(rows))
	}
	return mean
}

// Ensemble owns one parallel tempering run: K chains, their message
// links, and the shared configuration.
type Ensemble struct {
	cfg     config.RunConfig
	target  Target
	runID   string
	log     *logging.Logger
	metrics *observability.SamplerMetrics
	temps   []float64
	chains  []*chainRunner
}

// NewEnsemble validates the configuration and builds every chain.
//
// Inputs:
//   - cfg: run configuration; validated here, configuration errors are
//     fatal at setup and never deferred into the run loop.
//   - target: the distribution to sample.
//   - initialCov: initial jump covariance, ndim x ndim. Copied.
//   - logger: structured logger; nil selects the default stderr logger.
//
// Outputs:
//   - *Ensemble: ready to Run.
//   - error: non-nil on invalid configuration, unknown kernel names, an
//     empty proposal cycle, or a DE-only cycle.
func NewEnsemble(cfg config.RunConfig, target Target, initialCov mat.Symmetric, logger *logging.Logger) (*Ensemble, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if target.LogLikelihood == nil || target.LogPrior == nil {
		return nil, fmt.Errorf("sampler: target must supply LogLikelihood and LogPrior")
	}
	if initialCov == nil || initialCov.SymmetricDim() != cfg.NDim {
		return nil, fmt.Errorf("sampler: initial covariance must be %d x %d", cfg.NDim, cfg.NDim)
	}
	if logger == nil {
		logger = logging.Default()
	}

	weights := cfg.Weights
	if len(weights) == 0 {
		weights = config.DefaultWeights()
	}
	if err := checkWeights(weights); err != nil {
		return nil, err
	}

	temps, err := ladder.Geometric(cfg.NDim, cfg.NChains, cfg.Tmin, cfg.Tmax)
	if err != nil {
		return nil, err
	}

	group, err := comm.NewGroup(cfg.NChains)
	if err != nil {
		return nil, err
	}

	e := &Ensemble{
		cfg:     cfg,
		target:  target,
		runID:   uuid.NewString(),
		metrics: observability.DefaultMetrics(),
		temps:   temps,
	}
	e.log = logger.With("run_id", e.runID)

	for rank := 0; rank < cfg.NChains; rank++ {
		ep, err := group.Endpoint(rank)
		if err != nil {
			return nil, err
		}
		runner, err := newChainRunner(cfg, target, initialCov, weights, temps, rank, ep, e.log, e.metrics)
		if err != nil {
			return nil, fmt.Errorf("sampler: chain %d: %w", rank, err)
		}
		e.chains = append(e.chains, runner)
	}
	return e, nil
}

// checkWeights rejects setups the run loop cannot recover from: no
// nonzero weight at all, or DE as the only kernel (its history buffer
// does not exist before burn-in).
func checkWeights(weights map[string]int) error {
	active := 0
	deOnly := true
	for name, w := range weights {
		if w <= 0 {
			continue
		}
		active++
		if name != proposal.NameDifferentialEvolution {
			deOnly = false
		}
	}
	if active == 0 {
		return proposal.ErrEmptyCycle
	}
	if deOnly {
		return proposal.ErrDEOnly
	}
	return nil
}

// RunID returns the run identifier.
func (e *Ensemble) RunID() string { return e.runID }

// Ladder returns the temperature assigned to each rank, after any
// hot-chain override.
func (e *Ensemble) Ladder() []float64 {
	out := make([]float64, len(e.chains))
	for i, c := range e.chains {
		out[i] = c.temp
	}
	return out
}

// AddProposal registers a custom kernel on every chain with the given
// weight. ctor is invoked once per chain so kernels may carry per-chain
// state. Must be called before Run.
func (e *Ensemble) AddProposal(ctor func() proposal.Proposal, weight int) {
	for _, c := range e.chains {
		c.cycle.Add(ctor(), weight)
		c.cycle.Shuffle()
	}
}

// AddAuxiliary registers a post-processing proposal on every chain.
// Auxiliaries apply to every candidate in registration order. Must be
// called before Run.
func (e *Ensemble) AddAuxiliary(ctor func() proposal.Auxiliary) {
	for _, c := range e.chains {
		c.cycle.AddAuxiliary(ctor())
	}
}

// Run executes the full ensemble from the common start point p0 and
// returns the cold chain's result.
//
// Every chain runs to completion or first error; a chain failure cancels
// the rest (a swap peer disappearing mid-protocol is fatal by design).
func (e *Ensemble) Run(ctx context.Context, p0 []float64) (*Result, error) {
	if len(p0) != e.cfg.NDim {
		return nil, fmt.Errorf("sampler: start point has dim %d, want %d", len(p0), e.cfg.NDim)
	}
	ctx, span := tracer.Start(ctx, "sampler.Run")
	span.SetAttributes(
		attribute.String("run_id", e.runID),
		attribute.Int("nchains", e.cfg.NChains),
		attribute.Int("ndim", e.cfg.NDim),
		attribute.Int("niter", e.cfg.Niter),
	)
	defer span.End()

	e.log.Info("run started",
		"nchains", e.cfg.NChains,
		"ndim", e.cfg.NDim,
		"niter", e.cfg.Niter,
		"ladder", e.Ladder(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range e.chains {
		g.Go(func() error { return c.run(gctx, p0) })
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	cold := e.chains[0]
	res := &Result{
		RunID:        e.runID,
		Samples:      cold.state.Samples(),
		LogLikes:     cold.state.LogLikes(),
		LogPosts:     cold.state.LogPosts(),
		Burn:         e.cfg.Burn,
		Iters:        cold.itersDone,
		Accepted:     cold.state.Accepted,
		SwapProposed: cold.state.SwapProposed,
		SwapAccepted: cold.state.SwapAccepted,
	}
	e.log.Info("run complete",
		"iters", res.Iters,
		"samples", len(res.Samples),
		"acceptance", cold.state.AcceptanceFraction(res.Iters),
		"swap_acceptance", cold.state.SwapFraction(),
	)
	return res, nil
}

// sortedKernelNames returns the nonzero-weight kernel names in sorted
// order so cycle construction is deterministic across chains.
func sortedKernelNames(weights map[string]int) []string {
	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if w > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// newChainRNG derives a chain's private random stream from the run seed.
func newChainRNG(seed uint64, rank int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(rank)+1))
}

// payload types exchanged over comm links.

// swapState is the full state exchanged by an accepted temperature swap.
type swapState struct {
	logLike float64
	x       []float64
}
