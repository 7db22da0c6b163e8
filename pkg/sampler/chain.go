// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"github.com/sampleforge/ptmcmc/pkg/adapt"
	"github.com/sampleforge/ptmcmc/pkg/chain"
	"github.com/sampleforge/ptmcmc/pkg/comm"
	"github.com/sampleforge/ptmcmc/pkg/config"
	"github.com/sampleforge/ptmcmc/pkg/diagnostics"
	"github.com/sampleforge/ptmcmc/pkg/ladder"
	"github.com/sampleforge/ptmcmc/pkg/logging"
	"github.com/sampleforge/ptmcmc/pkg/observability"
	"github.com/sampleforge/ptmcmc/pkg/proposal"
)

const (
	// essCheckInterval is how often the cold chain re-estimates its
	// effective sample size once past 2x burn-in.
	essCheckInterval = 10000

	// pollInterval is the yield between unsuccessful probes in the
	// shutdown drain loop. Keeps a waiting chain off the CPU.
	pollInterval = 50 * time.Microsecond
)

// chainRunner drives one chain: the Metropolis step loop, the adaptation
// schedule, and this rank's side of the swap protocol.
//
// All fields are owned by the chain's goroutine. The only cross-chain
// traffic goes through ep.
type chainRunner struct {
	rank    int
	size    int
	cfg     config.RunConfig
	target  Target
	ep      comm.Endpoint
	temps   []float64 // ladder before hot override
	temp    float64   // this chain's effective temperature
	beta    float64
	hot     bool
	rng     *rand.Rand
	cycle   *proposal.Cycle
	weights map[string]int
	model   *adapt.Model
	moments *adapt.RunningMoments // cold chain only
	state   *chain.Context
	writer  *chain.Writer // nil when this rank does not persist
	resume  *chain.Resume // nil unless resuming
	log     *logging.Logger
	metrics *observability.SamplerMetrics

	deBuffer  [][]float64
	chainLbl  string
	itersDone int
}

func newChainRunner(
	cfg config.RunConfig,
	target Target,
	initialCov mat.Symmetric,
	weights map[string]int,
	temps []float64,
	rank int,
	ep comm.Endpoint,
	log *logging.Logger,
	metrics *observability.SamplerMetrics,
) (*chainRunner, error) {
	size := cfg.NChains
	hot := cfg.HotChain && size > 1 && rank == size-1
	temp := temps[rank]
	if hot {
		temp = ladder.HotTemperature
	}

	rng := newChainRNG(cfg.Seed, rank)
	model, err := adapt.NewModel(initialCov, cfg.Groups)
	if err != nil {
		return nil, err
	}
	state, err := chain.NewContext(cfg.NDim, temp, cfg.Thin, rank == 0)
	if err != nil {
		return nil, err
	}

	cycle := proposal.NewCycle(rng)
	for _, name := range sortedKernelNames(weights) {
		// DE joins the cycle only once its history buffer exists.
		if name == proposal.NameDifferentialEvolution {
			continue
		}
		p, err := proposal.New(name)
		if err != nil {
			return nil, err
		}
		cycle.Add(p, weights[name])
	}
	if err := cycle.Validate(); err != nil {
		return nil, err
	}
	cycle.Shuffle()

	c := &chainRunner{
		rank:     rank,
		size:     size,
		cfg:      cfg,
		target:   target,
		ep:       ep,
		temps:    temps,
		temp:     temp,
		beta:     1 / temp,
		hot:      hot,
		rng:      rng,
		cycle:    cycle,
		weights:  weights,
		model:    model,
		state:    state,
		log:      log.With("rank", rank, "temp", temp),
		metrics:  metrics,
		chainLbl: observability.ChainLabel(rank),
	}
	if rank == 0 {
		c.moments = adapt.NewRunningMoments(cfg.NDim)
	}

	if cfg.WriteChains && (rank == 0 || cfg.WriteHotChains) {
		c.writer, err = chain.NewWriter(cfg.OutDir, temp, hot, cfg.NDim)
		if err != nil {
			return nil, err
		}
		if cfg.Resume {
			if _, statErr := os.Stat(c.writer.Path()); statErr == nil {
				c.resume, err = chain.LoadResume(c.writer.Path(), cfg.NDim)
				if err != nil {
					return nil, err
				}
				c.log.Info("resuming from chain file",
					"path", c.writer.Path(), "rows", c.resume.Len())
			}
		}
		if c.resume == nil {
			if err := c.writer.Truncate(); err != nil {
				return nil, err
			}
			if cfg.SaveJumpStats && rank == 0 {
				if err := c.writer.ResetAcceptance(sortedKernelNames(weights)); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}

func (c *chainRunner) resumeLen() int {
	if c.resume == nil {
		return 0
	}
	return c.resume.Len()
}

// run executes this chain's full iteration loop and the shutdown drain.
func (c *chainRunner) run(ctx context.Context, p0 []float64) error {
	ctx, span := tracer.Start(ctx, "sampler.chain",
		trace.WithAttributes(
			attribute.Int("rank", c.rank),
			attribute.Float64("temperature", c.temp),
		),
	)
	defer span.End()

	// Initial state: from the resume file's first row, or evaluated at
	// the common start point. An infeasible start is allowed; the first
	// accepted step will move off it.
	x := append([]float64(nil), p0...)
	var logLike, logPost float64
	if c.resume != nil && c.resume.Len() > 0 {
		rx, ll, lp := c.resume.First()
		copy(x, rx)
		logLike, logPost = ll, lp
	} else {
		lp := c.target.LogPrior(x)
		if math.IsInf(lp, -1) {
			logLike = math.Inf(-1)
			logPost = math.Inf(-1)
		} else {
			logLike = c.target.LogLikelihood(x)
			logPost = logLike/c.temp + lp
		}
	}
	c.state.SetState(x, logLike, logPost)
	c.state.Record(0)

	budget := c.cfg.Niter
	if c.rank > 0 {
		budget = c.cfg.EffectiveMaxIter(c.rank)
	}

	for iter := 1; iter < budget; iter++ {
		// Stop signal from the cold chain, checked every iteration.
		if c.rank > 0 {
			if _, ok := c.ep.TryRecv(0, comm.TagTerminate); ok {
				c.log.Info("termination signal received", "iter", iter)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.step(ctx, iter); err != nil {
			return err
		}

		if c.rank == 0 && c.cfg.NeffTarget > 0 && iter%essCheckInterval == 0 && iter > 2*c.cfg.Burn {
			ess := diagnostics.EffectiveSampleSize(c.state.Samples())
			c.log.Info("effective sample size", "iter", iter, "ess", ess)
			if ess > c.cfg.NeffTarget {
				c.log.Info("effective sample target reached", "iter", iter, "ess", ess)
				break
			}
		}
	}
	return c.shutdown(ctx)
}

// step runs one full iteration: adaptation maintenance, one Metropolis
// move (or resume replay), the swap attempt, bookkeeping, and the save
// cadence.
func (c *chainRunner) step(ctx context.Context, iter int) error {
	// Covariance update and broadcast, cold chain only, on cadence.
	if c.rank == 0 && (iter-1)%c.cfg.CovUpdate == 0 && iter-1 != 0 {
		if err := c.updateCovariance(ctx, iter-1); err != nil {
			return err
		}
	}
	// Drain a pending covariance broadcast and refactor locally.
	if c.rank > 0 {
		if payload, ok := c.ep.TryRecv(0, comm.TagCovariance); ok {
			cov, good := payload.(*mat.SymDense)
			if !good {
				return fmt.Errorf("sampler: unexpected covariance payload %T", payload)
			}
			if err := c.model.SetCovariance(cov); err != nil {
				return fmt.Errorf("sampler: install covariance: %w", err)
			}
		}
	}

	// DE buffer refresh and broadcast, cold chain only, on cadence.
	if c.rank == 0 && (iter-1)%c.cfg.Burn == 0 && iter-1 != 0 {
		if err := c.refreshDEBuffer(ctx, iter-1); err != nil {
			return err
		}
	}
	// Drain a pending DE buffer; first arrival admits the DE kernel.
	if c.rank > 0 {
		if payload, ok := c.ep.TryRecv(0, comm.TagDEBuffer); ok {
			buf, good := payload.([][]float64)
			if !good {
				return fmt.Errorf("sampler: unexpected DE buffer payload %T", payload)
			}
			c.deBuffer = buf
			if err := c.maybeAddDE(); err != nil {
				return err
			}
		}
	}
	// The cold chain admits DE right at burn-in, alongside its first
	// buffer refresh.
	if c.rank == 0 && iter-1 == c.cfg.Burn {
		if err := c.maybeAddDE(); err != nil {
			return err
		}
	}

	// Metropolis move, or replay of a resumed row.
	if c.resume != nil && iter < c.resume.Len() {
		row := c.resume.Row(iter)
		c.state.SetState(row.Params, row.LogLike, row.LogPost)
		c.state.Accepted = int64(float64(iter)*row.AccFrac + 0.5)
	} else {
		if err := c.metropolisStep(iter); err != nil {
			return err
		}
	}

	// Temperature swap attempt.
	code, err := c.ptSwap(ctx, iter)
	if err != nil {
		return err
	}
	if code != swapNone {
		c.state.SwapProposed++
		c.metrics.SwapProposedTotal.WithLabelValues(c.chainLbl).Inc()
		if code == swapAccepted {
			c.state.SwapAccepted++
			c.metrics.SwapAcceptedTotal.WithLabelValues(c.chainLbl).Inc()
		}
	}

	c.state.Record(iter)
	c.itersDone = iter
	c.metrics.StepsTotal.WithLabelValues(c.chainLbl).Inc()

	if c.writer != nil && iter%c.cfg.SaveEvery == 0 && iter > 1 && iter > c.resumeLen() {
		if err := c.checkpoint(ctx, iter); err != nil {
			return err
		}
	}
	return nil
}

// metropolisStep draws one candidate and applies the Hastings accept
// test. A -Inf prior short-circuits: the likelihood is never evaluated
// on a structurally infeasible point.
func (c *chainRunner) metropolisStep(iter int) error {
	pctx := &proposal.Context{
		Iter:     iter,
		Beta:     c.beta,
		Model:    c.model,
		Accepted: c.state.Accepted,
		Chain:    c.state.Samples(),
		DEBuffer: c.deBuffer,
		Rand:     c.rng,
	}
	y, logQxy, name, err := c.cycle.Draw(c.state.X, pctx)
	if err != nil {
		return err
	}

	newLogLike := math.Inf(-1)
	newLogPost := math.Inf(-1)
	if lp := c.target.LogPrior(y); !math.IsInf(lp, -1) {
		newLogLike = c.target.LogLikelihood(y)
		newLogPost = newLogLike/c.temp + lp
	}

	diff := newLogPost - c.state.LogPost + logQxy
	if diff > math.Log(c.rng.Float64()) {
		c.state.SetState(y, newLogLike, newLogPost)
		c.state.Accepted++
		c.cycle.RecordAccept(name)
		c.metrics.AcceptedTotal.WithLabelValues(c.chainLbl).Inc()
	}
	return nil
}

// updateCovariance folds the latest raw-history window into the running
// moments, commits the refreshed covariance, and pushes it to every
// hotter chain. it is the last completed iteration (iter-1).
func (c *chainRunner) updateCovariance(ctx context.Context, it int) error {
	window, err := c.state.HistoryWindow(it-c.cfg.CovUpdate, it)
	if err != nil {
		return err
	}
	if it == c.cfg.CovUpdate {
		// First window of the run starts the accumulation from zero
		// rather than dividing by a degenerate count.
		c.moments.Reset()
	}
	for _, row := range window {
		if err := c.moments.Push(row); err != nil {
			return err
		}
	}
	cov := mat.NewSymDense(c.cfg.NDim, nil)
	if err := c.moments.Covariance(cov); err != nil {
		return err
	}
	if err := c.model.SetCovariance(cov); err != nil {
		// A degenerate window (e.g. the chain pinned at one point) can
		// defeat the factorization; keep the previous committed model.
		c.log.Warn("covariance refactorization failed, keeping previous model",
			"iter", it, "error", err)
		return nil
	}
	for dest := 1; dest < c.size; dest++ {
		if err := c.ep.Send(ctx, dest, comm.TagCovariance, c.model.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// refreshDEBuffer replaces the DE buffer wholesale with the most recent
// burn-length slice of the raw history and broadcasts copies.
func (c *chainRunner) refreshDEBuffer(ctx context.Context, it int) error {
	window, err := c.state.HistoryWindow(it-c.cfg.Burn, it)
	if err != nil {
		return err
	}
	buf := make([][]float64, len(window))
	for i, row := range window {
		buf[i] = append([]float64(nil), row...)
	}
	c.deBuffer = buf
	for dest := 1; dest < c.size; dest++ {
		cp := make([][]float64, len(buf))
		for i, row := range buf {
			cp[i] = append([]float64(nil), row...)
		}
		if err := c.ep.Send(ctx, dest, comm.TagDEBuffer, cp); err != nil {
			return err
		}
	}
	return nil
}

// maybeAddDE admits the differential evolution kernel once a buffer
// exists, respecting its configured weight, and reshuffles the cycle.
func (c *chainRunner) maybeAddDE() error {
	w := c.weights[proposal.NameDifferentialEvolution]
	if w <= 0 || c.cycle.Contains(proposal.NameDifferentialEvolution) {
		return nil
	}
	p, err := proposal.New(proposal.NameDifferentialEvolution)
	if err != nil {
		return err
	}
	c.cycle.Add(p, w)
	c.cycle.Shuffle()
	c.log.Info("differential evolution kernel added", "weight", w)
	return nil
}

// checkpoint persists the latest trajectory block and, on the cold
// chain, the covariance snapshot and jump statistics. I/O errors
// propagate: a partial chain file must not go undetected.
func (c *chainRunner) checkpoint(ctx context.Context, iter int) error {
	_, span := tracer.Start(ctx, "sampler.checkpoint",
		trace.WithAttributes(attribute.Int("rank", c.rank), attribute.Int("iter", iter)),
	)
	defer span.End()
	start := time.Now()

	samples := c.state.Samples()
	logPosts := c.state.LogPosts()
	logLikes := c.state.LogLikes()
	accFrac := c.state.AcceptanceFraction(iter)
	swapFrac := c.state.SwapFraction()

	var rows []chain.Row
	for j := iter - c.cfg.SaveEvery; j < iter; j++ {
		if j%c.cfg.Thin != 0 {
			continue
		}
		ind := j / c.cfg.Thin
		if ind < 0 || ind >= len(samples) {
			return errors.New("sampler: checkpoint block out of recorded range")
		}
		rows = append(rows, chain.Row{
			Params:   samples[ind],
			LogPost:  logPosts[ind],
			LogLike:  logLikes[ind],
			AccFrac:  accFrac,
			SwapFrac: swapFrac,
		})
	}
	if err := c.writer.AppendBlock(rows); err != nil {
		return err
	}

	if c.rank == 0 {
		if err := c.writer.WriteCovariance(c.model.Covariance()); err != nil {
			return err
		}
		if err := c.writer.WriteCycleFractions(c.cycle.Fractions()); err != nil {
			return err
		}
		if c.cfg.SaveJumpStats {
			for name, counts := range c.cycle.Ledger() {
				proposed := counts.Proposed
				if proposed == 0 {
					proposed = 1
				}
				ratio := float64(counts.Accepted) / float64(proposed)
				if err := c.writer.AppendAcceptance(name, ratio); err != nil {
					return err
				}
			}
		}
		c.log.Info("checkpoint",
			"iter", iter,
			"percent", 100*float64(iter)/float64(c.cfg.Niter),
			"acceptance", accFrac,
			"swap_acceptance", swapFrac,
		)
	}

	c.metrics.CheckpointSeconds.Observe(time.Since(start).Seconds())
	c.metrics.AcceptanceFraction.WithLabelValues(c.chainLbl).Set(accFrac)
	c.metrics.SwapAcceptanceFraction.WithLabelValues(c.chainLbl).Set(swapFrac)
	return nil
}
