// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sampleforge/ptmcmc/pkg/chain"
	"github.com/sampleforge/ptmcmc/pkg/config"
	"github.com/sampleforge/ptmcmc/pkg/ladder"
	"github.com/sampleforge/ptmcmc/pkg/logging"
	"github.com/sampleforge/ptmcmc/pkg/proposal"
)

// stdNormalTarget is an isotropic standard normal with a flat prior.
func stdNormalTarget() Target {
	return Target{
		LogLikelihood: func(x []float64) float64 {
			var sum float64
			for _, v := range x {
				sum += v * v
			}
			return -0.5 * sum
		},
		LogPrior: func(x []float64) float64 { return 0 },
	}
}

func identityCov(dim int) *mat.SymDense {
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, 1)
	}
	return cov
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func testConfig(t *testing.T) config.RunConfig {
	t.Helper()
	cfg := config.Default()
	cfg.NDim = 2
	cfg.NChains = 2
	cfg.Niter = 3000
	cfg.Burn = 300
	cfg.CovUpdate = 150
	cfg.SaveEvery = 1000
	cfg.SwapInterval = 20
	cfg.NeffTarget = 1 << 30
	cfg.WriteChains = false
	cfg.OutDir = t.TempDir()
	cfg.Seed = 42
	return cfg
}

func TestGaussianRun(t *testing.T) {
	cfg := testConfig(t)
	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}

	res, err := ens.Run(context.Background(), []float64{0.5, 0.5})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Iters != cfg.Niter-1 {
		t.Errorf("iters = %d, want %d", res.Iters, cfg.Niter-1)
	}
	if len(res.Samples) != cfg.Niter {
		t.Errorf("recorded %d samples, want %d", len(res.Samples), cfg.Niter)
	}
	if len(res.LogLikes) != len(res.Samples) || len(res.LogPosts) != len(res.Samples) {
		t.Error("density traces misaligned with samples")
	}

	if res.Accepted == 0 {
		t.Error("no step was ever accepted")
	}
	accFrac := float64(res.Accepted) / float64(res.Iters)
	if accFrac < 0.01 || accFrac > 0.99 {
		t.Errorf("acceptance fraction %.3f outside any plausible range", accFrac)
	}

	// The cold chain proposes on every swap cadence hit.
	wantProposed := int64((cfg.Niter - 1) / cfg.SwapInterval)
	if res.SwapProposed != wantProposed {
		t.Errorf("swap proposed = %d, want %d", res.SwapProposed, wantProposed)
	}
	if res.SwapAccepted > res.SwapProposed {
		t.Errorf("swap accepted %d exceeds proposed %d", res.SwapAccepted, res.SwapProposed)
	}

	// Post-burn-in marginal means of a standard normal.
	for d, m := range res.PostBurnMean() {
		if math.Abs(m) > 0.3 {
			t.Errorf("post-burn mean[%d] = %.3f, want near 0", d, m)
		}
	}
}

func TestSingleChainRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.NChains = 1
	cfg.Niter = 500
	cfg.Burn = 100
	cfg.CovUpdate = 100

	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	res, err := ens.Run(context.Background(), []float64{0, 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.SwapProposed != 0 {
		t.Errorf("single chain proposed %d swaps", res.SwapProposed)
	}
	if len(res.Samples) != cfg.Niter {
		t.Errorf("recorded %d samples, want %d", len(res.Samples), cfg.Niter)
	}
}

func TestRunWithChainFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Niter = 1200
	cfg.Burn = 200
	cfg.CovUpdate = 100
	cfg.SaveEvery = 400
	cfg.WriteChains = true
	cfg.SaveJumpStats = true

	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	if _, err := ens.Run(context.Background(), []float64{0, 0}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cold := ens.chains[0]
	if cold.writer == nil {
		t.Fatal("cold chain has no writer with WriteChains enabled")
	}
	// Checkpoints at 400, 800: the tail past the last cadence stays
	// in memory only.
	r, err := loadChainFile(cold)
	if err != nil {
		t.Fatalf("reading back chain file failed: %v", err)
	}
	if r.Len() != 800 {
		t.Errorf("chain file has %d rows, want 800", r.Len())
	}
}

func loadChainFile(c *chainRunner) (*chain.Resume, error) {
	return chain.LoadResume(c.writer.Path(), c.cfg.NDim)
}

func TestTwoChainSwapAcceptanceBand(t *testing.T) {
	// Reference configuration: two chains at Tmin=1, Tmax=4 on a bivariate
	// Gaussian, 10000 iterations, swaps every 100. The ladder spacing puts
	// the pairwise swap acceptance in a healthy middle band.
	cfg := testConfig(t)
	cfg.Niter = 10000
	cfg.Burn = 1000
	cfg.CovUpdate = 500
	cfg.SwapInterval = 100
	cfg.SaveEvery = 5000
	cfg.Tmax = 4

	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	res, err := ens.Run(context.Background(), []float64{0.5, 0.5})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.SwapProposed != 99 {
		t.Fatalf("swap proposed = %d, want 99", res.SwapProposed)
	}
	frac := float64(res.SwapAccepted) / float64(res.SwapProposed)
	if frac < 0.15 || frac > 0.5 {
		t.Errorf("swap acceptance fraction = %.3f, want within [0.15, 0.5]", frac)
	}
	for d, m := range res.PostBurnMean() {
		if math.Abs(m) > 0.2 {
			t.Errorf("post-burn mean[%d] = %.3f, want near 0", d, m)
		}
	}
}

func TestResumeReplaysChainFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.NChains = 1
	cfg.Niter = 600
	cfg.Burn = 100
	cfg.CovUpdate = 100
	cfg.SaveEvery = 200
	cfg.WriteChains = true
	start := []float64{0.5, 0.5}

	first, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	res1, err := first.Run(context.Background(), start)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The file holds only the checkpointed prefix (cadences 200 and 400):
	// a run truncated mid-flight looks exactly like this.
	recorded, err := loadChainFile(first.chains[0])
	if err != nil {
		t.Fatalf("reading back chain file failed: %v", err)
	}
	if recorded.Len() != 400 {
		t.Fatalf("chain file has %d rows, want 400", recorded.Len())
	}

	cfg.Resume = true
	resumed := func() *Result {
		t.Helper()
		ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
		if err != nil {
			t.Fatalf("NewEnsemble failed: %v", err)
		}
		res, err := ens.Run(context.Background(), start)
		if err != nil {
			t.Fatalf("resumed Run failed: %v", err)
		}
		return res
	}
	res2 := resumed()

	if len(res2.Samples) != cfg.Niter {
		t.Fatalf("resumed run recorded %d samples, want %d", len(res2.Samples), cfg.Niter)
	}
	// The replayed prefix is the recorded trajectory, row for row.
	for i := 0; i < recorded.Len(); i++ {
		row := recorded.Row(i)
		for d := range row.Params {
			if res2.Samples[i][d] != row.Params[d] {
				t.Fatalf("replayed sample %d differs from the recorded row: %v vs %v",
					i, res2.Samples[i], row.Params)
			}
			if res2.Samples[i][d] != res1.Samples[i][d] {
				t.Fatalf("replayed sample %d differs from the original run", i)
			}
		}
		if res2.LogPosts[i] != row.LogPost || res2.LogLikes[i] != row.LogLike {
			t.Fatalf("replayed densities at %d differ from the recorded row", i)
		}
	}

	// Replay plus continuation is deterministic: a second resume
	// reproduces every state, including the first organically sampled
	// point after the recorded prefix.
	res3 := resumed()
	if len(res3.Samples) != len(res2.Samples) {
		t.Fatalf("resumed runs disagree on length: %d vs %d", len(res3.Samples), len(res2.Samples))
	}
	for i := range res2.Samples {
		for d := range res2.Samples[i] {
			if res2.Samples[i][d] != res3.Samples[i][d] {
				t.Fatalf("resumed runs diverge at sample %d", i)
			}
		}
		if res2.LogPosts[i] != res3.LogPosts[i] {
			t.Fatalf("resumed runs diverge in density at sample %d", i)
		}
	}
}

func TestNeffTargetZeroDisablesEarlyStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.NChains = 1
	cfg.Niter = 10002
	cfg.Burn = 200
	cfg.CovUpdate = 200
	cfg.NeffTarget = 0

	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	res, err := ens.Run(context.Background(), []float64{0, 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The effective-sample check at iteration 10000 must not end the run.
	if len(res.Samples) != cfg.Niter {
		t.Errorf("recorded %d samples, want the full %d", len(res.Samples), cfg.Niter)
	}
}

func TestHotChainOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.NChains = 3
	cfg.HotChain = true

	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	temps := ens.Ladder()
	if temps[0] != 1 {
		t.Errorf("cold temperature = %g, want 1", temps[0])
	}
	if temps[2] != ladder.HotTemperature {
		t.Errorf("hottest temperature = %g, want the hot override", temps[2])
	}
	if temps[1] == ladder.HotTemperature {
		t.Error("override leaked to a middle rank")
	}
}

func TestNewEnsembleValidation(t *testing.T) {
	base := testConfig(t)
	target := stdNormalTarget()
	cov := identityCov(2)
	log := quietLogger()

	t.Run("bad config", func(t *testing.T) {
		cfg := base
		cfg.NDim = 0
		if _, err := NewEnsemble(cfg, target, cov, log); err == nil {
			t.Error("invalid config must fail")
		}
	})
	t.Run("nil target", func(t *testing.T) {
		if _, err := NewEnsemble(base, Target{}, cov, log); err == nil {
			t.Error("missing target functions must fail")
		}
	})
	t.Run("wrong covariance dim", func(t *testing.T) {
		if _, err := NewEnsemble(base, target, identityCov(3), log); err == nil {
			t.Error("covariance dimension mismatch must fail")
		}
	})
	t.Run("unknown kernel", func(t *testing.T) {
		cfg := base
		cfg.Weights = map[string]int{"NoSuchKernel": 5, "SCAM": 1}
		if _, err := NewEnsemble(cfg, target, cov, log); err == nil {
			t.Error("unknown kernel name must fail")
		}
	})
}

func TestCheckWeights(t *testing.T) {
	if err := checkWeights(map[string]int{}); err != proposal.ErrEmptyCycle {
		t.Errorf("empty weights: got %v", err)
	}
	if err := checkWeights(map[string]int{"SCAM": 0}); err != proposal.ErrEmptyCycle {
		t.Errorf("all-zero weights: got %v", err)
	}
	if err := checkWeights(map[string]int{proposal.NameDifferentialEvolution: 5}); err != proposal.ErrDEOnly {
		t.Errorf("DE-only weights: got %v", err)
	}
	if err := checkWeights(config.DefaultWeights()); err != nil {
		t.Errorf("default weights rejected: %v", err)
	}
}

func TestRunStartPointDimCheck(t *testing.T) {
	cfg := testConfig(t)
	ens, err := NewEnsemble(cfg, stdNormalTarget(), identityCov(cfg.NDim), quietLogger())
	if err != nil {
		t.Fatalf("NewEnsemble failed: %v", err)
	}
	if _, err := ens.Run(context.Background(), []float64{1}); err == nil {
		t.Error("start point dimension mismatch must fail")
	}
}

func TestPostBurnMean(t *testing.T) {
	res := &Result{
		Samples: [][]float64{{10, 0}, {10, 0}, {1, 2}, {3, 4}},
		Burn:    2,
	}
	mean := res.PostBurnMean()
	if mean[0] != 2 || mean[1] != 3 {
		t.Errorf("post-burn mean = %v, want [2 3]", mean)
	}

	// Burn beyond the trajectory falls back to the whole trajectory.
	res.Burn = 100
	if got := res.PostBurnMean(); got[0] != 6 {
		t.Errorf("fallback mean = %v", got)
	}

	empty := &Result{}
	if empty.PostBurnMean() != nil {
		t.Error("empty result must yield nil mean")
	}
}
