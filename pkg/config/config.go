// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the run configuration for a parallel tempering
// sampler and its YAML loading and validation.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RunConfig contains every tunable of one sampling run.
//
// A zero value is not usable; start from Default() and override, or load
// a YAML file with Load which applies the same defaults underneath.
//
// Thread Safety: safe to read concurrently. Not safe to modify after the
// ensemble is constructed.
type RunConfig struct {
	// NDim is the problem dimensionality.
	NDim int `json:"ndim" yaml:"ndim" validate:"required,min=1"`

	// NChains is the number of tempered chains (processes).
	NChains int `json:"nchains" yaml:"nchains" validate:"required,min=1"`

	// Niter is the cold chain's iteration budget.
	Niter int `json:"niter" yaml:"niter" validate:"required,min=2"`

	// MaxIter caps hotter chains, which keep stepping until the cold
	// chain's termination signal arrives. 0 means 2*Niter.
	MaxIter int `json:"max_iter" yaml:"max_iter" validate:"min=0"`

	// Burn is the burn-in length: the DE buffer window size and the
	// iteration after which the DE kernel joins the cycle.
	Burn int `json:"burn" yaml:"burn" validate:"min=1"`

	// Thin records every Thin-th sample.
	Thin int `json:"thin" yaml:"thin" validate:"min=1"`

	// SwapInterval is the number of iterations between temperature swap
	// proposals.
	SwapInterval int `json:"swap_interval" yaml:"swap_interval" validate:"min=1"`

	// SaveEvery is the checkpoint cadence in iterations.
	SaveEvery int `json:"save_every" yaml:"save_every" validate:"min=1"`

	// CovUpdate is the covariance adaptation cadence in iterations.
	CovUpdate int `json:"cov_update" yaml:"cov_update" validate:"min=2"`

	// NeffTarget stops the run early once the cold chain reaches this
	// many effective samples. Zero disables the early-stop rule.
	NeffTarget int `json:"neff_target" yaml:"neff_target" validate:"min=0"`

	// Tmin is the coldest temperature.
	Tmin float64 `json:"tmin" yaml:"tmin" validate:"gt=0"`

	// Tmax is the hottest temperature; <= 0 selects the spacing
	// heuristic targeting ~25% swap acceptance.
	Tmax float64 `json:"tmax" yaml:"tmax"`

	// HotChain overrides the hottest chain's temperature to an extreme
	// value so it samples from the prior.
	HotChain bool `json:"hot_chain" yaml:"hot_chain"`

	// WriteChains enables chain-file output for the cold chain.
	WriteChains bool `json:"write_chains" yaml:"write_chains"`

	// WriteHotChains extends chain-file output to every chain.
	WriteHotChains bool `json:"write_hot_chains" yaml:"write_hot_chains"`

	// SaveJumpStats enables per-kernel acceptance report files.
	SaveJumpStats bool `json:"save_jump_stats" yaml:"save_jump_stats"`

	// Resume replays a previously written cold chain file before organic
	// sampling continues.
	Resume bool `json:"resume" yaml:"resume"`

	// OutDir is the output directory for chain and diagnostic files.
	OutDir string `json:"out_dir" yaml:"out_dir" validate:"required"`

	// Seed seeds the per-chain random sources. Chains derive distinct
	// streams from it deterministically.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Weights maps kernel identifiers to their cycle weights. Empty
	// means the default AM/SCAM/DE mix.
	Weights map[string]int `json:"weights" yaml:"weights"`

	// Groups are the parameter index groups for adaptive jumps. nil
	// means one group spanning all indices.
	Groups [][]int `json:"groups" yaml:"groups"`
}

// Default returns the canonical defaults for a run. NDim, NChains, and
// Niter have no sensible defaults and must be set by the caller.
func Default() RunConfig {
	return RunConfig{
		Burn:         10000,
		Thin:         1,
		SwapInterval: 100,
		SaveEvery:    1000,
		CovUpdate:    1000,
		NeffTarget:   100000,
		Tmin:         1,
		WriteChains:  true,
		OutDir:       "./chains",
		Seed:         1,
	}
}

// DefaultWeights is the kernel mix used when no weights are configured.
// DE is listed here but only joins the cycle after burn-in.
func DefaultWeights() map[string]int {
	return map[string]int{
		"AdaptiveMetropolis":    20,
		"SCAM":                  20,
		"DifferentialEvolution": 20,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field invariants. Called at
// setup so misconfiguration never reaches the run loop.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Tmax > 0 && c.Tmax <= c.Tmin {
		return fmt.Errorf("config: tmax %g must exceed tmin %g", c.Tmax, c.Tmin)
	}
	if c.MaxIter > 0 && c.MaxIter < c.Niter {
		return fmt.Errorf("config: max_iter %d must be >= niter %d", c.MaxIter, c.Niter)
	}
	for gi, group := range c.Groups {
		if len(group) == 0 {
			return fmt.Errorf("config: group %d is empty", gi)
		}
		for _, idx := range group {
			if idx < 0 || idx >= c.NDim {
				return fmt.Errorf("config: group %d index %d out of range [0,%d)", gi, idx, c.NDim)
			}
		}
	}
	for name, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("config: weight for %s must be >= 0, got %d", name, w)
		}
	}
	return nil
}

// EffectiveMaxIter returns the iteration budget for a given rank: the
// configured MaxIter, or Niter for the cold chain and 2*Niter for hotter
// chains when unset.
func (c *RunConfig) EffectiveMaxIter(rank int) int {
	if c.MaxIter > 0 {
		return c.MaxIter
	}
	if rank == 0 {
		return c.Niter
	}
	return 2 * c.Niter
}
