// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/sampleforge/ptmcmc/pkg/config"
	"github.com/sampleforge/ptmcmc/pkg/ladder"
	"github.com/sampleforge/ptmcmc/pkg/logging"
	"github.com/sampleforge/ptmcmc/pkg/sampler"
)

// runSample executes one sampling job end to end: configuration, target,
// ensemble, optional monitor server, and the final summary.
func runSample(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	target, start, err := buildTarget(targetName, cfg.NDim)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		LogDir:  logDir,
		Service: "ptmcmc",
		Quiet:   quiet,
	})
	defer logger.Close()

	// Identity jump covariance; adaptation takes over after the first
	// covariance update window.
	initialCov := mat.NewSymDense(cfg.NDim, nil)
	for i := 0; i < cfg.NDim; i++ {
		initialCov.SetSym(i, i, 1)
	}

	ens, err := sampler.NewEnsemble(cfg, target, initialCov, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if listenAddr != "" {
		mon := startMonitor(listenAddr, ens, cfg, logger)
		defer mon.stop()
	}

	res, err := ens.Run(ctx, start)
	if err != nil {
		return err
	}

	mean := res.PostBurnMean()
	fmt.Printf("run %s finished: %d iterations, %d samples\n", res.RunID, res.Iters, len(res.Samples))
	fmt.Printf("acceptance: %.3f  swap acceptance: %.3f\n",
		float64(res.Accepted)/float64(res.Iters),
		swapFraction(res))
	fmt.Printf("post-burn-in mean: %v\n", mean)
	fmt.Printf("chain files written to %s\n", cfg.OutDir)
	return nil
}

// runLadder prints the temperature ladder the configuration would produce.
func runLadder(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	temps, err := ladder.Geometric(cfg.NDim, cfg.NChains, cfg.Tmin, cfg.Tmax)
	if err != nil {
		return err
	}
	for rank, temp := range temps {
		if cfg.HotChain && cfg.NChains > 1 && rank == cfg.NChains-1 {
			temp = ladder.HotTemperature
		}
		fmt.Printf("chain %d: T = %g\n", rank, temp)
	}
	return nil
}

// loadRunConfig layers: defaults, then the YAML file, then explicit flag
// overrides, then demo fallbacks for the required fields a quick start
// would otherwise have to spell out.
func loadRunConfig(cmd *cobra.Command) (config.RunConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return cfg, err
		}
	}
	if ndim > 0 {
		cfg.NDim = ndim
	}
	if nchains > 0 {
		cfg.NChains = nchains
	}
	if niter > 0 {
		cfg.Niter = niter
	}
	if outDir != "" {
		cfg.OutDir = outDir
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("resume") {
		cfg.Resume = resume
	}
	if cfg.NDim == 0 {
		cfg.NDim = 5
	}
	if cfg.NChains == 0 {
		cfg.NChains = 4
	}
	if cfg.Niter == 0 {
		cfg.Niter = 100000
	}
	return cfg, nil
}

func swapFraction(res *sampler.Result) float64 {
	if res.SwapProposed == 0 {
		return 1
	}
	return float64(res.SwapAccepted) / float64(res.SwapProposed)
}
