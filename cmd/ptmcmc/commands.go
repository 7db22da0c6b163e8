// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	// Flags shared by the run command.
	configPath string
	targetName string
	listenAddr string
	logDir     string
	quiet      bool

	// Config overrides; only applied when the flag was set explicitly.
	ndim    int
	nchains int
	niter   int
	outDir  string
	seed    uint64
	resume  bool

	rootCmd = &cobra.Command{
		Use:   "ptmcmc",
		Short: "A parallel tempering MCMC sampler",
		Long: `ptmcmc runs an ensemble of tempered Markov chains with adaptive
Metropolis, single-component adaptive Metropolis, and differential
evolution proposals, exchanging states between neighboring temperatures.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a sampling job against a built-in demo target",
		RunE:  runSample, // Defined in cmd_run.go
	}

	laddersCmd = &cobra.Command{
		Use:   "ladder",
		Short: "Print the temperature ladder a configuration would use",
		RunE:  runLadder, // Defined in cmd_run.go
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML run configuration")
	runCmd.Flags().StringVar(&targetName, "target", "gaussian", "Demo target: 'gaussian' or 'rosenbrock'")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Address for the /metrics and /status monitor server (disabled when empty)")
	runCmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (stderr only when empty)")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress stderr logging")
	runCmd.Flags().IntVar(&ndim, "ndim", 0, "Problem dimensionality (overrides config)")
	runCmd.Flags().IntVar(&nchains, "nchains", 0, "Number of tempered chains (overrides config)")
	runCmd.Flags().IntVar(&niter, "niter", 0, "Cold chain iteration budget (overrides config)")
	runCmd.Flags().StringVar(&outDir, "out", "", "Output directory for chain files (overrides config)")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (overrides config)")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Resume from an existing cold chain file")

	rootCmd.AddCommand(laddersCmd)
	laddersCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML run configuration")
	laddersCmd.Flags().IntVar(&ndim, "ndim", 0, "Problem dimensionality (overrides config)")
	laddersCmd.Flags().IntVar(&nchains, "nchains", 0, "Number of tempered chains (overrides config)")
}
