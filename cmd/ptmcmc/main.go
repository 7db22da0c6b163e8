// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command ptmcmc runs a parallel tempering MCMC sampler from the command
// line.
//
// # Usage
//
//	# Build
//	go build -o ptmcmc ./cmd/ptmcmc
//
//	# Sample the built-in 5-dimensional Gaussian demo target
//	./ptmcmc run --target gaussian --ndim 5 --nchains 4 --niter 100000
//
//	# Sample with a YAML configuration and a live monitor endpoint
//	./ptmcmc run --config run.yaml --target rosenbrock --listen :12310
//
// The monitor endpoint serves Prometheus metrics at /metrics and a JSON
// run summary at /status while sampling is in flight.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
