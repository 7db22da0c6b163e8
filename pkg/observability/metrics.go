// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for sampling runs.
//
// # Description
//
// Metrics cover the quantities an operator watches while a long run is in
// flight: per-chain step and acceptance counters, swap protocol counters,
// and the running acceptance fractions that gauge proposal tuning and
// ladder quality. Expose them via the CLI's /metrics endpoint and scrape
// with Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all sampler metrics.
const metricsNamespace = "ptmcmc"

// SamplerMetrics holds the Prometheus instruments for one process.
//
// Label "chain" is the rank in the temperature ladder, so a multi-chain
// run can be broken out per temperature in dashboards.
type SamplerMetrics struct {
	// StepsTotal counts completed Metropolis steps per chain.
	StepsTotal *prometheus.CounterVec

	// AcceptedTotal counts accepted Metropolis steps per chain.
	AcceptedTotal *prometheus.CounterVec

	// SwapProposedTotal counts temperature swaps proposed per chain.
	SwapProposedTotal *prometheus.CounterVec

	// SwapAcceptedTotal counts proposed swaps accepted per chain.
	SwapAcceptedTotal *prometheus.CounterVec

	// AcceptanceFraction is the running global acceptance rate per chain.
	AcceptanceFraction *prometheus.GaugeVec

	// SwapAcceptanceFraction is the running swap acceptance rate for the
	// adjacent pair each chain proposes to.
	SwapAcceptanceFraction *prometheus.GaugeVec

	// CheckpointSeconds measures chain-file checkpoint write latency.
	CheckpointSeconds prometheus.Histogram
}

// NewSamplerMetrics registers a fresh instrument set on reg.
func NewSamplerMetrics(reg prometheus.Registerer) *SamplerMetrics {
	factory := promauto.With(reg)
	return &SamplerMetrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Completed Metropolis steps.",
		}, []string{"chain"}),
		AcceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepted_total",
			Help:      "Accepted Metropolis steps.",
		}, []string{"chain"}),
		SwapProposedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swap_proposed_total",
			Help:      "Temperature swaps proposed to the next-hotter neighbor.",
		}, []string{"chain"}),
		SwapAcceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swap_accepted_total",
			Help:      "Proposed temperature swaps that were accepted.",
		}, []string{"chain"}),
		AcceptanceFraction: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "acceptance_fraction",
			Help:      "Running global Metropolis acceptance fraction.",
		}, []string{"chain"}),
		SwapAcceptanceFraction: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "swap_acceptance_fraction",
			Help:      "Running swap acceptance fraction for the adjacent pair.",
		}, []string{"chain"}),
		CheckpointSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoint_seconds",
			Help:      "Chain-file checkpoint write latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *SamplerMetrics
)

// DefaultMetrics returns the process-wide instrument set registered on
// the default Prometheus registerer.
func DefaultMetrics() *SamplerMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewSamplerMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ChainLabel formats a rank for the "chain" label.
func ChainLabel(rank int) string { return strconv.Itoa(rank) }
