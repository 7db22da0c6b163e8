// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSamplerMetrics(reg)

	m.StepsTotal.WithLabelValues("0").Add(100)
	m.AcceptedTotal.WithLabelValues("0").Add(25)
	m.SwapProposedTotal.WithLabelValues("0").Inc()
	m.SwapAcceptedTotal.WithLabelValues("0").Inc()
	m.AcceptanceFraction.WithLabelValues("0").Set(0.25)
	m.SwapAcceptanceFraction.WithLabelValues("1").Set(0.5)
	m.CheckpointSeconds.Observe(0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	want := map[string]bool{
		"ptmcmc_steps_total":              false,
		"ptmcmc_accepted_total":           false,
		"ptmcmc_swap_proposed_total":      false,
		"ptmcmc_swap_accepted_total":      false,
		"ptmcmc_acceptance_fraction":      false,
		"ptmcmc_swap_acceptance_fraction": false,
		"ptmcmc_checkpoint_seconds":       false,
	}
	for _, fam := range families {
		if _, ok := want[fam.GetName()]; ok {
			want[fam.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric family %s not collected", name)
		}
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics must return one shared instrument set")
	}
}

func TestChainLabel(t *testing.T) {
	if ChainLabel(7) != "7" {
		t.Errorf("ChainLabel(7) = %q", ChainLabel(7))
	}
}
