// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proposal

import "math"

// Built-in kernel identifiers. These are the registry keys accepted in a
// configured weight table.
const (
	NameAdaptiveMetropolis    = "AdaptiveMetropolis"
	NameSingleComponentAM     = "SCAM"
	NameDifferentialEvolution = "DifferentialEvolution"
)

func init() {
	Register(NameAdaptiveMetropolis, func() Proposal { return &AdaptiveMetropolis{} })
	Register(NameSingleComponentAM, func() Proposal { return &SingleComponentAM{} })
	Register(NameDifferentialEvolution, func() Proposal { return &DifferentialEvolution{} })
}

// jumpScale draws the occasional small or large rescaling applied to
// adaptive jumps: mostly unit scale, sometimes a 0.2x refinement step,
// rarely a 10x mode-hopping step.
func jumpScale(pctx *Context) float64 {
	switch p := pctx.Rand.Float64(); {
	case p > 0.97:
		return 10
	case p > 0.9:
		return 0.2
	default:
		return 1
	}
}

// AdaptiveMetropolis jumps jointly within one randomly chosen parameter
// group, along the group's singular directions scaled by the singular
// values of the committed covariance.
//
// The base step is 2.4/sqrt(2 g) in each direction (g = group size), the
// classic optimal-scaling factor, inflated by sqrt(T) on hotter chains.
// The kernel is symmetric, so the Hastings correction is zero.
type AdaptiveMetropolis struct{}

// Name implements Proposal.
func (*AdaptiveMetropolis) Name() string { return NameAdaptiveMetropolis }

// Propose implements Proposal.
func (*AdaptiveMetropolis) Propose(x []float64, pctx *Context) ([]float64, float64) {
	y := append([]float64(nil), x...)
	gi := pctx.Rand.IntN(pctx.Model.NumGroups())
	group := pctx.Model.Groups()[gi]
	u, s := pctx.Model.GroupFactors(gi)
	g := len(group)

	cd := 2.4 / math.Sqrt(2*float64(g)) * jumpScale(pctx) * math.Sqrt(1/pctx.Beta)

	// Project into the singular basis, perturb, project back.
	proj := make([]float64, g)
	for i := 0; i < g; i++ {
		for j := 0; j < g; j++ {
			proj[i] += u.At(j, i) * x[group[j]]
		}
	}
	for i := 0; i < g; i++ {
		proj[i] += pctx.Rand.NormFloat64() * cd * math.Sqrt(s[i])
	}
	for j := 0; j < g; j++ {
		v := 0.0
		for i := 0; i < g; i++ {
			v += u.At(j, i) * proj[i]
		}
		y[group[j]] = v
	}
	return y, 0
}

// SingleComponentAM perturbs a single randomly chosen singular direction
// of one parameter group. Symmetric, zero Hastings correction.
type SingleComponentAM struct{}

// Name implements Proposal.
func (*SingleComponentAM) Name() string { return NameSingleComponentAM }

// Propose implements Proposal.
func (*SingleComponentAM) Propose(x []float64, pctx *Context) ([]float64, float64) {
	y := append([]float64(nil), x...)
	gi := pctx.Rand.IntN(pctx.Model.NumGroups())
	group := pctx.Model.Groups()[gi]
	u, s := pctx.Model.GroupFactors(gi)
	g := len(group)
	ind := pctx.Rand.IntN(g)

	cd := 2.4 / math.Sqrt(2) * jumpScale(pctx) * math.Sqrt(1/pctx.Beta)
	step := pctx.Rand.NormFloat64() * cd * math.Sqrt(s[ind])
	for j := 0; j < g; j++ {
		y[group[j]] += step * u.At(j, ind)
	}
	return y, 0
}

// DifferentialEvolution jumps along the difference of two distinct
// historical states from the DE buffer, restricted to one parameter
// group. With probability 0.1 the raw difference is used (mode hopping);
// otherwise it is scaled by 2.38/sqrt(2 g) with the usual temperature
// inflation. Symmetric, zero Hastings correction.
//
// The kernel requires a populated buffer; the cycle only admits it after
// the cold chain's first burn-in broadcast. With fewer than two buffer
// rows the draw degenerates to a stay-put proposal.
type DifferentialEvolution struct{}

// Name implements Proposal.
func (*DifferentialEvolution) Name() string { return NameDifferentialEvolution }

// Propose implements Proposal.
func (*DifferentialEvolution) Propose(x []float64, pctx *Context) ([]float64, float64) {
	y := append([]float64(nil), x...)
	buf := pctx.DEBuffer
	if len(buf) < 2 {
		return y, 0
	}
	gi := pctx.Rand.IntN(pctx.Model.NumGroups())
	group := pctx.Model.Groups()[gi]
	g := len(group)

	mm := pctx.Rand.IntN(len(buf))
	nn := pctx.Rand.IntN(len(buf))
	for nn == mm {
		nn = pctx.Rand.IntN(len(buf))
	}

	scale := 1.0
	if pctx.Rand.Float64() >= 0.1 {
		scale = 2.38 / math.Sqrt(2*float64(g)) * math.Sqrt(1/pctx.Beta)
	}
	for _, idx := range group {
		y[idx] += scale * (buf[mm][idx] - buf[nn][idx])
	}
	return y, 0
}
