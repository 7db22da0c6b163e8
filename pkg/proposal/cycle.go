// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proposal

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

// Configuration errors raised at setup, never deferred into the run loop.
var (
	// ErrEmptyCycle means no proposals were registered with nonzero weight.
	ErrEmptyCycle = errors.New("proposal: cycle is empty, register at least one proposal")

	// ErrDEOnly means differential evolution is the only registered kernel.
	// DE needs a populated history buffer that only exists after burn-in,
	// so another kernel must cover the pre-burn-in phase.
	ErrDEOnly = errors.New("proposal: differential evolution cannot be the only proposal, it is unavailable before burn-in")
)

// Counts is one ledger row: how often a kernel was proposed and accepted.
type Counts struct {
	Proposed int64
	Accepted int64
}

// Cycle is the weighted, randomized multiset of proposals a chain draws
// from, plus the per-kernel acceptance ledger.
//
// # Description
//
// Registering a kernel with weight w appends w copies of it to the cycle,
// so kernels are drawn in proportion to their weights. Shuffle produces a
// uniformly random permutation of the multiset and must be called after
// every membership change (including late registration of DE after
// burn-in). Draws index uniformly into the shuffled multiset with
// replacement; there is no draw-without-replacement pass over the
// permutation, so draws stay independent.
//
// The ledger is monotonically incremented and never reset during a run.
//
// Thread Safety: not safe for concurrent use. Owned by one chain.
type Cycle struct {
	rng      *rand.Rand
	entries  []Proposal
	shuffled []Proposal
	aux      []Auxiliary
	ledger   map[string]*Counts
}

// NewCycle returns an empty cycle drawing from rng.
func NewCycle(rng *rand.Rand) *Cycle {
	return &Cycle{
		rng:    rng,
		ledger: map[string]*Counts{},
	}
}

// Add appends weight copies of p to the cycle. A zero weight is a no-op:
// the cycle length and the acceptance ledger are left untouched.
func (c *Cycle) Add(p Proposal, weight int) {
	if weight <= 0 {
		return
	}
	for i := 0; i < weight; i++ {
		c.entries = append(c.entries, p)
	}
	if _, ok := c.ledger[p.Name()]; !ok {
		c.ledger[p.Name()] = &Counts{}
	}
}

// AddAuxiliary appends a post-processing proposal. Auxiliaries run after
// the primary kernel on every draw, in registration order.
func (c *Cycle) AddAuxiliary(a Auxiliary) {
	c.aux = append(c.aux, a)
}

// Validate checks the setup invariants once all registrations are done.
func (c *Cycle) Validate() error {
	if len(c.entries) == 0 {
		return ErrEmptyCycle
	}
	deOnly := true
	for _, p := range c.entries {
		if p.Name() != NameDifferentialEvolution {
			deOnly = false
			break
		}
	}
	if deOnly {
		return ErrDEOnly
	}
	return nil
}

// Shuffle rebuilds the randomized permutation of the multiset. Must be
// called after every mutation of membership so draws remain unbiased.
func (c *Cycle) Shuffle() {
	c.shuffled = make([]Proposal, len(c.entries))
	copy(c.shuffled, c.entries)
	c.rng.Shuffle(len(c.shuffled), func(i, j int) {
		c.shuffled[i], c.shuffled[j] = c.shuffled[j], c.shuffled[i]
	})
}

// Len returns the realized cycle length (sum of weights).
func (c *Cycle) Len() int { return len(c.entries) }

// Contains reports whether a kernel with the given name is in the cycle.
func (c *Cycle) Contains(name string) bool {
	for _, p := range c.entries {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// Draw picks one kernel uniformly at random from the shuffled cycle,
// applies it and then every auxiliary proposal, and increments the
// kernel's proposed count.
//
// Outputs:
//   - y: the candidate point after auxiliary corrections.
//   - logQxy: the summed log Hastings correction.
//   - name: the primary kernel's identifier, for acceptance bookkeeping.
//   - error: non-nil only if the cycle is empty or unshuffled.
func (c *Cycle) Draw(x []float64, pctx *Context) (y []float64, logQxy float64, name string, err error) {
	if len(c.entries) == 0 {
		return nil, 0, "", ErrEmptyCycle
	}
	if len(c.shuffled) != len(c.entries) {
		return nil, 0, "", errors.New("proposal: cycle was mutated without a reshuffle")
	}
	p := c.shuffled[c.rng.IntN(len(c.shuffled))]
	name = p.Name()
	c.ledger[name].Proposed++

	y, logQxy = p.Propose(x, pctx)
	for _, a := range c.aux {
		var q float64
		y, q = a.Apply(x, y, pctx.Iter, pctx.Beta)
		logQxy += q
	}
	return y, logQxy, name, nil
}

// RecordAccept increments the accepted count for a kernel.
func (c *Cycle) RecordAccept(name string) {
	if counts, ok := c.ledger[name]; ok {
		counts.Accepted++
	}
}

// Fractions returns each kernel's realized share of the cycle.
func (c *Cycle) Fractions() map[string]float64 {
	out := make(map[string]float64, len(c.ledger))
	if len(c.entries) == 0 {
		return out
	}
	for _, p := range c.entries {
		out[p.Name()] += 1 / float64(len(c.entries))
	}
	return out
}

// Ledger returns a copy of the acceptance ledger.
func (c *Cycle) Ledger() map[string]Counts {
	out := make(map[string]Counts, len(c.ledger))
	for name, counts := range c.ledger {
		out[name] = *counts
	}
	return out
}

// Names returns the registered kernel names in sorted order.
func (c *Cycle) Names() []string {
	out := make([]string, 0, len(c.ledger))
	for name := range c.ledger {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// String summarizes the cycle for logs.
func (c *Cycle) String() string {
	return fmt.Sprintf("cycle(len=%d, kernels=%v, aux=%d)", len(c.entries), c.Names(), len(c.aux))
}
