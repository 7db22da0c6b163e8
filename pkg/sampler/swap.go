// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sampleforge/ptmcmc/pkg/comm"
)

// swapCode reports what a chain's swap attempt did this iteration.
type swapCode int

const (
	// swapNone: no proposal was made (off cadence, or no hotter neighbor).
	swapNone swapCode = iota

	// swapRejected: a swap was proposed and the neighbor declined.
	swapRejected

	// swapAccepted: a swap was proposed and the states were exchanged.
	swapAccepted
)

// ptSwap runs both sides of the temperature swap protocol for one
// iteration.
//
// # Description
//
// Proposals flow strictly colder to hotter: chain r offers its state to
// chain r+1 on the swap cadence, and the hotter chain decides. The
// decider side is opportunistic, it services at most one pending
// proposal per iteration via a non-blocking probe, so a lagging
// neighbor never stalls the step loop. The proposer side blocks on the
// decision, which is bounded: its decider probes every iteration.
//
// The returned code reflects only this chain's proposer role; the swap
// counters belong to the proposing side of each adjacent pair.
func (c *chainRunner) ptSwap(ctx context.Context, iter int) (swapCode, error) {
	if c.size == 1 {
		return swapNone, nil
	}

	// Decider role: service a pending proposal from the colder neighbor.
	if c.rank > 0 {
		if payload, ok := c.ep.TryRecv(c.rank-1, comm.TagSwapProposal); ok {
			colderLogLike, good := payload.(float64)
			if !good {
				return swapNone, fmt.Errorf("sampler: unexpected swap proposal payload %T", payload)
			}
			if err := c.decideSwap(ctx, colderLogLike); err != nil {
				return swapNone, err
			}
		}
	}

	// Proposer role: on cadence, offer a swap to the hotter neighbor.
	if c.rank == c.size-1 || iter%c.cfg.SwapInterval != 0 {
		return swapNone, nil
	}
	return c.proposeSwap(ctx)
}

// decideSwap applies the swap criterion to a received proposal and, on
// acceptance, exchanges full states with the colder neighbor.
//
// Acceptance uses the detailed-balance quantity for adjacent tempered
// chains,
//
//	delta = (1/T_colder - 1/T_self) * (logLike_self - logLike_colder)
//
// accepted when delta > log(U). Both temperatures come from the ladder,
// even on a hot-mode chain: the 1e80 override changes how this chain
// tempers its posterior, not the exchange criterion, so the hot chain
// keeps trading states down the ladder at the ladder's own rate.
func (c *chainRunner) decideSwap(ctx context.Context, colderLogLike float64) error {
	colder := c.rank - 1
	colderTemp := c.temps[colder]
	ladderTemp := c.temps[c.rank]

	delta := (1/colderTemp - 1/ladderTemp) * (c.state.LogLike - colderLogLike)
	accept := delta > math.Log(c.rng.Float64())
	if err := c.ep.Send(ctx, colder, comm.TagSwapDecision, accept); err != nil {
		return err
	}
	if !accept {
		return nil
	}

	// Ship our state first, then take theirs; the proposer mirrors this
	// order, so the exchange cannot deadlock.
	mine := swapState{
		logLike: c.state.LogLike,
		x:       append([]float64(nil), c.state.X...),
	}
	if err := c.ep.Send(ctx, colder, comm.TagSwapPayload, mine); err != nil {
		return err
	}
	payload, err := c.ep.Recv(ctx, colder, comm.TagSwapPayload)
	if err != nil {
		return err
	}
	theirs, good := payload.(swapState)
	if !good {
		return fmt.Errorf("sampler: unexpected swap payload %T", payload)
	}
	c.installSwapped(theirs)
	return nil
}

// proposeSwap offers this chain's state to the hotter neighbor and
// blocks for the verdict.
func (c *chainRunner) proposeSwap(ctx context.Context) (swapCode, error) {
	hotter := c.rank + 1
	if err := c.ep.Send(ctx, hotter, comm.TagSwapProposal, c.state.LogLike); err != nil {
		return swapNone, err
	}
	payload, err := c.ep.Recv(ctx, hotter, comm.TagSwapDecision)
	if err != nil {
		return swapNone, err
	}
	accept, good := payload.(bool)
	if !good {
		return swapNone, fmt.Errorf("sampler: unexpected swap decision payload %T", payload)
	}
	if !accept {
		return swapRejected, nil
	}

	theirsPayload, err := c.ep.Recv(ctx, hotter, comm.TagSwapPayload)
	if err != nil {
		return swapNone, err
	}
	theirs, good := theirsPayload.(swapState)
	if !good {
		return swapNone, fmt.Errorf("sampler: unexpected swap payload %T", theirsPayload)
	}
	mine := swapState{
		logLike: c.state.LogLike,
		x:       append([]float64(nil), c.state.X...),
	}
	if err := c.ep.Send(ctx, hotter, comm.TagSwapPayload, mine); err != nil {
		return swapNone, err
	}
	c.installSwapped(theirs)
	return swapAccepted, nil
}

// installSwapped adopts a neighbor's state, re-tempering the posterior
// at this chain's own temperature.
func (c *chainRunner) installSwapped(s swapState) {
	logPost := math.Inf(-1)
	if lp := c.target.LogPrior(s.x); !math.IsInf(lp, -1) {
		logPost = s.logLike/c.temp + lp
	}
	c.state.SetState(s.x, s.logLike, logPost)
}

// shutdown runs the termination handshake after a chain leaves its
// iteration loop.
//
// The cold chain fans the stop signal out to every rank. Each hotter
// rank then keeps servicing straggling swap proposals from its colder
// neighbor, rejecting them so a blocked proposer can finish, until that
// neighbor's done marker arrives on the terminate link; it then posts
// its own marker for the next-hotter rank. The markers resolve in rank
// order, so no chain can exit while a peer still waits on it.
func (c *chainRunner) shutdown(ctx context.Context) error {
	if c.rank == 0 {
		for dest := 1; dest < c.size; dest++ {
			if err := c.ep.Send(ctx, dest, comm.TagTerminate, struct{}{}); err != nil {
				return err
			}
		}
	}

	if c.rank > 0 {
		for {
			if _, ok := c.ep.TryRecv(c.rank-1, comm.TagSwapProposal); ok {
				if err := c.ep.Send(ctx, c.rank-1, comm.TagSwapDecision, false); err != nil {
					return err
				}
				continue
			}
			if _, ok := c.ep.TryRecv(c.rank-1, comm.TagTerminate); ok {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(pollInterval)
		}
	}

	if c.rank < c.size-1 {
		if err := c.ep.Send(ctx, c.rank+1, comm.TagTerminate, struct{}{}); err != nil {
			return err
		}
	}
	c.log.Info("chain finished", "iters", c.itersDone)
	return nil
}
