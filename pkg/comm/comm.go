// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package comm provides the point-to-point messaging layer used to
// coordinate parallel tempering chains.
//
// # Description
//
// Each chain runs as an independent process advancing its own iteration
// loop; the only shared resources between chains are the message links
// defined here. Coordination happens over a small fixed set of logical
// channels (tags): covariance broadcasts, DE buffer broadcasts, the
// three-phase swap protocol, and the termination signal.
//
// The interface deliberately mirrors a minimal MPI subset: blocking send
// and receive for the bounded swap handshake, plus a non-blocking receive
// (TryRecv) for everything a chain merely polls for between steps. There
// is no shared memory; payloads must be treated as owned by the receiver
// after delivery.
//
// # Thread Safety
//
// An Endpoint is owned by exactly one chain goroutine. The Group may hand
// out endpoints concurrently; message links are safe by construction
// (one writer side, one reader side per directed link and tag).
package comm

import (
	"context"
	"fmt"
)

// Tag identifies one of the fixed logical channels between chains.
type Tag int

const (
	// TagCovariance carries the full covariance matrix, cold chain to all.
	TagCovariance Tag = iota

	// TagDEBuffer carries the differential evolution history buffer,
	// cold chain to all.
	TagDEBuffer

	// TagSwapProposal carries a proposer's log-likelihood to its
	// next-hotter neighbor.
	TagSwapProposal

	// TagSwapDecision carries the decider's accept/reject verdict back.
	TagSwapDecision

	// TagSwapPayload carries the exchanged likelihood and parameter
	// vector once a swap is accepted.
	TagSwapPayload

	// TagTerminate carries the cold chain's stop signal.
	TagTerminate

	numTags
)

// String returns the tag name for logging.
func (t Tag) String() string {
	switch t {
	case TagCovariance:
		return "covariance"
	case TagDEBuffer:
		return "de_buffer"
	case TagSwapProposal:
		return "swap_proposal"
	case TagSwapDecision:
		return "swap_decision"
	case TagSwapPayload:
		return "swap_payload"
	case TagTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Endpoint is one chain's handle on the ensemble's message links.
//
// Send and Recv block until the transfer completes or ctx is cancelled;
// they are used only where the protocol guarantees a bounded wait (a swap
// proposer always has exactly one decider). TryRecv never blocks and is
// the primitive behind every polling site.
type Endpoint interface {
	// Rank returns this chain's position in the temperature ladder.
	Rank() int

	// Size returns the number of cooperating chains.
	Size() int

	// Send delivers payload to dest on the given tag. Blocks if the link
	// is full until the receiver drains it or ctx is cancelled.
	Send(ctx context.Context, dest int, tag Tag, payload any) error

	// Recv blocks until a payload arrives from source on the given tag
	// or ctx is cancelled.
	Recv(ctx context.Context, source int, tag Tag) (any, error)

	// TryRecv returns the next pending payload from source on the given
	// tag, or (nil, false) if none has arrived. Never blocks.
	TryRecv(source int, tag Tag) (any, bool)
}

// linkDepth bounds how many undrained messages a single directed link can
// hold. Broadcast tags are drained every iteration, so a shallow buffer is
// enough to keep the cold chain from stalling on a lagging hot chain.
const linkDepth = 16

// Group owns the full mesh of message links for one ensemble run.
type Group struct {
	size  int
	links []chan any
}

// NewGroup creates the link mesh for size chains.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size must be >= 1, got %d", size)
	}
	links := make([]chan any, size*size*int(numTags))
	for i := range links {
		links[i] = make(chan any, linkDepth)
	}
	return &Group{size: size, links: links}, nil
}

// Size returns the number of chains in the group.
func (g *Group) Size() int { return g.size }

// Endpoint returns the endpoint for the given rank.
func (g *Group) Endpoint(rank int) (Endpoint, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("comm: rank %d out of range [0,%d)", rank, g.size)
	}
	return &endpoint{group: g, rank: rank}, nil
}

func (g *Group) link(source, dest int, tag Tag) chan any {
	return g.links[(dest*g.size+source)*int(numTags)+int(tag)]
}

type endpoint struct {
	group *Group
	rank  int
}

func (e *endpoint) Rank() int { return e.rank }
func (e *endpoint) Size() int { return e.group.size }

func (e *endpoint) Send(ctx context.Context, dest int, tag Tag, payload any) error {
	if dest < 0 || dest >= e.group.size {
		return fmt.Errorf("comm: send to rank %d out of range [0,%d)", dest, e.group.size)
	}
	if dest == e.rank {
		return fmt.Errorf("comm: rank %d cannot send to itself", e.rank)
	}
	select {
	case e.group.link(e.rank, dest, tag) <- payload:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("comm: send %s to rank %d: %w", tag, dest, ctx.Err())
	}
}

func (e *endpoint) Recv(ctx context.Context, source int, tag Tag) (any, error) {
	if source < 0 || source >= e.group.size {
		return nil, fmt.Errorf("comm: recv from rank %d out of range [0,%d)", source, e.group.size)
	}
	select {
	case payload := <-e.group.link(source, e.rank, tag):
		return payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("comm: recv %s from rank %d: %w", tag, source, ctx.Err())
	}
}

func (e *endpoint) TryRecv(source int, tag Tag) (any, bool) {
	if source < 0 || source >= e.group.size {
		return nil, false
	}
	select {
	case payload := <-e.group.link(source, e.rank, tag):
		return payload, true
	default:
		return nil, false
	}
}
