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
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProposal is wrapped by New for unregistered kernel names.
var ErrUnknownProposal = errors.New("proposal: unknown kernel")

// Constructor builds a fresh kernel instance for one chain.
type Constructor func() Proposal

// registry maps kernel identifiers to constructors. Populated at startup
// (built-ins in init, user kernels via Register); read-mostly afterwards.
var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a kernel constructor under the given name.
// Registering a duplicate name is a programming error and panics.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("proposal: duplicate registration of %q", name))
	}
	registry[name] = ctor
}

// New instantiates the kernel registered under name.
//
// Unknown names fail fast with an error listing every valid key, so a
// typo in a configured weight table surfaces at setup rather than deep
// in the run loop.
func New(name string) (Proposal, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q, valid kernels are: %s",
			ErrUnknownProposal, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names returns all registered kernel identifiers, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
