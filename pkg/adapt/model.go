// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapt

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model holds the committed covariance matrix and its per-group SVD
// factorization.
//
// # Description
//
// Parameter groups are ordered index sets over which a joint covariance
// block is estimated; adaptive kernels jump within one group at a time.
// For each group g the model keeps orthonormal directions U_g and singular
// values S_g of that group's covariance submatrix. The invariant is that
// (U_g, S_g) are always consistent with the most recently committed
// covariance: SetCovariance recomputes every factorization together,
// never leaving a group stale.
//
// Factorization is eager on every commit, matching the broadcast-receipt
// behavior of the reference protocol.
//
// Thread Safety: not safe for concurrent use. Owned by one chain.
type Model struct {
	dim    int
	groups [][]int
	cov    *mat.SymDense
	u      []*mat.Dense
	s      [][]float64
}

// NewModel builds a model from an initial covariance and parameter groups.
//
// Inputs:
//   - cov: initial dim x dim covariance matrix. Copied, not retained.
//   - groups: parameter index groups. nil means one group spanning all
//     indices. Every index must lie in [0, dim).
//
// Outputs:
//   - *Model: factorized model.
//   - error: non-nil on bad group indices or a failed factorization.
func NewModel(cov mat.Symmetric, groups [][]int) (*Model, error) {
	dim := cov.SymmetricDim()
	if groups == nil {
		all := make([]int, dim)
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	}
	for gi, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("adapt: group %d is empty", gi)
		}
		for _, idx := range group {
			if idx < 0 || idx >= dim {
				return nil, fmt.Errorf("adapt: group %d index %d out of range [0,%d)", gi, idx, dim)
			}
		}
	}

	// Each group gets its own independently allocated factor slots.
	m := &Model{
		dim:    dim,
		groups: groups,
		cov:    mat.NewSymDense(dim, nil),
		u:      make([]*mat.Dense, len(groups)),
		s:      make([][]float64, len(groups)),
	}
	if err := m.SetCovariance(cov); err != nil {
		return nil, err
	}
	return m, nil
}

// Dim returns the full problem dimensionality.
func (m *Model) Dim() int { return m.dim }

// Groups returns the parameter groups. The returned slice is shared;
// callers must not mutate it.
func (m *Model) Groups() [][]int { return m.groups }

// NumGroups returns the number of parameter groups.
func (m *Model) NumGroups() int { return len(m.groups) }

// SetCovariance installs a new covariance matrix and refactors every
// group submatrix. On error the previous factorization is left intact.
func (m *Model) SetCovariance(cov mat.Symmetric) error {
	if n := cov.SymmetricDim(); n != m.dim {
		return fmt.Errorf("adapt: covariance has dim %d, want %d", n, m.dim)
	}
	u := make([]*mat.Dense, len(m.groups))
	s := make([][]float64, len(m.groups))
	for gi, group := range m.groups {
		g := len(group)
		sub := mat.NewDense(g, g, nil)
		for i := 0; i < g; i++ {
			for j := 0; j < g; j++ {
				sub.Set(i, j, cov.At(group[i], group[j]))
			}
		}
		var svd mat.SVD
		if ok := svd.Factorize(sub, mat.SVDFull); !ok {
			return fmt.Errorf("adapt: SVD failed for group %d", gi)
		}
		u[gi] = new(mat.Dense)
		svd.UTo(u[gi])
		s[gi] = svd.Values(nil)
	}
	for i := 0; i < m.dim; i++ {
		for j := i; j < m.dim; j++ {
			m.cov.SetSym(i, j, cov.At(i, j))
		}
	}
	m.u = u
	m.s = s
	return nil
}

// Covariance returns the committed covariance matrix. Read-only view.
func (m *Model) Covariance() mat.Symmetric { return m.cov }

// Snapshot returns an independent copy of the committed covariance,
// suitable for broadcasting to another chain.
func (m *Model) Snapshot() *mat.SymDense {
	out := mat.NewSymDense(m.dim, nil)
	out.CopySym(m.cov)
	return out
}

// GroupFactors returns (U_g, S_g) for group gi. Read-only views.
func (m *Model) GroupFactors(gi int) (*mat.Dense, []float64) {
	return m.u[gi], m.s[gi]
}
