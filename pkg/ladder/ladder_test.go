// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ladder

import (
	"math"
	"testing"
)

func TestGeometricHeuristicSpacing(t *testing.T) {
	// tmax unset selects the 1 + sqrt(2/ndim) step ratio.
	temps, err := Geometric(8, 4, 1, 0)
	if err != nil {
		t.Fatalf("Geometric failed: %v", err)
	}
	if len(temps) != 4 {
		t.Fatalf("got %d temperatures, want 4", len(temps))
	}
	if temps[0] != 1 {
		t.Errorf("ladder must start at tmin, got %g", temps[0])
	}
	wantStep := 1 + math.Sqrt(2.0/8.0)
	for i := 0; i+1 < len(temps); i++ {
		ratio := temps[i+1] / temps[i]
		if math.Abs(ratio-wantStep) > 1e-12 {
			t.Errorf("step %d ratio = %g, want %g", i, ratio, wantStep)
		}
	}
}

func TestGeometricExplicitTmax(t *testing.T) {
	temps, err := Geometric(8, 4, 1, 8)
	if err != nil {
		t.Fatalf("Geometric failed: %v", err)
	}
	if math.Abs(temps[3]-8) > 1e-9 {
		t.Errorf("hottest temperature = %g, want 8", temps[3])
	}
	for i := 0; i+1 < len(temps); i++ {
		if math.Abs(temps[i+1]/temps[i]-2) > 1e-9 {
			t.Errorf("step %d ratio = %g, want 2", i, temps[i+1]/temps[i])
		}
	}
}

func TestGeometricSingleChain(t *testing.T) {
	temps, err := Geometric(3, 1, 1, 100)
	if err != nil {
		t.Fatalf("Geometric failed: %v", err)
	}
	if len(temps) != 1 || temps[0] != 1 {
		t.Errorf("single-chain ladder = %v, want [1]", temps)
	}
}

func TestGeometricAscending(t *testing.T) {
	temps, err := Geometric(50, 8, 1, 0)
	if err != nil {
		t.Fatalf("Geometric failed: %v", err)
	}
	for i := 0; i+1 < len(temps); i++ {
		if temps[i+1] <= temps[i] {
			t.Fatalf("ladder not strictly ascending at %d: %v", i, temps)
		}
	}
}

func TestGeometricInvalidInputs(t *testing.T) {
	cases := []struct {
		name         string
		ndim, nchain int
		tmin, tmax   float64
	}{
		{"zero ndim", 0, 4, 1, 0},
		{"zero nchain", 3, 0, 1, 0},
		{"zero tmin", 3, 4, 0, 0},
		{"tmax below tmin", 3, 4, 2, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Geometric(tc.ndim, tc.nchain, tc.tmin, tc.tmax); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
