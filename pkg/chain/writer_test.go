// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testRows() []Row {
	return []Row{
		{Params: []float64{1.5, -2.25}, LogPost: -10.125, LogLike: -9.5, AccFrac: 0.25, SwapFrac: 1},
		{Params: []float64{0.001, 3.75}, LogPost: -8.5, LogLike: -8, AccFrac: 0.25, SwapFrac: 1},
		{Params: []float64{-1e-12, 12345.678}, LogPost: -100.25, LogLike: -99.75, AccFrac: 0.5, SwapFrac: 0.5},
	}
}

func TestWriterFileNames(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if filepath.Base(w.Path()) != "chain_1.txt" {
		t.Errorf("path = %s, want chain_1.txt", w.Path())
	}
	hot, err := NewWriter(dir, 1e80, true, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if filepath.Base(hot.Path()) != "chain_hot.txt" {
		t.Errorf("hot path = %s, want chain_hot.txt", hot.Path())
	}
}

func TestWriteThenResumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	rows := testRows()
	if err := w.AppendBlock(rows); err != nil {
		t.Fatalf("AppendBlock failed: %v", err)
	}

	r, err := LoadResume(w.Path(), 2)
	if err != nil {
		t.Fatalf("LoadResume failed: %v", err)
	}
	if r.Len() != len(rows) {
		t.Fatalf("recovered %d rows, want %d", r.Len(), len(rows))
	}
	for i, want := range rows {
		got := r.Row(i)
		for j := range want.Params {
			if got.Params[j] != want.Params[j] {
				t.Errorf("row %d param %d = %g, want exact %g", i, j, got.Params[j], want.Params[j])
			}
		}
		if got.LogPost != want.LogPost || got.LogLike != want.LogLike {
			t.Errorf("row %d densities did not round-trip: %+v", i, got)
		}
		if math.Abs(got.AccFrac-want.AccFrac) > 1e-6 {
			t.Errorf("row %d accFrac = %g, want %g", i, got.AccFrac, want.AccFrac)
		}
	}

	x, logLike, logPost := r.First()
	if x[0] != 1.5 || logLike != -9.5 || logPost != -10.125 {
		t.Errorf("First() = %v, %g, %g", x, logLike, logPost)
	}
}

func TestResumeDropsMalformedTrailingLine(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.AppendBlock(testRows()); err != nil {
		t.Fatalf("AppendBlock failed: %v", err)
	}
	// Simulate a run killed mid-write.
	f, err := os.OpenFile(w.Path(), os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.WriteString("1.5\t-2.2")
	f.Close()

	r, err := LoadResume(w.Path(), 2)
	if err != nil {
		t.Fatalf("LoadResume must repair a torn trailing line: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("recovered %d rows, want 3", r.Len())
	}
}

func TestResumeRejectsMalformedMiddleLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain_1.txt")
	content := strings.Join([]string{
		"1\t2\t-3\t-2\t0.5\t1",
		"garbage line",
		"1\t2\t-3\t-2\t0.5\t1",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadResume(path, 2); err == nil {
		t.Error("a malformed middle line must be a hard error")
	}
}

func TestResumeMissingFile(t *testing.T) {
	if _, err := LoadResume(filepath.Join(t.TempDir(), "nope.txt"), 2); err == nil {
		t.Error("missing resume file must fail")
	}
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.AppendBlock(testRows()); err != nil {
		t.Fatalf("AppendBlock failed: %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("file not empty after truncate: %d bytes", len(data))
	}
}

func TestAppendBlockDimCheck(t *testing.T) {
	w, err := NewWriter(t.TempDir(), 1, false, 3)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	bad := []Row{{Params: []float64{1, 2}}}
	if err := w.AppendBlock(bad); err == nil {
		t.Error("wrong param count must fail")
	}
}

func TestWriteCovariance(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	cov := mat.NewSymDense(2, []float64{4, 0.5, 0.5, 1})
	if err := w.WriteCovariance(cov); err != nil {
		t.Fatalf("WriteCovariance failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "cov.tsv"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("cov.tsv has %d lines, want 2", len(lines))
	}
	if got := len(strings.Split(lines[0], "\t")); got != 2 {
		t.Errorf("cov.tsv row has %d columns, want 2", got)
	}
}

func TestCycleFractionsAndAcceptanceFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1, false, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.WriteCycleFractions(map[string]float64{"SCAM": 0.5, "AdaptiveMetropolis": 0.5}); err != nil {
		t.Fatalf("WriteCycleFractions failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "jumps.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "AdaptiveMetropolis") {
		t.Errorf("jumps.txt = %q, want sorted kernel lines", string(data))
	}

	if err := w.ResetAcceptance([]string{"SCAM"}); err != nil {
		t.Fatalf("ResetAcceptance failed: %v", err)
	}
	if err := w.AppendAcceptance("SCAM", 0.25); err != nil {
		t.Fatalf("AppendAcceptance failed: %v", err)
	}
	if err := w.AppendAcceptance("SCAM", 0.5); err != nil {
		t.Fatalf("AppendAcceptance failed: %v", err)
	}
	data, err = os.ReadFile(filepath.Join(dir, "SCAM_jump.txt"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "0.25\n0.5" {
		t.Errorf("SCAM_jump.txt = %q", got)
	}

	// ResetAcceptance starts a fresh history.
	if err := w.ResetAcceptance([]string{"SCAM"}); err != nil {
		t.Fatalf("ResetAcceptance failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "SCAM_jump.txt"))
	if len(data) != 0 {
		t.Errorf("acceptance file not truncated: %q", string(data))
	}
}
