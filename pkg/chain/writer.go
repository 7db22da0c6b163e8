// Copyright (C) 2025 Sampleforge (oss@sampleforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Row is one persisted trajectory sample: the parameter vector followed by
// the log-posterior, log-likelihood, running acceptance fraction, and
// running swap-acceptance fraction.
type Row struct {
	Params   []float64
	LogPost  float64
	LogLike  float64
	AccFrac  float64
	SwapFrac float64
}

// Writer persists one chain's trajectory and diagnostics under an output
// directory.
//
// Chain files are tab-separated, one row per recorded sample, with ndim
// parameter columns followed by the four bookkeeping columns. Parameter
// and density columns round-trip exactly through the resume reader.
//
// I/O failures during writes propagate: a partial or corrupt chain file
// must not go undetected. Only the idempotent already-exists case of
// directory creation is tolerated.
type Writer struct {
	outDir string
	path   string
	ndim   int
}

// NewWriter creates the output directory if needed and returns a writer
// for the chain at the given temperature. Hot-mode chains persist to
// chain_hot.txt, everything else to chain_<T>.txt.
func NewWriter(outDir string, temp float64, hot bool, ndim int) (*Writer, error) {
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return nil, fmt.Errorf("chain: create output dir %s: %w", outDir, err)
	}
	name := "chain_" + strconv.FormatFloat(temp, 'g', -1, 64) + ".txt"
	if hot {
		name = "chain_hot.txt"
	}
	return &Writer{
		outDir: outDir,
		path:   filepath.Join(outDir, name),
		ndim:   ndim,
	}, nil
}

// Path returns the chain file path.
func (w *Writer) Path() string { return w.path }

// Truncate resets the chain file to empty for a fresh (non-resumed) run.
func (w *Writer) Truncate() error {
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("chain: truncate %s: %w", w.path, err)
	}
	return f.Close()
}

// AppendBlock appends rows to the chain file.
func (w *Writer) AppendBlock(rows []Row) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("chain: open %s: %w", w.path, err)
	}
	bw := bufio.NewWriter(f)
	for _, row := range rows {
		if len(row.Params) != w.ndim {
			f.Close()
			return fmt.Errorf("chain: row has %d params, want %d", len(row.Params), w.ndim)
		}
		for _, v := range row.Params {
			bw.WriteString(strconv.FormatFloat(v, 'e', 17, 64))
			bw.WriteByte('\t')
		}
		bw.WriteString(strconv.FormatFloat(row.LogPost, 'e', 17, 64))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatFloat(row.LogLike, 'e', 17, 64))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatFloat(row.AccFrac, 'f', 6, 64))
		bw.WriteByte('\t')
		bw.WriteString(strconv.FormatFloat(row.SwapFrac, 'f', 6, 64))
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("chain: write %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chain: close %s: %w", w.path, err)
	}
	return nil
}

// WriteCovariance overwrites the covariance snapshot (cov.tsv) with the
// full matrix, tab-separated, one row per line.
func (w *Writer) WriteCovariance(cov mat.Symmetric) error {
	path := filepath.Join(w.outDir, "cov.tsv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chain: create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(strconv.FormatFloat(cov.At(i, j), 'e', 17, 64))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("chain: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chain: close %s: %w", path, err)
	}
	return nil
}

// WriteCycleFractions overwrites jumps.txt with each kernel's realized
// share of the proposal cycle.
func (w *Writer) WriteCycleFractions(fractions map[string]float64) error {
	path := filepath.Join(w.outDir, "jumps.txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chain: create %s: %w", path, err)
	}
	names := make([]string, 0, len(fractions))
	for name := range fractions {
		names = append(names, name)
	}
	sort.Strings(names)
	bw := bufio.NewWriter(f)
	for _, name := range names {
		fmt.Fprintf(bw, "%s %4.2g\n", name, fractions[name])
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("chain: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chain: close %s: %w", path, err)
	}
	return nil
}

// ResetAcceptance truncates each kernel's <name>_jump.txt file for a
// fresh run, so acceptance histories never mix across runs.
func (w *Writer) ResetAcceptance(names []string) error {
	for _, name := range names {
		path := filepath.Join(w.outDir, name+"_jump.txt")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("chain: truncate %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("chain: close %s: %w", path, err)
		}
	}
	return nil
}

// AppendAcceptance appends one accepted/proposed ratio line to the
// kernel's <name>_jump.txt file.
func (w *Writer) AppendAcceptance(name string, ratio float64) error {
	path := filepath.Join(w.outDir, name+"_jump.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("chain: open %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%g\n", ratio); err != nil {
		f.Close()
		return fmt.Errorf("chain: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chain: close %s: %w", path, err)
	}
	return nil
}
