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
	"strconv"
	"strings"
)

// Resume holds a previously written chain file parsed back into rows.
//
// The step driver replays these rows instead of sampling until the
// recorded length is exhausted, after which organic sampling resumes.
type Resume struct {
	ndim int
	rows []Row
}

// LoadResume parses a chain file written by Writer.
//
// A malformed trailing line (the usual artifact of a run killed mid-write)
// is dropped and the parse retried once; a malformed line anywhere else,
// or a second failure, is a hard error.
func LoadResume(path string, ndim int) (*Resume, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	rows, badLine, err := parseRows(lines, ndim)
	if err != nil && badLine == len(lines)-1 {
		// Drop the malformed trailing line and retry once.
		rows, _, err = parseRows(lines[:len(lines)-1], ndim)
	}
	if err != nil {
		return nil, fmt.Errorf("chain: resume file %s: %w", path, err)
	}
	return &Resume{ndim: ndim, rows: rows}, nil
}

// Len returns the number of recovered rows.
func (r *Resume) Len() int { return len(r.rows) }

// Row returns recovered row i.
func (r *Resume) Row(i int) Row { return r.rows[i] }

// First returns the state re-derived from the first recovered row: the
// parameter vector, log-likelihood, and log-posterior.
func (r *Resume) First() (x []float64, logLike, logPost float64) {
	row := r.rows[0]
	return row.Params, row.LogLike, row.LogPost
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chain: open resume file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("chain: read resume file: %w", err)
	}
	return lines, nil
}

// parseRows parses every line into a Row. On failure it reports the index
// of the offending line so the caller can decide whether it is repairable.
func parseRows(lines []string, ndim int) ([]Row, int, error) {
	want := ndim + 4
	rows := make([]Row, 0, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != want {
			return nil, i, fmt.Errorf("line %d has %d fields, want %d", i+1, len(fields), want)
		}
		vals := make([]float64, want)
		for j, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, i, fmt.Errorf("line %d field %d: %w", i+1, j+1, err)
			}
			vals[j] = v
		}
		rows = append(rows, Row{
			Params:   vals[:ndim],
			LogPost:  vals[ndim],
			LogLike:  vals[ndim+1],
			AccFrac:  vals[ndim+2],
			SwapFrac: vals[ndim+3],
		})
	}
	return rows, -1, nil
}
