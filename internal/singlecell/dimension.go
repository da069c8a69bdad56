// Package singlecell defines the in-memory model produced by the format
// loaders: samples, cell dimensions, quantitation types, cell-level
// characteristics and sparse expression vectors.
package singlecell

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNonContiguous is returned when the cells of a sample are interleaved
	// with the cells of another sample.
	ErrNonContiguous = errors.New("cells of a sample are not contiguous")
	// ErrInvalidDimension is returned for inconsistent offsets or cell counts.
	ErrInvalidDimension = errors.New("invalid cell dimension")
)

// Sample is a candidate sample identity that raw sample names in data files
// are resolved against.
type Sample struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name,omitempty" yaml:"name"`
	Accession string   `json:"accession,omitempty" yaml:"accession"`
	Aliases   []string `json:"aliases,omitempty" yaml:"aliases"`
}

func (s *Sample) String() string {
	if s.Name != "" && s.Name != s.ID {
		return fmt.Sprintf("%s (%s)", s.ID, s.Name)
	}
	return s.ID
}

// Identifiers returns every string the sample may be referred to by.
func (s *Sample) Identifiers() []string {
	ids := []string{s.ID}
	if s.Name != "" {
		ids = append(ids, s.Name)
	}
	if s.Accession != "" {
		ids = append(ids, s.Accession)
	}
	return append(ids, s.Aliases...)
}

// CellDimension is the ordered, sample-partitioned list of cell identifiers
// underlying a set of single-cell vectors. Samples[i] owns the cells in
// [Offsets[i], Offsets[i+1]) (or up to len(CellIDs) for the last sample).
type CellDimension struct {
	CellIDs []string
	Samples []*Sample
	Offsets []int
}

// NewCellDimension validates and returns a cell dimension.
func NewCellDimension(cellIDs []string, samples []*Sample, offsets []int) (*CellDimension, error) {
	d := &CellDimension{CellIDs: cellIDs, Samples: samples, Offsets: offsets}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// EmptyCellDimension returns a dimension with no samples and no cells.
func EmptyCellDimension() *CellDimension {
	return &CellDimension{CellIDs: []string{}, Samples: []*Sample{}, Offsets: []int{}}
}

// Validate checks the offset array against the cell list.
func (d *CellDimension) Validate() error {
	if len(d.Offsets) != len(d.Samples) {
		return fmt.Errorf("%w: %d offsets for %d samples", ErrInvalidDimension, len(d.Offsets), len(d.Samples))
	}
	seen := make(map[*Sample]bool, len(d.Samples))
	for i, off := range d.Offsets {
		if seen[d.Samples[i]] {
			return fmt.Errorf("%w: sample %s appears more than once", ErrInvalidDimension, d.Samples[i])
		}
		seen[d.Samples[i]] = true
		if i == 0 && off != 0 {
			return fmt.Errorf("%w: first offset must be 0, got %d", ErrInvalidDimension, off)
		}
		if i > 0 && off < d.Offsets[i-1] {
			return fmt.Errorf("%w: offsets decrease at sample %s", ErrInvalidDimension, d.Samples[i])
		}
		if off > len(d.CellIDs) {
			return fmt.Errorf("%w: offset %d of sample %s exceeds %d cells", ErrInvalidDimension, off, d.Samples[i], len(d.CellIDs))
		}
	}
	if len(d.Samples) == 0 && len(d.CellIDs) > 0 {
		return fmt.Errorf("%w: %d cells without any sample", ErrInvalidDimension, len(d.CellIDs))
	}
	return nil
}

// NumCells returns the total number of cells.
func (d *CellDimension) NumCells() int {
	return len(d.CellIDs)
}

// NumCellsBySample returns the number of cells of the i-th sample.
func (d *CellDimension) NumCellsBySample(i int) int {
	if i == len(d.Offsets)-1 {
		return len(d.CellIDs) - d.Offsets[i]
	}
	return d.Offsets[i+1] - d.Offsets[i]
}

// CellIDsBySample returns the cell identifiers of the i-th sample.
func (d *CellDimension) CellIDsBySample(i int) []string {
	return d.CellIDs[d.Offsets[i] : d.Offsets[i]+d.NumCellsBySample(i)]
}

// SampleIndex returns the position of s in the dimension, or -1.
func (d *CellDimension) SampleIndex(s *Sample) int {
	for i, x := range d.Samples {
		if x == s || x.ID == s.ID {
			return i
		}
	}
	return -1
}

// SampleAt returns the index of the sample owning cell position pos.
func (d *CellDimension) SampleAt(pos int) int {
	if pos < 0 || pos >= len(d.CellIDs) {
		return -1
	}
	return sort.Search(len(d.Offsets), func(i int) bool { return d.Offsets[i] > pos }) - 1
}

// Range is the half-open span [Start, Start+Len) of a sample's cells.
type Range struct {
	Start int
	Len   int
}

// End returns the exclusive end of the range.
func (r Range) End() int { return r.Start + r.Len }

// SampleOffsetIndex maps sample ids to their range in a cell dimension.
type SampleOffsetIndex map[string]Range

// OffsetIndex derives the sample offset index. It is rebuilt on every call.
func (d *CellDimension) OffsetIndex() SampleOffsetIndex {
	idx := make(SampleOffsetIndex, len(d.Samples))
	for i, s := range d.Samples {
		idx[s.ID] = Range{Start: d.Offsets[i], Len: d.NumCellsBySample(i)}
	}
	return idx
}

// GroupContiguous partitions per-cell sample labels into contiguous runs.
// A label reappearing after a different label fails with ErrNonContiguous.
// Empty labels are treated as a label of their own.
func GroupContiguous(labels []string) (names []string, starts []int, err error) {
	done := make(map[string]bool)
	for i, l := range labels {
		if i > 0 && labels[i-1] == l {
			continue
		}
		if done[l] {
			return nil, nil, fmt.Errorf("%w: sample %q reappears at position %d", ErrNonContiguous, l, i)
		}
		done[l] = true
		names = append(names, l)
		starts = append(starts, i)
	}
	return names, starts, nil
}
