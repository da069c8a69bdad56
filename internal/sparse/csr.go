// Package sparse provides compressed sparse row matrices and the row and
// column selections used to reindex single-cell expression data.
package sparse

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfRange is returned when a requested row or column does not exist.
var ErrOutOfRange = errors.New("index out of range")

// CSR is a compressed sparse row matrix. Row i owns the half-open range
// IndPtr[i]:IndPtr[i+1] of Indices and Data.
type CSR struct {
	Rows    int
	Cols    int
	IndPtr  []int
	Indices []int
	Data    []float64
}

// New validates the raw buffers and wraps them in a CSR without copying.
func New(rows, cols int, indptr, indices []int, data []float64) (*CSR, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid shape %dx%d", rows, cols)
	}
	if len(indptr) != rows+1 {
		return nil, fmt.Errorf("indptr has %d entries, expected %d", len(indptr), rows+1)
	}
	if len(indices) != len(data) {
		return nil, fmt.Errorf("indices and data differ in length: %d != %d", len(indices), len(data))
	}
	if indptr[0] != 0 || indptr[rows] != len(indices) {
		return nil, fmt.Errorf("indptr must span [0, %d], got [%d, %d]", len(indices), indptr[0], indptr[rows])
	}
	for i := 0; i < rows; i++ {
		if indptr[i] > indptr[i+1] {
			return nil, fmt.Errorf("indptr is decreasing at row %d", i)
		}
	}
	for k, c := range indices {
		if c < 0 || c >= cols {
			return nil, fmt.Errorf("column %d at position %d: %w", c, k, ErrOutOfRange)
		}
	}
	return &CSR{Rows: rows, Cols: cols, IndPtr: indptr, Indices: indices, Data: data}, nil
}

// FromTriplets builds a canonical CSR (column indices sorted within each row)
// from coordinate entries. Duplicate coordinates are kept as separate entries.
func FromTriplets(rows, cols int, r, c []int, v []float64) (*CSR, error) {
	if len(r) != len(c) || len(r) != len(v) {
		return nil, fmt.Errorf("triplet buffers differ in length: %d, %d, %d", len(r), len(c), len(v))
	}
	indptr := make([]int, rows+1)
	for k := range r {
		if r[k] < 0 || r[k] >= rows {
			return nil, fmt.Errorf("row %d of entry %d: %w", r[k], k, ErrOutOfRange)
		}
		if c[k] < 0 || c[k] >= cols {
			return nil, fmt.Errorf("column %d of entry %d: %w", c[k], k, ErrOutOfRange)
		}
		indptr[r[k]+1]++
	}
	for i := 0; i < rows; i++ {
		indptr[i+1] += indptr[i]
	}
	next := make([]int, rows)
	copy(next, indptr[:rows])
	indices := make([]int, len(r))
	data := make([]float64, len(r))
	for k := range r {
		p := next[r[k]]
		indices[p] = c[k]
		data[p] = v[k]
		next[r[k]]++
	}
	m := &CSR{Rows: rows, Cols: cols, IndPtr: indptr, Indices: indices, Data: data}
	m.SortIndices()
	return m, nil
}

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int {
	return len(m.Indices)
}

// Row returns the stored column indices and values of row i. The slices
// alias the matrix buffers.
func (m *CSR) Row(i int) ([]int, []float64) {
	lo, hi := m.IndPtr[i], m.IndPtr[i+1]
	return m.Indices[lo:hi], m.Data[lo:hi]
}

// SortIndices sorts the column indices of every row in place.
func (m *CSR) SortIndices() {
	for i := 0; i < m.Rows; i++ {
		lo, hi := m.IndPtr[i], m.IndPtr[i+1]
		if sort.IntsAreSorted(m.Indices[lo:hi]) {
			continue
		}
		sort.Sort(rowSorter{idx: m.Indices[lo:hi], val: m.Data[lo:hi]})
	}
}

// Canonical reports whether every row has strictly increasing column indices.
func (m *CSR) Canonical() bool {
	for i := 0; i < m.Rows; i++ {
		for k := m.IndPtr[i] + 1; k < m.IndPtr[i+1]; k++ {
			if m.Indices[k-1] >= m.Indices[k] {
				return false
			}
		}
	}
	return true
}

// NonEmptyColumns returns, in increasing order, the columns holding at least
// one non-zero value.
func (m *CSR) NonEmptyColumns() []int {
	seen := make([]bool, m.Cols)
	for k, c := range m.Indices {
		if m.Data[k] != 0 {
			seen[c] = true
		}
	}
	var out []int
	for c, ok := range seen {
		if ok {
			out = append(out, c)
		}
	}
	return out
}

type rowSorter struct {
	idx []int
	val []float64
}

func (s rowSorter) Len() int           { return len(s.idx) }
func (s rowSorter) Less(i, j int) bool { return s.idx[i] < s.idx[j] }
func (s rowSorter) Swap(i, j int) {
	s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
	s.val[i], s.val[j] = s.val[j], s.val[i]
}
