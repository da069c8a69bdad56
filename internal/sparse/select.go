package sparse

import (
	"fmt"
	"sort"
)

// SelectRows returns a matrix whose row i is a verbatim copy of row rows[i]
// of m. Rows may repeat and appear in any order.
func SelectRows(m *CSR, rows []int) (*CSR, error) {
	nnz := 0
	for _, r := range rows {
		if r < 0 || r >= m.Rows {
			return nil, fmt.Errorf("row %d of %d: %w", r, m.Rows, ErrOutOfRange)
		}
		nnz += m.IndPtr[r+1] - m.IndPtr[r]
	}
	out := &CSR{
		Rows:    len(rows),
		Cols:    m.Cols,
		IndPtr:  make([]int, 1, len(rows)+1),
		Indices: make([]int, 0, nnz),
		Data:    make([]float64, 0, nnz),
	}
	for _, r := range rows {
		lo, hi := m.IndPtr[r], m.IndPtr[r+1]
		out.Indices = append(out.Indices, m.Indices[lo:hi]...)
		out.Data = append(out.Data, m.Data[lo:hi]...)
		out.IndPtr = append(out.IndPtr, len(out.Indices))
	}
	return out, nil
}

// SelectColumns returns a matrix with len(cols) columns where column j holds
// column cols[j] of m. The rows of m must be canonical. Entries of an output
// row follow the order of cols, so the result is only canonical when cols is
// strictly increasing.
//
// When cols is sorted, lookups within a row resume from the previous hit; when
// it is also free of duplicates, the row scan stops once the row is exhausted.
// Both shortcuts produce the same output as a full binary search per column.
func SelectColumns(m *CSR, cols []int) (*CSR, error) {
	sorted, unique := true, true
	for j, c := range cols {
		if c < 0 || c >= m.Cols {
			return nil, fmt.Errorf("column %d of %d: %w", c, m.Cols, ErrOutOfRange)
		}
		if j > 0 {
			if cols[j-1] > c {
				sorted = false
			} else if cols[j-1] == c {
				unique = false
			}
		}
	}
	if !sorted {
		// duplicates only matter for the sorted fast path
		unique = false
	}

	out := &CSR{
		Rows:   m.Rows,
		Cols:   len(cols),
		IndPtr: make([]int, 1, m.Rows+1),
	}
	for i := 0; i < m.Rows; i++ {
		lo, hi := m.IndPtr[i], m.IndPtr[i+1]
		start := lo
		for j, c := range cols {
			if unique && start >= hi {
				break
			}
			from := lo
			if sorted {
				from = start
			}
			k := from + sort.SearchInts(m.Indices[from:hi], c)
			found := k < hi && m.Indices[k] == c
			if sorted {
				start = k
				if found && unique {
					start = k + 1
				}
			}
			if found {
				out.Indices = append(out.Indices, j)
				out.Data = append(out.Data, m.Data[k])
			}
		}
		out.IndPtr = append(out.IndPtr, len(out.Indices))
	}
	return out, nil
}
