package anndata

import (
	"fmt"
	"sort"

	"github.com/atlasmap-sc/ingest/internal/h5"
)

// Matrix is an AnnData matrix. Sparse matrices keep their data and indices
// datasets open and read one major-axis slice at a time.
type Matrix struct {
	path     string
	encoding string
	rows     int
	cols     int
	integer  bool

	g       h5.Group
	dense   h5.Dataset
	indptr  []int
	indices h5.Dataset
	data    h5.Dataset
}

// OpenMatrix opens the matrix stored at name under parent. Dense matrices
// open successfully but cannot be sliced.
func OpenMatrix(parent h5.Group, name string) (*Matrix, error) {
	if !parent.Has(name) {
		return nil, fmt.Errorf("matrix %s: %w", name, h5.ErrNotFound)
	}
	if !parent.IsGroup(name) {
		d, err := parent.Dataset(name)
		if err != nil {
			return nil, err
		}
		shape := d.Shape()
		if len(shape) != 2 {
			d.Close()
			return nil, fmt.Errorf("%s: dense matrix has %d dimensions", d.Path(), len(shape))
		}
		return &Matrix{
			path:     d.Path(),
			encoding: EncodingArray,
			rows:     shape[0],
			cols:     shape[1],
			integer:  d.Kind() == h5.KindInteger,
			dense:    d,
		}, nil
	}

	g, err := parent.Group(name)
	if err != nil {
		return nil, err
	}
	m, err := openSparse(g)
	if err != nil {
		g.Close()
		return nil, err
	}
	return m, nil
}

func openSparse(g h5.Group) (*Matrix, error) {
	enc, err := encodingOf(g)
	if err != nil {
		return nil, err
	}
	if enc != EncodingCSR && enc != EncodingCSC {
		return nil, fmt.Errorf("%s has encoding %s: %w", g.Path(), enc, ErrUnsupportedEncoding)
	}
	shape, err := g.IntsAttr(attrShape)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s: shape has %d dimensions", g.Path(), len(shape))
	}
	m := &Matrix{path: g.Path(), encoding: enc, rows: int(shape[0]), cols: int(shape[1]), g: g}

	pd, err := g.Dataset("indptr")
	if err != nil {
		return nil, err
	}
	rawPtr, err := h5.ReadAllInts(pd)
	pd.Close()
	if err != nil {
		return nil, err
	}
	if len(rawPtr) != m.MajorLen()+1 {
		return nil, fmt.Errorf("%s: indptr has %d entries, expected %d", g.Path(), len(rawPtr), m.MajorLen()+1)
	}
	m.indptr = make([]int, len(rawPtr))
	for i, p := range rawPtr {
		m.indptr[i] = int(p)
		if i > 0 && m.indptr[i] < m.indptr[i-1] {
			return nil, fmt.Errorf("%s: indptr decreases at %d", g.Path(), i)
		}
	}

	if m.indices, err = g.Dataset("indices"); err != nil {
		return nil, err
	}
	if m.data, err = g.Dataset("data"); err != nil {
		m.indices.Close()
		return nil, err
	}
	nnz := m.indptr[len(m.indptr)-1]
	if h5.Len(m.indices) != nnz || h5.Len(m.data) != nnz {
		m.indices.Close()
		m.data.Close()
		return nil, fmt.Errorf("%s: expected %d stored values, found %d indices and %d data",
			g.Path(), nnz, h5.Len(m.indices), h5.Len(m.data))
	}
	m.integer = m.data.Kind() == h5.KindInteger
	return m, nil
}

// Path returns the location of the matrix.
func (m *Matrix) Path() string { return m.path }

// Encoding returns csr_matrix, csc_matrix or array.
func (m *Matrix) Encoding() string { return m.encoding }

// Shape returns the number of rows and columns.
func (m *Matrix) Shape() (int, int) { return m.rows, m.cols }

// IsSparse reports whether the matrix is stored compressed.
func (m *Matrix) IsSparse() bool { return m.encoding != EncodingArray }

// IsInteger reports whether values are stored as integers.
func (m *Matrix) IsInteger() bool { return m.integer }

// MajorLen returns the number of slices along the compressed axis.
func (m *Matrix) MajorLen() int {
	if m.encoding == EncodingCSC {
		return m.cols
	}
	return m.rows
}

// MinorLen returns the extent of the indices stored in each slice.
func (m *Matrix) MinorLen() int {
	if m.encoding == EncodingCSC {
		return m.rows
	}
	return m.cols
}

// NNZ returns the number of stored values of slice i.
func (m *Matrix) NNZ(i int) int { return m.indptr[i+1] - m.indptr[i] }

// Slice reads the stored indices and values of major-axis slice i, sorted by
// index.
func (m *Matrix) Slice(i int) ([]int, []float64, error) {
	if !m.IsSparse() {
		return nil, nil, fmt.Errorf("%s: %w", m.path, ErrDenseUnsupported)
	}
	if i < 0 || i >= m.MajorLen() {
		return nil, nil, fmt.Errorf("%s: slice %d outside [0, %d)", m.path, i, m.MajorLen())
	}
	start, n := m.indptr[i], m.NNZ(i)
	if n == 0 {
		return nil, nil, nil
	}
	rawIdx, err := m.indices.ReadInts(start, n)
	if err != nil {
		return nil, nil, err
	}
	data, err := m.data.ReadFloats(start, n)
	if err != nil {
		return nil, nil, err
	}
	idx := make([]int, n)
	sorted := true
	minor := m.MinorLen()
	for k, v := range rawIdx {
		if v < 0 || int(v) >= minor {
			return nil, nil, fmt.Errorf("%s: slice %d has index %d outside [0, %d)", m.path, i, v, minor)
		}
		idx[k] = int(v)
		if k > 0 && idx[k] <= idx[k-1] {
			sorted = false
		}
	}
	if !sorted {
		sort.Sort(&pairSorter{idx: idx, data: data})
	}
	return idx, data, nil
}

// Close releases the datasets backing the matrix.
func (m *Matrix) Close() error {
	if m.dense != nil {
		return m.dense.Close()
	}
	if m.indices != nil {
		m.indices.Close()
	}
	if m.data != nil {
		m.data.Close()
	}
	if m.g != nil {
		return m.g.Close()
	}
	return nil
}

type pairSorter struct {
	idx  []int
	data []float64
}

func (s *pairSorter) Len() int           { return len(s.idx) }
func (s *pairSorter) Less(i, j int) bool { return s.idx[i] < s.idx[j] }
func (s *pairSorter) Swap(i, j int) {
	s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
	s.data[i], s.data[j] = s.data[j], s.data[i]
}
