package singlecell

import (
	"errors"
	"fmt"

	"github.com/samber/mo"
)

// DesignElement is an opaque row identity (probe or gene) vectors are
// keyed by.
type DesignElement struct {
	Name string `json:"name"`
	Gene string `json:"gene,omitempty"`
}

// ElementMapping maps gene identifiers found in data files to design
// elements. Iteration order is insertion order.
type ElementMapping struct {
	order  []string
	byGene map[string]DesignElement
}

// NewElementMapping returns an empty mapping.
func NewElementMapping() *ElementMapping {
	return &ElementMapping{byGene: make(map[string]DesignElement)}
}

// IdentityMapping maps each gene to a design element of the same name.
func IdentityMapping(genes []string) *ElementMapping {
	m := NewElementMapping()
	for _, g := range genes {
		m.Add(g, DesignElement{Name: g, Gene: g})
	}
	return m
}

// Add registers gene. The first registration of a gene wins.
func (m *ElementMapping) Add(gene string, de DesignElement) {
	if _, ok := m.byGene[gene]; ok {
		return
	}
	m.order = append(m.order, gene)
	m.byGene[gene] = de
}

// Lookup returns the design element for gene.
func (m *ElementMapping) Lookup(gene string) (DesignElement, bool) {
	de, ok := m.byGene[gene]
	return de, ok
}

// Genes returns the mapped gene identifiers in insertion order.
func (m *ElementMapping) Genes() []string {
	return m.order
}

// Len returns the number of mapped genes.
func (m *ElementMapping) Len() int {
	return len(m.order)
}

// ErrInvalidVector is returned by ExpressionVector.Validate.
var ErrInvalidVector = errors.New("invalid expression vector")

// ExpressionVector holds one design element's non-zero values across the
// cells of a dimension. Indices are positions in Dimension.CellIDs.
type ExpressionVector struct {
	DesignElement     DesignElement
	OriginalElementID string
	Dimension         *CellDimension
	QuantitationType  QuantitationType
	Data              []float64
	Indices           []int
}

// Validate checks that indices are strictly increasing and fall within the
// dimension.
func (v *ExpressionVector) Validate() error {
	if len(v.Data) != len(v.Indices) {
		return fmt.Errorf("%w: %s has %d values and %d indices", ErrInvalidVector, v.DesignElement.Name, len(v.Data), len(v.Indices))
	}
	n := v.Dimension.NumCells()
	for k, i := range v.Indices {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: %s index %d outside [0, %d)", ErrInvalidVector, v.DesignElement.Name, i, n)
		}
		if k > 0 && v.Indices[k-1] >= i {
			return fmt.Errorf("%w: %s indices not strictly increasing at %d", ErrInvalidVector, v.DesignElement.Name, k)
		}
	}
	return nil
}

// VectorIterator is a single-pass, forward-only sequence of vectors. It holds
// open file handles until Close is called.
type VectorIterator interface {
	Next() bool
	Vector() *ExpressionVector
	Err() error
	Close() error
}

// SliceIterator iterates over an in-memory slice of vectors.
type SliceIterator struct {
	vectors []*ExpressionVector
	pos     int
}

// NewSliceIterator returns an iterator over vectors.
func NewSliceIterator(vectors []*ExpressionVector) *SliceIterator {
	return &SliceIterator{vectors: vectors, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.vectors) {
		it.pos = len(it.vectors)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Vector() *ExpressionVector { return it.vectors[it.pos] }
func (it *SliceIterator) Err() error                { return nil }
func (it *SliceIterator) Close() error              { return nil }

// SequencingMetadata describes the sequencing run of a sample.
type SequencingMetadata struct {
	ReadLength mo.Option[int64]
	ReadCount  mo.Option[int64]
	IsPaired   mo.Option[bool]
}

// Validate requires present lengths and counts to be strictly positive.
func (m SequencingMetadata) Validate() error {
	if n, ok := m.ReadCount.Get(); ok && n <= 0 {
		return fmt.Errorf("read count must be strictly positive, got %d", n)
	}
	if n, ok := m.ReadLength.Get(); ok && n <= 0 {
		return fmt.Errorf("read length must be strictly positive, got %d", n)
	}
	return nil
}

// Merge fills the fields absent from m with those of fallback.
func (m SequencingMetadata) Merge(fallback SequencingMetadata) SequencingMetadata {
	if m.ReadLength.IsAbsent() {
		m.ReadLength = fallback.ReadLength
	}
	if m.ReadCount.IsAbsent() {
		m.ReadCount = fallback.ReadCount
	}
	if m.IsPaired.IsAbsent() {
		m.IsPaired = fallback.IsPaired
	}
	return m
}
