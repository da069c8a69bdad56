// Package loader defines the capability interface shared by the format
// loaders and the decorators that augment a loader with metadata files.
package loader

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atlasmap-sc/ingest/internal/anndata"
	"github.com/atlasmap-sc/ingest/internal/mex"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// ErrUnsupportedFormat is returned for data types that cannot be loaded.
var ErrUnsupportedFormat = errors.New("unsupported single-cell data format")

// Loader reads a single-cell dataset.
type Loader interface {
	// SampleNames returns the raw sample names found in the data.
	SampleNames() ([]string, error)
	// Genes returns the gene identifiers of the data.
	Genes() ([]string, error)
	CellDimension(candidates []*singlecell.Sample) (*singlecell.CellDimension, error)
	QuantitationTypes() ([]singlecell.QuantitationType, error)
	CellTypeAssignments(dim *singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error)
	OtherCellLevelCharacteristics(dim *singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error)
	// SequencingMetadata returns metadata keyed by sample id.
	SequencingMetadata(dim *singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error)
	// LoadVectors streams one vector per mapped design element. The caller
	// must close the iterator.
	LoadVectors(ctx context.Context, mapping *singlecell.ElementMapping, dim *singlecell.CellDimension, qt singlecell.QuantitationType) (singlecell.VectorIterator, error)
	Close() error
}

var (
	_ Loader = (*anndata.Loader)(nil)
	_ Loader = (*mex.Loader)(nil)
	_ Loader = (*Null)(nil)
	_ Loader = (*CellMetadata)(nil)
	_ Loader = (*Sequencing)(nil)
)

// Null is a loader for datasets without single-cell data.
type Null struct{}

func (Null) SampleNames() ([]string, error) { return nil, nil }
func (Null) Genes() ([]string, error)       { return nil, nil }

func (Null) CellDimension([]*singlecell.Sample) (*singlecell.CellDimension, error) {
	return singlecell.EmptyCellDimension(), nil
}

func (Null) QuantitationTypes() ([]singlecell.QuantitationType, error) { return nil, nil }

func (Null) CellTypeAssignments(*singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error) {
	return nil, nil
}

func (Null) OtherCellLevelCharacteristics(*singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error) {
	return nil, nil
}

func (Null) SequencingMetadata(*singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	return map[string]singlecell.SequencingMetadata{}, nil
}

func (Null) LoadVectors(context.Context, *singlecell.ElementMapping, *singlecell.CellDimension, singlecell.QuantitationType) (singlecell.VectorIterator, error) {
	return singlecell.NewSliceIterator(nil), nil
}

func (Null) Close() error { return nil }

// Delegating forwards every call to Inner. Decorators embed it and override
// what they augment.
type Delegating struct {
	Inner Loader
}

func (d Delegating) SampleNames() ([]string, error) { return d.Inner.SampleNames() }
func (d Delegating) Genes() ([]string, error)       { return d.Inner.Genes() }

func (d Delegating) CellDimension(candidates []*singlecell.Sample) (*singlecell.CellDimension, error) {
	return d.Inner.CellDimension(candidates)
}

func (d Delegating) QuantitationTypes() ([]singlecell.QuantitationType, error) {
	return d.Inner.QuantitationTypes()
}

func (d Delegating) CellTypeAssignments(dim *singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error) {
	return d.Inner.CellTypeAssignments(dim)
}

func (d Delegating) OtherCellLevelCharacteristics(dim *singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error) {
	return d.Inner.OtherCellLevelCharacteristics(dim)
}

func (d Delegating) SequencingMetadata(dim *singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	return d.Inner.SequencingMetadata(dim)
}

func (d Delegating) LoadVectors(ctx context.Context, mapping *singlecell.ElementMapping, dim *singlecell.CellDimension, qt singlecell.QuantitationType) (singlecell.VectorIterator, error) {
	return d.Inner.LoadVectors(ctx, mapping, dim, qt)
}

func (d Delegating) Close() error { return d.Inner.Close() }

// WithCloser returns a loader whose Close also runs closers, in order, after
// closing l. Every closer runs even when an earlier one fails.
func WithCloser(l Loader, closers ...func() error) Loader {
	return &closing{Delegating: Delegating{Inner: l}, closers: closers}
}

type closing struct {
	Delegating
	closers []func() error
}

func (c *closing) Close() error {
	errs := []error{c.Inner.Close()}
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

func logger() *slog.Logger {
	return slog.Default().With("component", "loader")
}
