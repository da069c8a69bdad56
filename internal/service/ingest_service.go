// Package service provides the business logic of the ingest server: loading
// a dataset's single-cell data into the store and rendering stored vectors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/atlasmap-sc/ingest/internal/characteristics"
	"github.com/atlasmap-sc/ingest/internal/configurer"
	"github.com/atlasmap-sc/ingest/internal/loader"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/store"
)

// Dataset is a configured source of single-cell data and the samples its
// sample names are resolved against.
type Dataset struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	Description string               `json:"description,omitempty"`
	Options     configurer.Options   `json:"options"`
	Samples     []*singlecell.Sample `json:"samples"`
}

// Registry looks datasets up by identifier.
type Registry interface {
	Get(datasetID string) *Dataset
}

// Configurer builds the loader of a dataset.
type Configurer interface {
	Configure(ctx context.Context, opts configurer.Options) (loader.Loader, error)
}

// Progress phases reported while ingesting.
const (
	PhaseConfiguring     = "configuring"
	PhaseDimension       = "dimension"
	PhaseCharacteristics = "characteristics"
	PhaseVectors         = "vectors"
)

// DefaultBatchSize is the number of vectors written per transaction.
const DefaultBatchSize = 256

// IngestService loads single-cell data into the store.
type IngestService struct {
	registry   Registry
	configurer Configurer
	metrics    *metrics.Metrics
	log        *slog.Logger

	// BatchSize is the number of vectors written per transaction.
	BatchSize int
}

// NewIngestService creates a new ingest service.
func NewIngestService(registry Registry, c Configurer, m *metrics.Metrics) *IngestService {
	return &IngestService{
		registry:   registry,
		configurer: c,
		metrics:    m,
		log:        slog.Default().With("component", "ingest"),
		BatchSize:  DefaultBatchSize,
	}
}

// Summary describes a completed ingest.
type Summary struct {
	QuantitationType singlecell.QuantitationType
	Cells            int
	Vectors          int
	CellTypes        int
	Characteristics  int
}

// ExecuteRun runs an ingest (called by the run manager's workers). Data
// written by a failed run is removed.
func (s *IngestService) ExecuteRun(ctx context.Context, st *store.Store, runID string) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	ds := s.registry.Get(run.Params.DatasetID)
	if ds == nil {
		return fmt.Errorf("dataset not found: %s", run.Params.DatasetID)
	}

	sum, err := s.Ingest(ctx, ds, run.Params, st, runID)
	if err != nil {
		if cerr := st.ClearRunData(runID); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup: %w", cerr))
		}
		return err
	}
	return st.UpdateRunSummary(runID, sum.QuantitationType, sum.Cells, sum.Vectors)
}

// Ingest loads the dimension, cell-level characteristics, sequencing
// metadata and vectors of ds into st under runID.
func (s *IngestService) Ingest(ctx context.Context, ds *Dataset, params store.RunParams, st *store.Store, runID string) (_ *Summary, err error) {
	log := s.log.With("dataset", ds.ID, "run", runID)
	progress := func(phase string, done, total int) {
		if perr := st.UpdateRunProgress(runID, phase, done, total); perr != nil {
			log.Warn("failed to update progress", "error", perr)
		}
	}

	progress(PhaseConfiguring, 0, 0)
	l, err := s.configurer.Configure(ctx, ds.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to configure the loader of %s: %w", ds.ID, err)
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close the loader: %w", cerr))
		}
	}()

	progress(PhaseDimension, 0, 0)
	dim, err := l.CellDimension(ds.Samples)
	if err != nil {
		return nil, err
	}
	if dim.NumCells() == 0 {
		log.Warn("the cell dimension is empty")
	}

	qts, err := l.QuantitationTypes()
	if err != nil {
		return nil, err
	}
	source, err := singlecell.SelectQuantitationType(qts, params.QuantitationType)
	if err != nil {
		return nil, err
	}
	qt := ApplyOverrides(source, params, log)

	if err := st.PutDimension(runID, dim); err != nil {
		return nil, fmt.Errorf("failed to store the cell dimension: %w", err)
	}

	progress(PhaseCharacteristics, 0, 0)
	sum := &Summary{QuantitationType: qt, Cells: dim.NumCells()}
	if sum.CellTypes, err = s.cellTypes(l, dim, params, st, runID); err != nil {
		return nil, err
	}
	if sum.Characteristics, err = s.characteristics(l, dim, st, runID); err != nil {
		return nil, err
	}
	meta, err := l.SequencingMetadata(dim)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := st.PutSequencingMetadata(runID, meta); err != nil {
			return nil, fmt.Errorf("failed to store sequencing metadata: %w", err)
		}
	}

	mapping, err := s.elementMapping(l, params)
	if err != nil {
		return nil, err
	}
	if sum.Vectors, err = s.vectors(ctx, l, mapping, dim, source, qt, st, runID, progress); err != nil {
		return nil, err
	}
	log.Info("ingest completed", "qt", qt.String(), "cells", sum.Cells, "vectors", sum.Vectors, "cell_types", sum.CellTypes)
	return sum, nil
}

// ApplyOverrides returns qt with the name, description, type, scale,
// precision and flags requested by params.
func ApplyOverrides(qt singlecell.QuantitationType, params store.RunParams, log *slog.Logger) singlecell.QuantitationType {
	if params.NewName != "" {
		log.Info("overriding the quantitation type name", "name", params.NewName, "was", qt.Name)
		qt.Name = params.NewName
	}
	if params.NewDescription != "" {
		qt.Description = params.NewDescription
	}
	if params.NewType != "" {
		log.Info("overriding the quantitation type", "type", params.NewType, "was", qt.Type)
		qt.Type = params.NewType
	}
	if params.NewScale != "" {
		log.Info("overriding the scale", "scale", params.NewScale, "was", qt.Scale)
		qt.Scale = params.NewScale
	}
	if params.PreferSinglePrecision {
		if r := qt.Representation.SinglePrecision(); r != qt.Representation {
			log.Info("using single precision", "representation", r, "was", qt.Representation)
			qt.Representation = r
		}
	}
	if params.MarkAsRecomputedFromRawData {
		qt.RecomputedFromRawData = true
	}
	if params.MarkAsPreferred {
		qt.Preferred = true
	}
	return qt
}

func (s *IngestService) cellTypes(l loader.Loader, dim *singlecell.CellDimension, params store.RunParams, st *store.Store, runID string) (int, error) {
	ctas, err := l.CellTypeAssignments(dim)
	if err != nil {
		return 0, err
	}
	for _, cta := range ctas {
		if err := cta.Validate(dim.NumCells()); err != nil {
			return 0, fmt.Errorf("invalid cell type assignment: %w", err)
		}
	}
	switch {
	case params.PreferredCellTypeAssignment != "":
		if _, err := singlecell.SelectPreferred(ctas, params.PreferredCellTypeAssignment); err != nil {
			return 0, err
		}
	case params.MarkSingleCellTypeAssignmentAsPreferred:
		if _, err := singlecell.SelectPreferred(ctas, ""); err != nil {
			return 0, err
		}
	}
	if len(ctas) == 0 {
		return 0, nil
	}
	if err := st.PutCellTypeAssignments(runID, ctas); err != nil {
		return 0, fmt.Errorf("failed to store cell type assignments: %w", err)
	}
	return len(ctas), nil
}

func (s *IngestService) characteristics(l loader.Loader, dim *singlecell.CellDimension, st *store.Store, runID string) (int, error) {
	clcs, err := l.OtherCellLevelCharacteristics(dim)
	if err != nil {
		return 0, err
	}
	for _, c := range clcs {
		if err := c.Validate(dim.NumCells()); err != nil {
			return 0, fmt.Errorf("invalid cell-level characteristics: %w", err)
		}
	}
	if len(clcs) == 0 {
		return 0, nil
	}
	if err := st.PutCharacteristics(runID, clcs); err != nil {
		return 0, fmt.Errorf("failed to store cell-level characteristics: %w", err)
	}
	return len(clcs), nil
}

func (s *IngestService) elementMapping(l loader.Loader, params store.RunParams) (*singlecell.ElementMapping, error) {
	if params.ElementMappingFile == "" {
		genes, err := l.Genes()
		if err != nil {
			return nil, err
		}
		return singlecell.IdentityMapping(genes), nil
	}
	return ReadElementMapping(params.ElementMappingFile)
}

// ReadElementMapping reads a TSV with columns gene and element, and
// optionally symbol.
func ReadElementMapping(path string) (*singlecell.ElementMapping, error) {
	m := singlecell.NewElementMapping()
	err := characteristics.ReadTable(path, []string{"gene", "element"}, func(line int, row map[string]string) error {
		if row["gene"] == "" || row["element"] == "" {
			return fmt.Errorf("%s:%d: empty gene or element", path, line)
		}
		m.Add(row["gene"], singlecell.DesignElement{Name: row["element"], Gene: row["symbol"]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *IngestService) vectors(
	ctx context.Context,
	l loader.Loader,
	mapping *singlecell.ElementMapping,
	dim *singlecell.CellDimension,
	source, qt singlecell.QuantitationType,
	st *store.Store,
	runID string,
	progress func(phase string, done, total int),
) (int, error) {
	it, err := l.LoadVectors(ctx, mapping, dim, source)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	total := mapping.Len()
	batch := make([]*singlecell.ExpressionVector, 0, batchSize)
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.InsertVectors(runID, batch); err != nil {
			return err
		}
		written += len(batch)
		s.metrics.ObserveVectors(len(batch))
		batch = batch[:0]
		progress(PhaseVectors, written, total)
		return nil
	}

	progress(PhaseVectors, 0, total)
	for it.Next() {
		v := it.Vector()
		if err := v.Validate(); err != nil {
			return written, err
		}
		if v.Dimension != dim {
			return written, fmt.Errorf("vector %s does not belong to the loaded cell dimension", v.DesignElement.Name)
		}
		v.QuantitationType = qt
		if err := convert(v, qt.Representation); err != nil {
			return written, err
		}
		batch = append(batch, v)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return written, err
			}
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// convert rounds the values of v to their persisted representation.
func convert(v *singlecell.ExpressionVector, r singlecell.Representation) error {
	switch r {
	case singlecell.RepresentationFloat:
		for i, x := range v.Data {
			v.Data[i] = float64(float32(x))
		}
	case singlecell.RepresentationInt:
		for _, x := range v.Data {
			if x < math.MinInt32 || x > math.MaxInt32 {
				return fmt.Errorf("%w: %s value %g does not fit in an INT", singlecell.ErrInvalidVector, v.DesignElement.Name, x)
			}
		}
	}
	return nil
}
