package configurer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/mo"

	"github.com/atlasmap-sc/ingest/internal/anndata"
	"github.com/atlasmap-sc/ingest/internal/characteristics"
	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/loader"
	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/mex"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/staging"
	"github.com/atlasmap-sc/ingest/internal/transform"
	"github.com/atlasmap-sc/ingest/internal/workpool"
)

// Options describe one dataset's single-cell data.
type Options struct {
	// DataType is detected from DataPath when empty.
	DataType DataType `json:"data_type,omitempty"`
	DataPath string   `json:"data_path"`

	// AnnData
	SampleFactorName         string          `json:"sample_factor,omitempty"`
	CellTypeFactorName       string          `json:"cell_type_factor,omitempty"`
	UnknownCellTypeIndicator string          `json:"unknown_cell_type,omitempty"`
	Transpose                bool            `json:"transpose,omitempty"`
	UseRawX                  mo.Option[bool] `json:"use_raw_x"`
	SkipTransformations      bool            `json:"skip_transformations,omitempty"`

	// MEX
	IgnoreSamplesLackingData                bool            `json:"ignore_samples_lacking_data,omitempty"`
	Apply10xFilter                          mo.Option[bool] `json:"apply_10x_filter"`
	AllowMappingDesignElementsToGeneSymbols bool            `json:"map_to_gene_symbols,omitempty"`
	DiscardEmptyCells                       bool            `json:"discard_empty_cells,omitempty"`

	IgnoreUnmatchedSamples        bool `json:"ignore_unmatched_samples"`
	IgnoreUnmatchedDesignElements bool `json:"ignore_unmatched_design_elements"`
	IgnoreUnmatchedCellIDs        bool `json:"ignore_unmatched_cell_ids,omitempty"`

	// RenamingFile maps sample names found in data to sample identifiers.
	RenamingFile string `json:"renaming_file,omitempty"`

	// Decorators
	CellTypeFile           string          `json:"cell_type_file,omitempty"`
	CellTypeName           string          `json:"cell_type_name,omitempty"`
	CellTypeDescription    string          `json:"cell_type_description,omitempty"`
	CellTypeProtocol       string          `json:"cell_type_protocol,omitempty"`
	CharacteristicsFile    string          `json:"characteristics_file,omitempty"`
	SequencingMetadataFile string          `json:"sequencing_metadata_file,omitempty"`
	DefaultReadLength      int64           `json:"default_read_length,omitempty"`
	DefaultReadCount       int64           `json:"default_read_count,omitempty"`
	DefaultIsPaired        mo.Option[bool] `json:"default_is_paired"`
}

// DefaultOptions ignores unmatched samples and design elements.
func DefaultOptions() Options {
	return Options{
		IgnoreUnmatchedSamples:        true,
		IgnoreUnmatchedDesignElements: true,
	}
}

// Configurer builds loaders. Only Runner is required for data needing
// transformations.
type Configurer struct {
	Runner     transform.Runner
	Opener     h5.Opener
	ScratchDir string
	// Pool filters 10x samples concurrently; sequential when nil.
	Pool *workpool.Pool
	// Stager copies s3:// paths locally; remote paths fail when nil.
	Stager           *staging.Stager
	Metrics          *metrics.Metrics
	MatcherCacheSize int
}

func logger() *slog.Logger {
	return slog.Default().With("component", "configurer")
}

// build accumulates the resources a configured loader owns.
type build struct {
	closers []func() error
}

func (b *build) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// release runs the closers in reverse order and joins their failures after
// err.
func (b *build) release(err error) error {
	errs := []error{err}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if cerr := b.closers[i](); cerr != nil {
			errs = append(errs, fmt.Errorf("cleanup: %w", cerr))
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Configure returns a loader for opts. Closing the loader also releases the
// pipeline's intermediate files and the staged copies.
func (c *Configurer) Configure(ctx context.Context, opts Options) (loader.Loader, error) {
	b := &build{}
	l, err := c.configure(ctx, opts, b)
	if err != nil {
		return nil, b.release(err)
	}
	closers := make([]func() error, 0, len(b.closers))
	for i := len(b.closers) - 1; i >= 0; i-- {
		closers = append(closers, b.closers[i])
	}
	return loader.WithCloser(l, closers...), nil
}

func (c *Configurer) stage(ctx context.Context, b *build, p string) (string, error) {
	if p == "" || !staging.IsRemote(p) {
		return p, nil
	}
	local, cleanup, err := c.Stager.Stage(ctx, p)
	if err != nil {
		return "", err
	}
	b.onClose(cleanup)
	return local, nil
}

func (c *Configurer) configure(ctx context.Context, opts Options, b *build) (loader.Loader, error) {
	var err error
	for _, p := range []*string{&opts.DataPath, &opts.RenamingFile, &opts.CellTypeFile, &opts.CharacteristicsFile, &opts.SequencingMetadataFile} {
		if *p, err = c.stage(ctx, b, *p); err != nil {
			return nil, err
		}
	}

	m, err := c.matcher(opts)
	if err != nil {
		return nil, err
	}

	dataType := opts.DataType
	if dataType == "" {
		if dataType, err = DetectDataType(opts.DataPath); err != nil {
			return nil, err
		}
		logger().Info("detected single-cell data type", "path", opts.DataPath, "type", string(dataType))
	}

	var l loader.Loader
	switch dataType {
	case DataTypeAnnData:
		l, err = c.annData(ctx, opts, m, b)
	case DataTypeMEX:
		l, err = c.mex(ctx, opts, m, b)
	case DataTypeNull:
		logger().Warn("no single-cell data, using the null loader", "path", opts.DataPath)
		l = loader.Null{}
	default:
		err = unsupported(dataType, opts.DataPath)
	}
	if err != nil {
		return nil, err
	}
	return decorate(l, opts, m), nil
}

func (c *Configurer) matcher(opts Options) (matcher.Matcher, error) {
	var m matcher.Matcher = matcher.Default()
	if opts.RenamingFile != "" {
		r, err := matcher.ParseRenamingFile(opts.RenamingFile, m)
		if err != nil {
			return nil, err
		}
		m = r
	}
	return matcher.NewCaching(m, c.MatcherCacheSize)
}

func (c *Configurer) annData(ctx context.Context, opts Options, m matcher.Matcher, b *build) (loader.Loader, error) {
	cfg := anndata.DefaultConfig()
	cfg.SampleFactorName = opts.SampleFactorName
	cfg.CellTypeFactorName = opts.CellTypeFactorName
	cfg.UnknownCellTypeIndicator = opts.UnknownCellTypeIndicator
	cfg.Transpose = opts.Transpose
	cfg.UseRawX = opts.UseRawX
	cfg.IgnoreUnmatchedSamples = opts.IgnoreUnmatchedSamples
	cfg.IgnoreUnmatchedDesignElements = opts.IgnoreUnmatchedDesignElements
	cfg.Matcher = m
	cfg.Opener = c.Opener
	path := opts.DataPath
	if !opts.SkipTransformations {
		p := c.pipeline(opts.Transpose)
		b.onClose(p.Close)
		res, err := p.Prepare(ctx, path)
		if err != nil {
			return nil, err
		}
		path = res.Path
		if res.Unrawed() {
			// raw/X is now X.
			cfg.UseRawX = mo.Some(false)
		}
	}
	l, err := anndata.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *Configurer) pipeline(transpose bool) *transform.Pipeline {
	return transform.New(transform.Config{
		Runner:     c.Runner,
		Opener:     c.Opener,
		Transpose:  transpose,
		ScratchDir: c.ScratchDir,
		Metrics:    c.Metrics,
	})
}

func (c *Configurer) mex(ctx context.Context, opts Options, m matcher.Matcher, b *build) (loader.Loader, error) {
	samples, err := DiscoverMEXSamples(opts.DataPath, opts.IgnoreSamplesLackingData)
	if err != nil {
		return nil, err
	}
	if samples, err = c.filter10x(ctx, samples, opts.Apply10xFilter, b); err != nil {
		return nil, err
	}
	cfg := mex.DefaultConfig()
	cfg.Matcher = m
	cfg.IgnoreUnmatchedSamples = opts.IgnoreUnmatchedSamples
	cfg.IgnoreUnmatchedDesignElements = opts.IgnoreUnmatchedDesignElements
	cfg.AllowMappingDesignElementsToGeneSymbols = opts.AllowMappingDesignElementsToGeneSymbols
	cfg.DiscardEmptyCells = opts.DiscardEmptyCells
	for _, s := range samples {
		cfg.AddSample(s.Name, s.Files)
	}
	l, err := mex.New(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// filter10x replaces the files of the samples needing the 10x filter by the
// filtered copies. With apply absent, samples are filtered when their matrix
// is unfiltered 10x output.
func (c *Configurer) filter10x(ctx context.Context, samples []MEXSample, apply mo.Option[bool], b *build) ([]MEXSample, error) {
	var selected []int
	for i, s := range samples {
		needs, forced := apply.Get()
		if !forced {
			var err error
			if needs, err = mex.Needs10xFilter(s.Files); err != nil {
				return nil, fmt.Errorf("sample %s: %w", s.Name, err)
			}
		}
		if needs {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		return samples, nil
	}
	dirs := make([]string, len(selected))
	for k, i := range selected {
		dirs[k] = samples[i].Dir
	}
	p := c.pipeline(false)
	b.onClose(p.Close)
	outputs, err := p.Filter10x(ctx, dirs, c.Pool)
	if err != nil {
		return nil, err
	}
	out := append([]MEXSample(nil), samples...)
	for k, i := range selected {
		f, err := mex.FindFiles(outputs[k])
		if err != nil {
			return nil, fmt.Errorf("filtered sample %s: %w", samples[i].Name, err)
		}
		out[i].Dir, out[i].Files = outputs[k], f
	}
	return out, nil
}

func decorate(l loader.Loader, opts Options, m matcher.Matcher) loader.Loader {
	if opts.CellTypeFile != "" || opts.CharacteristicsFile != "" {
		l = loader.NewCellMetadata(l, loader.CellMetadataConfig{
			CellTypeFile:        opts.CellTypeFile,
			CellTypeName:        opts.CellTypeName,
			CellTypeDescription: opts.CellTypeDescription,
			CellTypeProtocol:    opts.CellTypeProtocol,
			CharacteristicsFile: opts.CharacteristicsFile,
			Matcher:             m,
			Index: characteristics.Options{
				IgnoreUnmatchedSamples: opts.IgnoreUnmatchedSamples,
				IgnoreUnmatchedCellIDs: opts.IgnoreUnmatchedCellIDs,
			},
		})
	}
	defaults := singlecell.SequencingMetadata{IsPaired: opts.DefaultIsPaired}
	if opts.DefaultReadLength != 0 {
		defaults.ReadLength = mo.Some(opts.DefaultReadLength)
	}
	if opts.DefaultReadCount != 0 {
		defaults.ReadCount = mo.Some(opts.DefaultReadCount)
	}
	if opts.SequencingMetadataFile != "" || defaults.ReadLength.IsPresent() || defaults.ReadCount.IsPresent() || defaults.IsPaired.IsPresent() {
		l = loader.NewSequencing(l, loader.SequencingConfig{
			File:                   opts.SequencingMetadataFile,
			Defaults:               defaults,
			Matcher:                m,
			IgnoreUnmatchedSamples: opts.IgnoreUnmatchedSamples,
		})
	}
	return l
}
