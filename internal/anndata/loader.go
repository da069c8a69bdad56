package anndata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/mo"

	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// ErrNeedsTranspose is returned when a sparse matrix is compressed along the
// cell axis and must be transposed on disk before vectors can be sliced.
var ErrNeedsTranspose = errors.New("matrix must be transposed before loading")

// Config holds the options of an AnnData loader.
type Config struct {
	// SampleFactorName is the cell dataframe column holding sample names.
	SampleFactorName string
	// CellTypeFactorName is the cell dataframe column holding cell types.
	// Cell type assignments are not loaded when empty.
	CellTypeFactorName string
	// UnknownCellTypeIndicator is the cell type category denoting an
	// unassigned cell.
	UnknownCellTypeIndicator string
	// Transpose swaps the roles of obs and var: obs holds genes.
	Transpose bool
	// UseRawX selects raw/X and raw/var. When absent, raw is used only if X
	// is missing.
	UseRawX                       mo.Option[bool]
	IgnoreUnmatchedSamples        bool
	IgnoreUnmatchedDesignElements bool
	Matcher                       matcher.Matcher
	// Opener opens HDF5 files; h5.OpenFile when nil.
	Opener h5.Opener
}

// DefaultConfig ignores unmatched samples and design elements.
func DefaultConfig() Config {
	return Config{
		IgnoreUnmatchedSamples:        true,
		IgnoreUnmatchedDesignElements: true,
	}
}

// Loader reads cell dimensions, quantitation types, cell-level
// characteristics and vectors from an AnnData file.
type Loader struct {
	cfg    Config
	file   h5.File
	log    *slog.Logger
	cells  *Dataframe
	genes  *Dataframe
	matrix string
	useRaw bool

	labels []string
}

// Open opens the AnnData file at path.
func Open(path string, cfg Config) (*Loader, error) {
	open := cfg.Opener
	if open == nil {
		open = h5.OpenFile
	}
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	l, err := New(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// New returns a loader reading from f. The loader owns f.
func New(f h5.File, cfg Config) (*Loader, error) {
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.Default()
	}
	enc, err := encodingOf(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	if enc != EncodingAnnData {
		return nil, fmt.Errorf("%s has encoding %s, expected %s: %w", f.Name(), enc, EncodingAnnData, ErrUnsupportedEncoding)
	}
	l := &Loader{
		cfg:    cfg,
		file:   f,
		log:    slog.Default().With("component", "anndata", "file", f.Name()),
		useRaw: cfg.UseRawX.OrElse(!f.Has("X") && f.Has("raw/X")),
		matrix: "X",
	}

	varName := "var"
	if l.useRaw {
		if !f.Has("raw/X") || !f.Has("raw/var") {
			return nil, fmt.Errorf("%s: raw/X and raw/var are required to use raw data: %w", f.Name(), h5.ErrNotFound)
		}
		l.matrix = "raw/X"
		varName = "raw/var"
	}
	obs, err := openDataframe(f, "obs")
	if err != nil {
		return nil, err
	}
	vars, err := openDataframe(f, varName)
	if err != nil {
		obs.Close()
		return nil, err
	}
	l.cells, l.genes = obs, vars
	if cfg.Transpose {
		l.cells, l.genes = vars, obs
	}
	return l, nil
}

func openDataframe(f h5.File, name string) (*Dataframe, error) {
	g, err := f.Group(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	df, err := OpenDataframe(g)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return df, nil
}

// File returns the underlying file.
func (l *Loader) File() h5.File { return l.file }

// UsesRaw reports whether raw/X and raw/var are loaded.
func (l *Loader) UsesRaw() bool { return l.useRaw }

func (l *Loader) sampleLabels() ([]string, error) {
	if l.labels != nil {
		return l.labels, nil
	}
	if l.cfg.SampleFactorName == "" {
		return nil, errors.New("a sample factor name is required to read AnnData samples")
	}
	fac, err := l.cells.Categorical(l.cfg.SampleFactorName)
	if err != nil {
		return nil, fmt.Errorf("sample factor: %w", err)
	}
	n, err := l.cells.Len()
	if err != nil {
		return nil, err
	}
	if len(fac.Codes) != n {
		return nil, fmt.Errorf("sample factor %s has %d values for %d cells", l.cfg.SampleFactorName, len(fac.Codes), n)
	}
	l.labels = fac.Labels()
	return l.labels, nil
}

// SampleNames returns the distinct sample names of the sample factor in
// order of appearance. Absent values are omitted.
func (l *Loader) SampleNames() ([]string, error) {
	labels, err := l.sampleLabels()
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	for _, s := range labels {
		if s != "" && !seen[s] {
			seen[s] = true
			names = append(names, s)
		}
	}
	return names, nil
}

// Genes returns the gene identifiers in matrix order.
func (l *Loader) Genes() ([]string, error) {
	return l.genes.Index()
}

// fileRun is a contiguous run of file cells sharing a sample label.
type fileRun struct {
	name   string
	sample *singlecell.Sample
	singlecell.Range
}

// matchRuns groups file cells into runs and resolves each run against
// candidates. Unmatched run names are returned; ambiguous ones fail.
func (l *Loader) matchRuns(candidates []*singlecell.Sample) ([]fileRun, []string, error) {
	labels, err := l.sampleLabels()
	if err != nil {
		return nil, nil, err
	}
	names, starts, err := singlecell.GroupContiguous(labels)
	if err != nil {
		return nil, nil, fmt.Errorf("%s, sample factor %s: %w", l.file.Name(), l.cfg.SampleFactorName, err)
	}
	var runs []fileRun
	var unmatched []string
	owner := make(map[*singlecell.Sample]string)
	for i, name := range names {
		end := len(labels)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if name == "" {
			unmatched = append(unmatched, "<absent>")
			continue
		}
		s, err := matcher.Resolve(l.cfg.Matcher, candidates, name)
		if errors.Is(err, matcher.ErrUnmatched) {
			unmatched = append(unmatched, name)
			continue
		} else if err != nil {
			return nil, nil, err
		}
		if prev, ok := owner[s]; ok {
			return nil, nil, fmt.Errorf("%w: sample %s is matched by both %q and %q", matcher.ErrAmbiguous, s, prev, name)
		}
		owner[s] = name
		runs = append(runs, fileRun{name: name, sample: s, Range: singlecell.Range{Start: starts[i], Len: end - starts[i]}})
	}
	return runs, unmatched, nil
}

// CellDimension builds the dimension of the cells whose sample resolves to
// one of candidates. Unmatched runs are skipped.
func (l *Loader) CellDimension(candidates []*singlecell.Sample) (*singlecell.CellDimension, error) {
	runs, unmatched, err := l.matchRuns(candidates)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: none of the samples of %s were matched, possible identifiers are:\n\t%s",
			matcher.ErrUnmatched, l.file.Name(), identifiers(candidates))
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		msg := fmt.Sprintf("no matching samples found for: %s", strings.Join(unmatched, ", "))
		if !l.cfg.IgnoreUnmatchedSamples {
			return nil, fmt.Errorf("%w: %s", matcher.ErrUnmatched, msg)
		}
		l.log.Warn(msg)
	}
	ids, err := l.cells.Index()
	if err != nil {
		return nil, err
	}
	var cellIDs []string
	samples := make([]*singlecell.Sample, len(runs))
	offsets := make([]int, len(runs))
	for i, r := range runs {
		samples[i] = r.sample
		offsets[i] = len(cellIDs)
		seen := make(map[string]bool, r.Len)
		for _, id := range ids[r.Start:r.End()] {
			if seen[id] {
				return nil, fmt.Errorf("sample %s has duplicate cell IDs in %s: %s", r.sample, l.file.Name(), id)
			}
			seen[id] = true
		}
		cellIDs = append(cellIDs, ids[r.Start:r.End()]...)
	}
	return singlecell.NewCellDimension(cellIDs, samples, offsets)
}

func identifiers(samples []*singlecell.Sample) string {
	lines := make([]string, len(samples))
	for i, s := range samples {
		lines[i] = strings.Join(s.Identifiers(), ", ")
	}
	return strings.Join(lines, "\n\t")
}

// dimensionRanges returns the file range of each sample of dim.
func (l *Loader) dimensionRanges(dim *singlecell.CellDimension) ([]singlecell.Range, error) {
	runs, _, err := l.matchRuns(dim.Samples)
	if err != nil {
		return nil, err
	}
	bySample := make(map[*singlecell.Sample]singlecell.Range, len(runs))
	for _, r := range runs {
		bySample[r.sample] = r.Range
	}
	ranges := make([]singlecell.Range, len(dim.Samples))
	for i, s := range dim.Samples {
		r, ok := bySample[s]
		if !ok {
			return nil, fmt.Errorf("sample %s of the cell dimension does not occur in %s", s, l.file.Name())
		}
		if r.Len != dim.NumCellsBySample(i) {
			return nil, fmt.Errorf("sample %s has %d cells in %s, but %d in the cell dimension", s, r.Len, l.file.Name(), dim.NumCellsBySample(i))
		}
		ranges[i] = r
	}
	return ranges, nil
}

// QuantitationTypes lists the primary matrix and every layer of the same
// shape. Integer storage is a count; the scale of floating storage is
// unknown.
func (l *Loader) QuantitationTypes() ([]singlecell.QuantitationType, error) {
	x, err := OpenMatrix(l.file, l.matrix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.file.Name(), err)
	}
	defer x.Close()
	qts := []singlecell.QuantitationType{l.quantitationType(x)}

	if l.useRaw || !l.file.IsGroup("layers") {
		return qts, nil
	}
	layers, err := l.file.Group("layers")
	if err != nil {
		return nil, err
	}
	defer layers.Close()
	names, err := layers.Children()
	if err != nil {
		return nil, err
	}
	rows, cols := x.Shape()
	for _, name := range names {
		m, err := OpenMatrix(layers, name)
		if err != nil {
			l.log.Warn("skipping unreadable layer", "layer", name, "error", err)
			continue
		}
		if r, c := m.Shape(); r != rows || c != cols {
			l.log.Warn("skipping layer with a different shape", "layer", name, "rows", r, "cols", c)
		} else {
			qts = append(qts, l.quantitationType(m))
		}
		m.Close()
	}
	return qts, nil
}

func (l *Loader) quantitationType(m *Matrix) singlecell.QuantitationType {
	location := strings.TrimPrefix(m.Path(), "/")
	qt := singlecell.QuantitationType{
		Name:     location,
		Location: location,
	}
	storage := "floats"
	if m.IsInteger() {
		storage = "integers"
		qt.Type = singlecell.TypeCount
		qt.Scale = singlecell.ScaleCount
		qt.Representation = singlecell.RepresentationLong
	} else {
		qt.Type = singlecell.TypeAmount
		qt.Scale = singlecell.ScaleUnknown
		qt.Representation = singlecell.RepresentationDouble
		l.log.Warn("scale type cannot be detected from non-counting data", "location", location)
	}
	qt.Description = fmt.Sprintf("Data from %s originally encoded as %s of %s.", location, m.Encoding(), storage)
	return qt
}

// CellTypeAssignments reads the cell type factor. The unknown indicator
// category maps to the sentinel code.
func (l *Loader) CellTypeAssignments(dim *singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error) {
	name := l.cfg.CellTypeFactorName
	if name == "" {
		return nil, nil
	}
	fac, err := l.cells.Categorical(name)
	if err != nil {
		return nil, fmt.Errorf("cell type factor: %w", err)
	}
	unknown := make(map[int]bool)
	if ind := l.cfg.UnknownCellTypeIndicator; ind != "" {
		var matched []string
		for code, c := range fac.Categories {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(ind)) {
				unknown[code] = true
				matched = append(matched, c)
			}
		}
		switch len(matched) {
		case 0:
			return nil, fmt.Errorf("the unknown cell type indicator %q does not occur in the categories of %s: %s",
				ind, name, strings.Join(fac.Categories, ", "))
		case 1:
		default:
			return nil, fmt.Errorf("more than one category of %s maps to the unknown cell type indicator %q: %s",
				name, ind, strings.Join(matched, ", "))
		}
	}
	clc, err := l.characteristics(dim, name, fac, unknown, func(v string) singlecell.Characteristic {
		return singlecell.Characteristic{Category: "cell type", CategoryURI: "http://www.ebi.ac.uk/efo/EFO_0000324", Value: v}
	})
	if err != nil {
		return nil, err
	}
	clc.Description = fmt.Sprintf("Cell type assignment loaded from the %s column of %s.", name, l.file.Name())
	return []*singlecell.CellTypeAssignment{{CellLevelCharacteristics: *clc}}, nil
}

// OtherCellLevelCharacteristics reads every categorical cell column other
// than the sample and cell type factors.
func (l *Loader) OtherCellLevelCharacteristics(dim *singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error) {
	var out []*singlecell.CellLevelCharacteristics
	for _, col := range l.cells.Columns() {
		if col == l.cfg.SampleFactorName || col == l.cfg.CellTypeFactorName {
			continue
		}
		if enc, err := l.cells.ColumnEncoding(col); err != nil || enc != EncodingCategorical {
			continue
		}
		fac, err := l.cells.Categorical(col)
		if err != nil {
			return nil, err
		}
		clc, err := l.characteristics(dim, col, fac, nil, func(v string) singlecell.Characteristic {
			return singlecell.Characteristic{Category: col, Value: v}
		})
		if err != nil {
			return nil, err
		}
		out = append(out, clc)
	}
	return out, nil
}

func (l *Loader) characteristics(dim *singlecell.CellDimension, name string, fac *Categorical, unknown map[int]bool, build func(string) singlecell.Characteristic) (*singlecell.CellLevelCharacteristics, error) {
	n, err := l.cells.Len()
	if err != nil {
		return nil, err
	}
	if len(fac.Codes) != n {
		return nil, fmt.Errorf("column %s of %s has %d values for %d cells", name, l.file.Name(), len(fac.Codes), n)
	}
	ranges, err := l.dimensionRanges(dim)
	if err != nil {
		return nil, err
	}
	clc := &singlecell.CellLevelCharacteristics{Name: name, Indices: make([]int, dim.NumCells())}
	remap := make([]int, len(fac.Categories))
	seen := make(map[string]int)
	for code, c := range fac.Categories {
		if unknown[code] {
			remap[code] = singlecell.UnknownCode
			continue
		}
		if k, ok := seen[c]; ok {
			remap[code] = k
			continue
		}
		seen[c] = len(clc.Characteristics)
		remap[code] = len(clc.Characteristics)
		clc.Characteristics = append(clc.Characteristics, build(c))
	}
	for i, r := range ranges {
		for j := 0; j < r.Len; j++ {
			code := fac.Codes[r.Start+j]
			if code < 0 {
				clc.Indices[dim.Offsets[i]+j] = singlecell.UnknownCode
			} else {
				clc.Indices[dim.Offsets[i]+j] = remap[code]
			}
		}
	}
	return clc, nil
}

// SequencingMetadata returns nothing; AnnData carries no sequencing
// metadata.
func (l *Loader) SequencingMetadata(*singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	return map[string]singlecell.SequencingMetadata{}, nil
}

// NeedsTranspose reports whether a sparse matrix of the given encoding must
// be transposed for gene-major slicing.
func NeedsTranspose(encoding string, transpose bool) bool {
	switch encoding {
	case EncodingCSR:
		return !transpose
	case EncodingCSC:
		return transpose
	}
	return false
}

// LoadVectors streams one vector per gene of the matrix at qt.Location that
// the mapping knows, restricted to the samples of dim.
func (l *Loader) LoadVectors(ctx context.Context, mapping *singlecell.ElementMapping, dim *singlecell.CellDimension, qt singlecell.QuantitationType) (singlecell.VectorIterator, error) {
	m, err := OpenMatrix(l.file, qt.Location)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.file.Name(), err)
	}
	it, err := l.vectors(m, mapping, dim, qt)
	if err != nil {
		m.Close()
		return nil, err
	}
	it.ctx = ctx
	return it, nil
}

func (l *Loader) vectors(m *Matrix, mapping *singlecell.ElementMapping, dim *singlecell.CellDimension, qt singlecell.QuantitationType) (*vectorIterator, error) {
	if !m.IsSparse() {
		return nil, fmt.Errorf("%s: %w", m.Path(), ErrDenseUnsupported)
	}
	if NeedsTranspose(m.Encoding(), l.cfg.Transpose) {
		return nil, fmt.Errorf("%s is a %s: %w", m.Path(), m.Encoding(), ErrNeedsTranspose)
	}
	genes, err := l.Genes()
	if err != nil {
		return nil, err
	}
	if len(genes) != m.MajorLen() {
		return nil, fmt.Errorf("%s has %d genes, but %s has %d", l.genes.Path(), len(genes), m.Path(), m.MajorLen())
	}
	fileCells, err := l.cells.Len()
	if err != nil {
		return nil, err
	}
	if fileCells != m.MinorLen() {
		return nil, fmt.Errorf("%s has %d cells, but %s has %d", l.cells.Path(), fileCells, m.Path(), m.MinorLen())
	}
	ranges, err := l.dimensionRanges(dim)
	if err != nil {
		return nil, err
	}

	var missing int
	for _, g := range genes {
		if _, ok := mapping.Lookup(g); !ok {
			missing++
		}
	}
	if missing == len(genes) {
		return nil, fmt.Errorf("none of the %d genes from %s are in the element mapping", len(genes), l.file.Name())
	}
	if missing > 0 {
		msg := fmt.Sprintf("the element mapping does not have elements for %d/%d genes from %s", missing, len(genes), l.file.Name())
		if !l.cfg.IgnoreUnmatchedDesignElements {
			return nil, errors.New(msg)
		}
		l.log.Warn(msg)
	}

	return &vectorIterator{
		log:      l.log,
		m:        m,
		mapping:  mapping,
		dim:      dim,
		qt:       qt,
		genes:    genes,
		ranges:   ranges,
		identity: isIdentity(ranges, dim.Offsets, fileCells, dim.NumCells()),
		emitted:  make(map[string]string),
		pos:      -1,
	}, nil
}

type vectorIterator struct {
	ctx      context.Context
	log      *slog.Logger
	m        *Matrix
	mapping  *singlecell.ElementMapping
	dim      *singlecell.CellDimension
	qt       singlecell.QuantitationType
	genes    []string
	ranges   []singlecell.Range
	identity bool
	emitted  map[string]string // element to the gene it was read from

	pos    int
	cur    *singlecell.ExpressionVector
	err    error
	closed bool
}

func (it *vectorIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	for it.pos+1 < len(it.genes) {
		it.pos++
		de, ok := it.mapping.Lookup(it.genes[it.pos])
		if !ok {
			continue
		}
		if first, dup := it.emitted[de.Name]; dup {
			it.log.Warn("more than one gene ID was matched, retaining the first", "element", de.Name, "original", first, "skipped", it.genes[it.pos])
			continue
		}
		it.emitted[de.Name] = it.genes[it.pos]
		if it.ctx != nil {
			if err := it.ctx.Err(); err != nil {
				it.err = err
				return false
			}
		}
		idx, data, err := it.m.Slice(it.pos)
		if err != nil {
			it.err = fmt.Errorf("gene %s: %w", it.genes[it.pos], err)
			return false
		}
		if !it.identity {
			idx, data = spliceSamples(idx, data, it.ranges, it.dim.Offsets)
		}
		it.cur = &singlecell.ExpressionVector{
			DesignElement:     de,
			OriginalElementID: it.genes[it.pos],
			Dimension:         it.dim,
			QuantitationType:  it.qt,
			Data:              data,
			Indices:           idx,
		}
		return true
	}
	return false
}

func (it *vectorIterator) Vector() *singlecell.ExpressionVector { return it.cur }
func (it *vectorIterator) Err() error                           { return it.err }

func (it *vectorIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.m.Close()
}

// Close releases the dataframes and the file.
func (l *Loader) Close() error {
	l.cells.Close()
	l.genes.Close()
	return l.file.Close()
}
