package mex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/sparse"
)

// QuantitationTypeName names the single quantitation type of MEX data.
const QuantitationTypeName = "10x MEX"

// maxListedMissing bounds the number of unmapped genes named in a message.
const maxListedMissing = 10

// Config lists the files of each sample, in the same order as SampleNames.
type Config struct {
	SampleNames  []string
	BarcodeFiles []string
	GenesFiles   []string
	MatrixFiles  []string

	Matcher                       matcher.Matcher
	IgnoreUnmatchedSamples        bool
	IgnoreUnmatchedDesignElements bool
	// AllowMappingDesignElementsToGeneSymbols falls back on the second
	// column of the features file when the first is not mapped.
	AllowMappingDesignElementsToGeneSymbols bool
	// DiscardEmptyCells drops cells without any entry in their sample matrix.
	DiscardEmptyCells bool
}

// DefaultConfig ignores unmatched samples and design elements.
func DefaultConfig() Config {
	return Config{
		IgnoreUnmatchedSamples:        true,
		IgnoreUnmatchedDesignElements: true,
	}
}

// AddSample appends a sample and its files.
func (c *Config) AddSample(name string, f Files) {
	c.SampleNames = append(c.SampleNames, name)
	c.BarcodeFiles = append(c.BarcodeFiles, f.Barcodes)
	c.GenesFiles = append(c.GenesFiles, f.Features)
	c.MatrixFiles = append(c.MatrixFiles, f.Matrix)
}

// Loader reads MEX samples.
type Loader struct {
	cfg Config
	log *slog.Logger
}

// New validates cfg and returns a loader.
func New(cfg Config) (*Loader, error) {
	n := len(cfg.SampleNames)
	if n == 0 {
		return nil, errors.New("at least one MEX sample is required")
	}
	if len(cfg.BarcodeFiles) != n || len(cfg.GenesFiles) != n || len(cfg.MatrixFiles) != n {
		return nil, fmt.Errorf("expected %d barcode, genes and matrix files, got %d, %d and %d",
			n, len(cfg.BarcodeFiles), len(cfg.GenesFiles), len(cfg.MatrixFiles))
	}
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.Default()
	}
	return &Loader{cfg: cfg, log: slog.Default().With("component", "mex")}, nil
}

func readLines(path string) ([]string, error) {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()
	var lines []string
	s := bufio.NewScanner(fh)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	for s.Scan() {
		text := strings.TrimRight(s.Text(), "\r")
		if text == "" {
			continue
		}
		lines = append(lines, text)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// SampleNames returns the configured sample names.
func (l *Loader) SampleNames() ([]string, error) {
	return l.cfg.SampleNames, nil
}

// Genes returns the distinct gene identifiers of every features file, in
// order of appearance.
func (l *Loader) Genes() ([]string, error) {
	var genes []string
	seen := make(map[string]bool)
	for _, path := range l.cfg.GenesFiles {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			id, _, _ := strings.Cut(line, "\t")
			if !seen[id] {
				seen[id] = true
				genes = append(genes, id)
			}
		}
	}
	return genes, nil
}

func (l *Loader) readBarcodes(i int) ([]string, error) {
	lines, err := readLines(l.cfg.BarcodeFiles[i])
	if err != nil {
		return nil, err
	}
	barcodes := make([]string, len(lines))
	for k, line := range lines {
		barcodes[k], _, _ = strings.Cut(line, "\t")
	}
	if l.cfg.DiscardEmptyCells {
		cols, err := NonEmptyColumns(l.cfg.MatrixFiles[i])
		if err != nil {
			return nil, err
		}
		kept := make([]string, len(cols))
		for k, c := range cols {
			if c >= len(barcodes) {
				return nil, fmt.Errorf("%s has %d barcodes, but %s has a column %d",
					l.cfg.BarcodeFiles[i], len(barcodes), l.cfg.MatrixFiles[i], c+1)
			}
			kept[k] = barcodes[c]
		}
		barcodes = kept
	}
	seen := make(map[string]bool, len(barcodes))
	for _, b := range barcodes {
		if seen[b] {
			return nil, fmt.Errorf("sample %s has duplicate cell IDs: %s", l.cfg.SampleNames[i], b)
		}
		seen[b] = true
	}
	return barcodes, nil
}

// CellDimension concatenates the barcodes of every sample matching one of
// candidates, in configuration order.
func (l *Loader) CellDimension(candidates []*singlecell.Sample) (*singlecell.CellDimension, error) {
	var cellIDs []string
	var samples []*singlecell.Sample
	var offsets []int
	var unmatched, matchedNames []string
	for i, name := range l.cfg.SampleNames {
		s, err := matcher.Resolve(l.cfg.Matcher, candidates, name)
		if errors.Is(err, matcher.ErrUnmatched) {
			unmatched = append(unmatched, name)
			continue
		} else if err != nil {
			return nil, err
		}
		for j, prev := range samples {
			if prev == s {
				return nil, fmt.Errorf("%w: sample %s is matched by both %q and %q", matcher.ErrAmbiguous, s, matchedNames[j], name)
			}
		}
		barcodes, err := l.readBarcodes(i)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
		matchedNames = append(matchedNames, name)
		offsets = append(offsets, len(cellIDs))
		cellIDs = append(cellIDs, barcodes...)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples were matched", matcher.ErrUnmatched)
	}
	if len(unmatched) > 0 {
		sort.Strings(unmatched)
		msg := fmt.Sprintf("no matching samples found for: %s", strings.Join(unmatched, ", "))
		if !l.cfg.IgnoreUnmatchedSamples {
			return nil, fmt.Errorf("%w: %s", matcher.ErrUnmatched, msg)
		}
		l.log.Warn(msg)
	}
	return singlecell.NewCellDimension(cellIDs, samples, offsets)
}

// QuantitationTypes returns the single MEX quantitation type. It is a count
// only if every matrix declares integer values.
func (l *Loader) QuantitationTypes() ([]singlecell.QuantitationType, error) {
	qt := singlecell.QuantitationType{
		Name: QuantitationTypeName,
		Description: fmt.Sprintf("10x MEX data loaded from %d sets of files (i.e. features.tsv.gz, barcodes.tsv.gz and matrix.mtx.gz).",
			len(l.cfg.SampleNames)),
		Type:           singlecell.TypeCount,
		Scale:          singlecell.ScaleCount,
		Representation: singlecell.RepresentationDouble,
	}
	for _, path := range l.cfg.MatrixFiles {
		h, err := ReadHeader(path)
		if err != nil {
			return nil, err
		}
		if !h.HasInfo {
			l.log.Info("matrix has no banner, impossible to tell if it contains counts", "path", path)
		}
		if !h.IsInteger() {
			qt.Type = singlecell.TypeAmount
			qt.Scale = singlecell.ScaleOther
			l.log.Warn("scale type cannot be detected from non-counting data", "path", path)
			break
		}
	}
	return []singlecell.QuantitationType{qt}, nil
}

// CellTypeAssignments returns nothing; MEX carries no cell type labels.
func (l *Loader) CellTypeAssignments(*singlecell.CellDimension) ([]*singlecell.CellTypeAssignment, error) {
	return nil, nil
}

// OtherCellLevelCharacteristics returns nothing.
func (l *Loader) OtherCellLevelCharacteristics(*singlecell.CellDimension) ([]*singlecell.CellLevelCharacteristics, error) {
	return nil, nil
}

// SequencingMetadata returns nothing.
func (l *Loader) SequencingMetadata(*singlecell.CellDimension) (map[string]singlecell.SequencingMetadata, error) {
	return map[string]singlecell.SequencingMetadata{}, nil
}

// sampleIndex returns the configured sample backing dim.Samples[j].
func (l *Loader) sampleIndex(dim *singlecell.CellDimension, j int) (int, error) {
	s := dim.Samples[j]
	found := -1
	for i, name := range l.cfg.SampleNames {
		m, err := matcher.Resolve(l.cfg.Matcher, dim.Samples, name)
		if err != nil || m != s {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("%s matches more than one sample: %s, %s", s, l.cfg.SampleNames[found], name)
		}
		found = i
	}
	if found < 0 {
		return -1, fmt.Errorf("%s does not match any sample", s)
	}
	return found, nil
}

// LoadVectors merges the rows of every sample matrix into one vector per
// design element. Columns are shifted by each sample's offset in dim.
func (l *Loader) LoadVectors(ctx context.Context, mapping *singlecell.ElementMapping, dim *singlecell.CellDimension, qt singlecell.QuantitationType) (singlecell.VectorIterator, error) {
	n := len(dim.Samples)
	matrices := make([]*sparse.CSR, n)
	rows := make(map[singlecell.DesignElement][]int)
	originalIDs := make(map[singlecell.DesignElement][]string)
	var order []singlecell.DesignElement

	for j := 0; j < n; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i, err := l.sampleIndex(dim, j)
		if err != nil {
			return nil, err
		}
		genesFile, matrixFile := l.cfg.GenesFiles[i], l.cfg.MatrixFiles[i]
		lines, err := readLines(genesFile)
		if err != nil {
			return nil, err
		}
		var missing []string
		matched := 0
		for k, line := range lines {
			fields := strings.SplitN(line, "\t", 3)
			geneID := fields[0]
			de, ok := mapping.Lookup(geneID)
			if !ok && len(fields) > 1 && l.cfg.AllowMappingDesignElementsToGeneSymbols {
				de, ok = mapping.Lookup(fields[1])
			}
			if !ok {
				missing = append(missing, geneID)
				continue
			}
			matched++
			r, seen := rows[de]
			if !seen {
				r = make([]int, n)
				for z := range r {
					r[z] = -1
				}
				rows[de] = r
				originalIDs[de] = make([]string, n)
				order = append(order, de)
			}
			r[j] = k
			originalIDs[de][j] = geneID
		}
		if matched == 0 {
			l.log.Warn("none of the elements matched genes", "path", genesFile)
		}
		if len(missing) > 0 {
			msg := missingMessage(missing, len(lines), genesFile)
			if !l.cfg.IgnoreUnmatchedDesignElements {
				return nil, errors.New(msg)
			}
			l.log.Warn(msg)
		}

		l.log.Info("reading matrix", "path", matrixFile)
		m, _, err := ReadMatrix(matrixFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", matrixFile, err)
		}
		if l.cfg.DiscardEmptyCells {
			nonEmpty := m.NonEmptyColumns()
			if removed := m.Cols - len(nonEmpty); removed > 0 {
				if m, err = sparse.SelectColumns(m, nonEmpty); err != nil {
					return nil, err
				}
				l.log.Info("removed empty cells", "sample", l.cfg.SampleNames[i], "count", removed)
			}
		}
		if m.Cols != dim.NumCellsBySample(j) {
			return nil, fmt.Errorf("matrix file %s does not have the expected number of columns: %d, found %d",
				matrixFile, dim.NumCellsBySample(j), m.Cols)
		}
		if m.Rows != len(lines) {
			return nil, fmt.Errorf("matrix file %s does not have the expected number of rows: %d, found %d",
				matrixFile, len(lines), m.Rows)
		}
		matrices[j] = m
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("none of the elements matched genes from %s", strings.Join(l.cfg.GenesFiles, ", "))
	}
	elements := make(map[singlecell.DesignElement]bool)
	absent := 0
	for _, g := range mapping.Genes() {
		de, _ := mapping.Lookup(g)
		if elements[de] {
			continue
		}
		elements[de] = true
		if _, ok := rows[de]; !ok {
			absent++
		}
	}
	if absent > 0 {
		msg := fmt.Sprintf("%d/%d elements of the mapping are absent from every sample", absent, len(elements))
		if !l.cfg.IgnoreUnmatchedDesignElements {
			return nil, errors.New(msg)
		}
		l.log.Warn(msg)
	}

	return &vectorIterator{
		ctx:         ctx,
		log:         l.log,
		dim:         dim,
		qt:          qt,
		matrices:    matrices,
		rows:        rows,
		originalIDs: originalIDs,
		order:       order,
		pos:         -1,
	}, nil
}

func missingMessage(missing []string, total int, path string) string {
	if len(missing) > maxListedMissing {
		shuffled := append([]string(nil), missing...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		return fmt.Sprintf("the supplied mapping does not have elements for %d/%d genes from %s, here are %d random genes that were not mapped: %s",
			len(missing), total, path, maxListedMissing, strings.Join(shuffled[:maxListedMissing], ", "))
	}
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return fmt.Sprintf("the supplied mapping does not have elements for the following genes: %s from %s",
		strings.Join(sorted, ", "), path)
}

type vectorIterator struct {
	ctx         context.Context
	log         *slog.Logger
	dim         *singlecell.CellDimension
	qt          singlecell.QuantitationType
	matrices    []*sparse.CSR
	rows        map[singlecell.DesignElement][]int
	originalIDs map[singlecell.DesignElement][]string
	order       []singlecell.DesignElement

	pos int
	cur *singlecell.ExpressionVector
	err error
}

func (it *vectorIterator) Next() bool {
	if it.err != nil || it.pos+1 >= len(it.order) {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	it.pos++
	de := it.order[it.pos]
	r := it.rows[de]

	nnz := 0
	for j, k := range r {
		if k >= 0 {
			nnz += it.matrices[j].IndPtr[k+1] - it.matrices[j].IndPtr[k]
		}
	}
	data := make([]float64, 0, nnz)
	indices := make([]int, 0, nnz)
	for j, k := range r {
		if k < 0 {
			continue
		}
		idx, vals := it.matrices[j].Row(k)
		offset := it.dim.Offsets[j]
		for z, c := range idx {
			indices = append(indices, c+offset)
			data = append(data, vals[z])
		}
	}

	var original string
	distinct := make(map[string]bool)
	for _, id := range it.originalIDs[de] {
		if id == "" {
			continue
		}
		if original == "" {
			original = id
		}
		distinct[id] = true
	}
	if len(distinct) > 1 {
		it.log.Warn("more than one gene ID was matched, retaining the first", "element", de.Name, "original", original)
	}

	it.cur = &singlecell.ExpressionVector{
		DesignElement:     de,
		OriginalElementID: original,
		Dimension:         it.dim,
		QuantitationType:  it.qt,
		Data:              data,
		Indices:           indices,
	}
	return true
}

func (it *vectorIterator) Vector() *singlecell.ExpressionVector { return it.cur }
func (it *vectorIterator) Err() error                           { return it.err }

func (it *vectorIterator) Close() error {
	it.matrices = nil
	return nil
}

// Close releases nothing; files are read eagerly.
func (l *Loader) Close() error { return nil }
