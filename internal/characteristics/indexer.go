// Package characteristics builds per-cell categorical indices from tabular
// cell metadata.
package characteristics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

var (
	// ErrDuplicateAssignment is returned when a cell is assigned twice in the
	// same category.
	ErrDuplicateAssignment = errors.New("duplicate assignment")
	// ErrURIWithoutValue is returned for a record with a value URI but no value.
	ErrURIWithoutValue = errors.New("value URI without a value")
	// ErrUnknownCell is returned for a cell id absent from its sample.
	ErrUnknownCell = errors.New("unknown cell id")
)

// Options controls how unresolvable records are handled.
type Options struct {
	IgnoreUnmatchedSamples bool
	IgnoreUnmatchedCellIDs bool
}

// Record is one row of cell metadata. CategoryID groups records into
// independent characteristic sets and defaults to the characteristic's
// category.
type Record struct {
	SampleName     string
	CellID         string
	CategoryID     string
	Characteristic singlecell.Characteristic
}

const unset = -2

type category struct {
	id      string
	codes   map[singlecell.Characteristic]int
	chars   []singlecell.Characteristic
	indices []int
}

// Indexer accumulates records against a cell dimension.
type Indexer struct {
	dim     *singlecell.CellDimension
	matcher matcher.Matcher
	opts    Options

	sampleByName  map[string]int
	cellsBySample map[int]map[string]int
	touched       []bool

	categories []*category
	byID       map[string]*category

	unmatchedSamples map[string]int
	unmatchedCells   int
}

// NewIndexer returns an indexer for dim resolving sample names with m.
func NewIndexer(dim *singlecell.CellDimension, m matcher.Matcher, opts Options) *Indexer {
	return &Indexer{
		dim:              dim,
		matcher:          m,
		opts:             opts,
		sampleByName:     make(map[string]int),
		cellsBySample:    make(map[int]map[string]int),
		touched:          make([]bool, len(dim.Samples)),
		byID:             make(map[string]*category),
		unmatchedSamples: make(map[string]int),
	}
}

func (ix *Indexer) resolveSample(name string) (int, error) {
	if i, ok := ix.sampleByName[name]; ok {
		return i, nil
	}
	s, err := matcher.Resolve(ix.matcher, ix.dim.Samples, name)
	if err != nil {
		if errors.Is(err, matcher.ErrUnmatched) && ix.opts.IgnoreUnmatchedSamples {
			ix.sampleByName[name] = -1
			return -1, nil
		}
		return -1, err
	}
	i := ix.dim.SampleIndex(s)
	ix.sampleByName[name] = i
	return i, nil
}

func (ix *Indexer) cellPosition(sample int, cellID string) (int, bool) {
	local, ok := ix.cellsBySample[sample]
	if !ok {
		ids := ix.dim.CellIDsBySample(sample)
		local = make(map[string]int, len(ids))
		for i, id := range ids {
			local[id] = i
		}
		ix.cellsBySample[sample] = local
	}
	i, ok := local[cellID]
	if !ok {
		return -1, false
	}
	return ix.dim.Offsets[sample] + i, true
}

func (ix *Indexer) category(id string) *category {
	c, ok := ix.byID[id]
	if !ok {
		indices := make([]int, ix.dim.NumCells())
		for i := range indices {
			indices[i] = unset
		}
		c = &category{id: id, codes: make(map[singlecell.Characteristic]int), indices: indices}
		ix.byID[id] = c
		ix.categories = append(ix.categories, c)
	}
	return c
}

// Add indexes one record.
func (ix *Indexer) Add(r Record) error {
	ch := r.Characteristic
	if strings.TrimSpace(ch.Value) == "" && strings.TrimSpace(ch.ValueURI) != "" {
		return fmt.Errorf("%w: cell %s of sample %s has value URI %s", ErrURIWithoutValue, r.CellID, r.SampleName, ch.ValueURI)
	}
	sample, err := ix.resolveSample(r.SampleName)
	if err != nil {
		return err
	}
	if sample < 0 {
		ix.unmatchedSamples[r.SampleName]++
		return nil
	}
	pos, ok := ix.cellPosition(sample, r.CellID)
	if !ok {
		if ix.opts.IgnoreUnmatchedCellIDs {
			ix.unmatchedCells++
			return nil
		}
		return fmt.Errorf("%w: %s in sample %s", ErrUnknownCell, r.CellID, ix.dim.Samples[sample])
	}
	ix.touched[sample] = true

	id := r.CategoryID
	if id == "" {
		id = ch.Category
	}
	c := ix.category(id)
	if c.indices[pos] != unset {
		return fmt.Errorf("%w: cell %s of sample %s in %s", ErrDuplicateAssignment, r.CellID, ix.dim.Samples[sample], id)
	}
	if strings.TrimSpace(ch.Value) == "" {
		c.indices[pos] = singlecell.UnknownCode
		return nil
	}
	code, ok := c.codes[ch]
	if !ok {
		code = len(c.chars)
		c.codes[ch] = code
		c.chars = append(c.chars, ch)
	}
	c.indices[pos] = code
	return nil
}

// Build returns one characteristic set per category id in first-seen order.
// Samples never referenced by any record are reported as warnings.
func (ix *Indexer) Build() []*singlecell.CellLevelCharacteristics {
	for i, ok := range ix.touched {
		if !ok {
			slog.Warn("sample has no cell-level metadata", "component", "characteristics", "sample", ix.dim.Samples[i].String())
		}
	}
	for name, n := range ix.unmatchedSamples {
		slog.Warn("ignored records for unmatched sample", "component", "characteristics", "sample", name, "records", n)
	}
	if ix.unmatchedCells > 0 {
		slog.Warn("ignored records for unmatched cell ids", "component", "characteristics", "records", ix.unmatchedCells)
	}
	out := make([]*singlecell.CellLevelCharacteristics, len(ix.categories))
	for i, c := range ix.categories {
		indices := make([]int, len(c.indices))
		for k, code := range c.indices {
			if code == unset {
				code = singlecell.UnknownCode
			}
			indices[k] = code
		}
		out[i] = &singlecell.CellLevelCharacteristics{
			Name:            c.id,
			Characteristics: c.chars,
			Indices:         indices,
		}
	}
	return out
}
