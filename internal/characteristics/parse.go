package characteristics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/atlasmap-sc/ingest/internal/matcher"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// CellTypeCategory and CellTypeCategoryURI label cell type characteristics.
const (
	CellTypeCategory    = "cell type"
	CellTypeCategoryURI = "http://www.ebi.ac.uk/efo/EFO_0000324"
)

// ReadTable streams a tab-separated, optionally gzipped file with a header
// row, calling fn with each row keyed by column name. Columns listed in
// required must be present in the header.
func ReadTable(path string, required []string, fn func(line int, row map[string]string) error) error {
	fh, err := xopen.Ropen(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: missing header", path)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		present[columns[i]] = true
	}
	for _, c := range required {
		if !present[c] {
			return fmt.Errorf("%s: missing required column %q", path, c)
		}
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		row := make(map[string]string, len(columns))
		for i, c := range columns {
			row[c] = strings.TrimSpace(rec[i])
		}
		if err := fn(line, row); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
}

// IndexCellTypes reads a cell type file (columns sample_id, cell_id,
// cell_type and optionally cell_type_uri and category_id) into one cell type
// assignment per category id.
func IndexCellTypes(path string, dim *singlecell.CellDimension, m matcher.Matcher, opts Options) ([]*singlecell.CellTypeAssignment, error) {
	ix := NewIndexer(dim, m, opts)
	err := ReadTable(path, []string{"sample_id", "cell_id", "cell_type"}, func(_ int, row map[string]string) error {
		return ix.Add(Record{
			SampleName: row["sample_id"],
			CellID:     row["cell_id"],
			CategoryID: row["category_id"],
			Characteristic: singlecell.Characteristic{
				Category:    CellTypeCategory,
				CategoryURI: CellTypeCategoryURI,
				Value:       row["cell_type"],
				ValueURI:    row["cell_type_uri"],
			},
		})
	})
	if err != nil {
		return nil, err
	}
	built := ix.Build()
	out := make([]*singlecell.CellTypeAssignment, len(built))
	for i, clc := range built {
		out[i] = &singlecell.CellTypeAssignment{CellLevelCharacteristics: *clc}
	}
	return out, nil
}

// IndexCharacteristics reads a generic cell-level characteristics file
// (columns sample_id, cell_id, category, value and optionally category_uri,
// value_uri and category_id).
func IndexCharacteristics(path string, dim *singlecell.CellDimension, m matcher.Matcher, opts Options) ([]*singlecell.CellLevelCharacteristics, error) {
	ix := NewIndexer(dim, m, opts)
	err := ReadTable(path, []string{"sample_id", "cell_id", "category", "value"}, func(_ int, row map[string]string) error {
		return ix.Add(Record{
			SampleName: row["sample_id"],
			CellID:     row["cell_id"],
			CategoryID: row["category_id"],
			Characteristic: singlecell.Characteristic{
				Category:    row["category"],
				CategoryURI: row["category_uri"],
				Value:       row["value"],
				ValueURI:    row["value_uri"],
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return ix.Build(), nil
}
