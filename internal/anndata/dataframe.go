// Package anndata reads AnnData containers: HDF5 files holding an obs/var
// dataframe pair, a primary sparse matrix X, an optional raw copy and named
// layers.
package anndata

import (
	"errors"
	"fmt"

	"github.com/atlasmap-sc/ingest/internal/h5"
)

const (
	attrEncodingType = "encoding-type"
	attrIndex        = "_index"
	attrColumnOrder  = "column-order"
	attrShape        = "shape"

	EncodingAnnData         = "anndata"
	EncodingDataframe       = "dataframe"
	EncodingCategorical     = "categorical"
	EncodingStringArray     = "string-array"
	EncodingArray           = "array"
	EncodingNullableInteger = "nullable-integer"
	EncodingNullableBoolean = "nullable-boolean"
	EncodingCSR             = "csr_matrix"
	EncodingCSC             = "csc_matrix"
)

var (
	// ErrMissingEncoding is returned when the root or a dataframe lacks an
	// encoding-type attribute. Such files must be rewritten before loading.
	ErrMissingEncoding = errors.New("missing encoding-type attribute")
	// ErrDenseUnsupported is returned when vectors are requested from a
	// dense matrix.
	ErrDenseUnsupported = errors.New("dense matrices are not supported")
	// ErrUnsupportedEncoding is returned for encodings this package cannot
	// decode.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

func encodingOf(o h5.Object) (string, error) {
	if !o.HasAttr(attrEncodingType) {
		return "", fmt.Errorf("%s: %w", o.Path(), ErrMissingEncoding)
	}
	return o.StringAttr(attrEncodingType)
}

// Categorical is a dictionary-encoded column. A code of -1 is absent.
type Categorical struct {
	Categories []string
	Codes      []int
}

// Value returns the category of row i.
func (c *Categorical) Value(i int) (string, bool) {
	code := c.Codes[i]
	if code < 0 {
		return "", false
	}
	return c.Categories[code], true
}

// Labels returns the category of every row, with "" for absent values.
func (c *Categorical) Labels() []string {
	out := make([]string, len(c.Codes))
	for i := range c.Codes {
		out[i], _ = c.Value(i)
	}
	return out
}

// categoricalFromStrings dictionary-encodes values in first-seen order.
func categoricalFromStrings(values []string) *Categorical {
	c := &Categorical{Codes: make([]int, len(values))}
	seen := make(map[string]int)
	for i, v := range values {
		code, ok := seen[v]
		if !ok {
			code = len(c.Categories)
			seen[v] = code
			c.Categories = append(c.Categories, v)
		}
		c.Codes[i] = code
	}
	return c
}

// Dataframe is an AnnData dataframe group (obs, var or raw/var).
type Dataframe struct {
	g         h5.Group
	indexName string
	columns   []string
}

// OpenDataframe validates the encoding of g and reads its column layout.
func OpenDataframe(g h5.Group) (*Dataframe, error) {
	enc, err := encodingOf(g)
	if err != nil {
		return nil, err
	}
	if enc != EncodingDataframe {
		return nil, fmt.Errorf("%s has encoding %s, expected %s: %w", g.Path(), enc, EncodingDataframe, ErrUnsupportedEncoding)
	}
	df := &Dataframe{g: g, indexName: "_index"}
	if g.HasAttr(attrIndex) {
		if df.indexName, err = g.StringAttr(attrIndex); err != nil {
			return nil, err
		}
	}
	if g.HasAttr(attrColumnOrder) {
		// An empty column-order is sometimes stored as a scalar.
		if cols, err := g.StringsAttr(attrColumnOrder); err == nil {
			for _, c := range cols {
				if c != "" {
					df.columns = append(df.columns, c)
				}
			}
		}
	}
	return df, nil
}

// Path returns the location of the dataframe in its file.
func (df *Dataframe) Path() string { return df.g.Path() }

// Columns returns the declared column names, excluding the index.
func (df *Dataframe) Columns() []string { return df.columns }

// Has reports whether the dataframe holds column name.
func (df *Dataframe) Has(name string) bool { return df.g.Has(name) }

// Index returns the row identifiers.
func (df *Dataframe) Index() ([]string, error) {
	d, err := df.g.Dataset(df.indexName)
	if err != nil {
		return nil, fmt.Errorf("index of %s: %w", df.g.Path(), err)
	}
	defer d.Close()
	return d.ReadStrings()
}

// Len returns the number of rows.
func (df *Dataframe) Len() (int, error) {
	d, err := df.g.Dataset(df.indexName)
	if err != nil {
		return 0, fmt.Errorf("index of %s: %w", df.g.Path(), err)
	}
	defer d.Close()
	return h5.Len(d), nil
}

// ColumnEncoding returns the encoding of column name.
func (df *Dataframe) ColumnEncoding(name string) (string, error) {
	if df.g.IsGroup(name) {
		g, err := df.g.Group(name)
		if err != nil {
			return "", err
		}
		defer g.Close()
		return encodingOf(g)
	}
	d, err := df.g.Dataset(name)
	if err != nil {
		return "", err
	}
	defer d.Close()
	if !d.HasAttr(attrEncodingType) {
		// Plain numeric datasets predate encoding attributes.
		return EncodingArray, nil
	}
	return d.StringAttr(attrEncodingType)
}

// Categorical reads column name as a categorical. String arrays are
// dictionary-encoded in first-seen order.
func (df *Dataframe) Categorical(name string) (*Categorical, error) {
	if !df.g.Has(name) {
		return nil, fmt.Errorf("column %s in %s: %w", name, df.g.Path(), h5.ErrNotFound)
	}
	enc, err := df.ColumnEncoding(name)
	if err != nil {
		return nil, err
	}
	switch enc {
	case EncodingCategorical:
		return df.readCategorical(name)
	case EncodingStringArray:
		d, err := df.g.Dataset(name)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		values, err := d.ReadStrings()
		if err != nil {
			return nil, err
		}
		return categoricalFromStrings(values), nil
	}
	return nil, fmt.Errorf("column %s in %s has encoding %s, expected %s or %s: %w",
		name, df.g.Path(), enc, EncodingCategorical, EncodingStringArray, ErrUnsupportedEncoding)
}

func (df *Dataframe) readCategorical(name string) (*Categorical, error) {
	g, err := df.g.Group(name)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	cd, err := g.Dataset("categories")
	if err != nil {
		return nil, err
	}
	defer cd.Close()
	categories, err := cd.ReadStrings()
	if err != nil {
		return nil, fmt.Errorf("categories of %s: %w", g.Path(), err)
	}
	kd, err := g.Dataset("codes")
	if err != nil {
		return nil, err
	}
	defer kd.Close()
	raw, err := h5.ReadAllInts(kd)
	if err != nil {
		return nil, fmt.Errorf("codes of %s: %w", g.Path(), err)
	}
	codes := make([]int, len(raw))
	for i, c := range raw {
		if c < -1 || int(c) >= len(categories) {
			return nil, fmt.Errorf("%s: code %d at row %d outside %d categories", g.Path(), c, i, len(categories))
		}
		codes[i] = int(c)
	}
	return &Categorical{Categories: categories, Codes: codes}, nil
}

// Numbers reads a numeric column. Masked entries of nullable columns are
// reported in the returned mask.
func (df *Dataframe) Numbers(name string) ([]float64, []bool, error) {
	enc, err := df.ColumnEncoding(name)
	if err != nil {
		return nil, nil, err
	}
	switch enc {
	case EncodingArray:
		d, err := df.g.Dataset(name)
		if err != nil {
			return nil, nil, err
		}
		defer d.Close()
		values, err := h5.ReadAllFloats(d)
		return values, nil, err
	case EncodingNullableInteger, EncodingNullableBoolean:
		g, err := df.g.Group(name)
		if err != nil {
			return nil, nil, err
		}
		defer g.Close()
		vd, err := g.Dataset("values")
		if err != nil {
			return nil, nil, err
		}
		defer vd.Close()
		values, err := h5.ReadAllFloats(vd)
		if err != nil {
			return nil, nil, err
		}
		md, err := g.Dataset("mask")
		if err != nil {
			return nil, nil, err
		}
		defer md.Close()
		rawMask, err := h5.ReadAllInts(md)
		if err != nil {
			return nil, nil, err
		}
		mask := make([]bool, len(rawMask))
		for i, m := range rawMask {
			mask[i] = m != 0
		}
		return values, mask, nil
	}
	return nil, nil, fmt.Errorf("column %s in %s has encoding %s: %w", name, df.g.Path(), enc, ErrUnsupportedEncoding)
}

// Close releases the dataframe group.
func (df *Dataframe) Close() error { return df.g.Close() }
