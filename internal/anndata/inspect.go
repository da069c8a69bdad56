package anndata

import (
	"errors"
	"fmt"

	"github.com/atlasmap-sc/ingest/internal/h5"
)

// Info summarizes the layout of an AnnData file.
type Info struct {
	Path string
	// MissingEncoding is set when the file must be rewritten first.
	MissingEncoding bool
	Encoding        string
	Rows, Cols      int
	HasRaw          bool
	RawEncoding     string
	Layers          []string
}

// NeedsTranspose reports whether X must be transposed for gene-major
// slicing given the obs/var orientation.
func (i *Info) NeedsTranspose(transpose bool) bool {
	return NeedsTranspose(i.Encoding, transpose)
}

// NeedsUnraw reports whether raw should replace X before loading: it exists
// and X would otherwise need a transposition.
func (i *Info) NeedsUnraw(transpose bool) bool {
	return i.HasRaw && i.NeedsTranspose(transpose)
}

// Inspect reads the encodings of f without building a loader.
func Inspect(f h5.File) (*Info, error) {
	info := &Info{Path: f.Name()}
	for _, name := range []string{"", "obs", "var"} {
		var o h5.Object = f
		if name != "" {
			g, err := f.Group(name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name(), err)
			}
			o = g
			defer g.Close()
		}
		if _, err := encodingOf(o); err != nil {
			if errors.Is(err, ErrMissingEncoding) {
				info.MissingEncoding = true
				return info, nil
			}
			return nil, err
		}
	}
	if f.Has("X") {
		x, err := OpenMatrix(f, "X")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		info.Encoding = x.Encoding()
		info.Rows, info.Cols = x.Shape()
		x.Close()
	}
	if f.Has("raw/X") && f.Has("raw/var") {
		info.HasRaw = true
		raw, err := OpenMatrix(f, "raw/X")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		info.RawEncoding = raw.Encoding()
		raw.Close()
	}
	if f.IsGroup("layers") {
		layers, err := f.Group("layers")
		if err != nil {
			return nil, err
		}
		defer layers.Close()
		if info.Layers, err = layers.Children(); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// InspectFile opens path with open and inspects it.
func InspectFile(path string, open h5.Opener) (*Info, error) {
	if open == nil {
		open = h5.OpenFile
	}
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Inspect(f)
}
