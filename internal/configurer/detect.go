// Package configurer composes the staging, transformation pipeline, format
// loader and metadata decorators for a dataset.
package configurer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/samber/mo"

	"github.com/atlasmap-sc/ingest/internal/loader"
	"github.com/atlasmap-sc/ingest/internal/mex"
)

// DataType is the on-disk format of single-cell data.
type DataType string

const (
	DataTypeAnnData DataType = "anndata"
	DataTypeMEX     DataType = "mex"
	DataTypeSeurat  DataType = "seurat"
	DataTypeLoom    DataType = "loom"
	DataTypeNull    DataType = "null"
)

// ParseDataType validates s. An empty string selects auto-detection.
func ParseDataType(s string) (DataType, error) {
	switch t := DataType(strings.ToLower(s)); t {
	case "", DataTypeAnnData, DataTypeMEX, DataTypeSeurat, DataTypeLoom, DataTypeNull:
		return t, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// DetectDataType guesses the format of the data at path. A missing path
// yields DataTypeNull.
func DetectDataType(path string) (DataType, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return DataTypeNull, nil
	}
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return DataTypeMEX, nil
	}
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".h5ad"):
		return DataTypeAnnData, nil
	case strings.HasSuffix(name, ".h5seurat"):
		return DataTypeSeurat, nil
	case strings.HasSuffix(name, ".loom"):
		return DataTypeLoom, nil
	}
	return "", fmt.Errorf("cannot detect the data type of %s: %w", path, loader.ErrUnsupportedFormat)
}

// unsupported returns the error for formats without a loader.
func unsupported(t DataType, path string) error {
	switch t {
	case DataTypeSeurat:
		return fmt.Errorf("%s: Seurat files cannot be loaded directly, convert them to AnnData: %w", path, loader.ErrUnsupportedFormat)
	case DataTypeLoom:
		return fmt.Errorf("%s: Loom files are not supported: %w", path, loader.ErrUnsupportedFormat)
	}
	return fmt.Errorf("%s: data type %s: %w", path, t, loader.ErrUnsupportedFormat)
}

// MEXSample is a discovered sample directory.
type MEXSample struct {
	Name  string
	Dir   string
	Files mex.Files
}

// sampleFiles returns the MEX files of dir, or None when dir lacks data.
// Unsupported layouts are errors.
func sampleFiles(dir string) (mo.Option[mex.Files], error) {
	f, err := mex.FindFiles(dir)
	switch {
	case err == nil:
		return mo.Some(f), nil
	case errors.Is(err, mex.ErrNoData):
		return mo.None[mex.Files](), nil
	}
	return mo.None[mex.Files](), err
}

// DiscoverMEXSamples returns dir itself when it holds a set of MEX files,
// otherwise its sub-directories in natural order. A sub-directory without
// data is skipped when ignoreLacking is set and fatal otherwise.
func DiscoverMEXSamples(dir string, ignoreLacking bool) ([]MEXSample, error) {
	own, err := sampleFiles(dir)
	if err != nil {
		return nil, err
	}
	if f, ok := own.Get(); ok {
		return []MEXSample{{Name: filepath.Base(dir), Dir: dir, Files: f}}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })

	var samples []MEXSample
	for _, name := range names {
		sub := filepath.Join(dir, name)
		found, err := sampleFiles(sub)
		if err != nil {
			return nil, err
		}
		f, ok := found.Get()
		if !ok {
			if ignoreLacking {
				logger().Warn("sample directory has no MEX data, skipping", "sample", name, "dir", sub)
				continue
			}
			return nil, fmt.Errorf("sample %s has no MEX data in %s: %w", name, sub, mex.ErrNoData)
		}
		samples = append(samples, MEXSample{Name: name, Dir: sub, Files: f})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no MEX samples found in %s: %w", dir, mex.ErrNoData)
	}
	return samples, nil
}
