package mex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	BarcodesFile        = "barcodes.tsv"
	FeaturesFile        = "features.tsv"
	GenesFile           = "genes.tsv"
	MatrixFile          = "matrix.mtx"
	BarcodeMetadataFile = "barcode_metadata.tsv"

	// Signature10x marks matrices written by the 10x pipeline.
	Signature10x = "cellranger"
)

var (
	// ErrNoData is returned when a directory lacks one of the MEX files.
	ErrNoData = errors.New("no MEX data")
	// ErrUnsupportedLayout is returned for MEX variants that cannot be read.
	ErrUnsupportedLayout = errors.New("unsupported MEX layout")
)

// Files locates the three files of one sample.
type Files struct {
	Barcodes string
	Features string
	Matrix   string
}

// find returns the path of name or name.gz under dir.
func find(dir, name string) (string, bool) {
	for _, candidate := range []string{name, name + ".gz"} {
		p := filepath.Join(dir, candidate)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// FindFiles locates the MEX files of the sample stored in dir. Old-style
// genes.tsv is accepted in place of features.tsv.
func FindFiles(dir string) (Files, error) {
	var f Files
	var ok bool
	if f.Barcodes, ok = find(dir, BarcodesFile); !ok {
		if _, meta := find(dir, BarcodeMetadataFile); meta {
			return f, fmt.Errorf("%s: %s is not supported: %w", dir, BarcodeMetadataFile, ErrUnsupportedLayout)
		}
		return f, fmt.Errorf("%s: missing %s: %w", dir, BarcodesFile, ErrNoData)
	}
	if f.Features, ok = find(dir, FeaturesFile); !ok {
		if f.Features, ok = find(dir, GenesFile); !ok {
			return f, fmt.Errorf("%s: missing %s or %s: %w", dir, FeaturesFile, GenesFile, ErrNoData)
		}
	}
	if f.Matrix, ok = find(dir, MatrixFile); !ok {
		return f, fmt.Errorf("%s: missing %s: %w", dir, MatrixFile, ErrNoData)
	}
	return f, nil
}

// HasFiles reports whether dir holds a complete set of MEX files.
func HasFiles(dir string) bool {
	_, err := FindFiles(dir)
	return err == nil
}

// Is10x reports whether the matrix header carries the 10x signature.
func Is10x(matrixPath string) (bool, error) {
	h, err := ReadHeader(matrixPath)
	if err != nil {
		return false, err
	}
	for _, c := range h.Comments {
		if strings.Contains(strings.ToLower(c), Signature10x) {
			return true, nil
		}
	}
	return false, nil
}

// IsUnfiltered reports whether the matrix has columns without any entry,
// i.e. still includes empty droplets.
func IsUnfiltered(matrixPath string) (bool, error) {
	m, _, err := ReadMatrix(matrixPath)
	if err != nil {
		return false, err
	}
	return len(m.NonEmptyColumns()) < m.Cols, nil
}

// Needs10xFilter reports whether the sample is unfiltered 10x output and
// must go through the filter before loading.
func Needs10xFilter(f Files) (bool, error) {
	is10x, err := Is10x(f.Matrix)
	if err != nil || !is10x {
		return false, err
	}
	return IsUnfiltered(f.Matrix)
}
