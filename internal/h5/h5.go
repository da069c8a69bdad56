// Package h5 abstracts the subset of HDF5 needed to read AnnData containers:
// groups, typed attributes and 1-D or 2-D datasets read by hyperslab.
package h5

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a group, dataset or attribute is missing.
	ErrNotFound = errors.New("hdf5 object not found")
	// ErrUnsupported is returned when the native backend is not compiled in.
	ErrUnsupported = errors.New("hdf5 backend not available (build with -tags hdf5)")
	// ErrType is returned when an attribute or dataset has an unexpected type.
	ErrType = errors.New("unexpected hdf5 type")
)

// Kind is the storage class of a dataset.
type Kind int

const (
	KindOther Kind = iota
	KindInteger
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	}
	return "other"
}

// Object is anything carrying attributes.
type Object interface {
	Path() string
	HasAttr(name string) bool
	StringAttr(name string) (string, error)
	StringsAttr(name string) ([]string, error)
	IntsAttr(name string) ([]int64, error)
}

// Group is an HDF5 group. Names may be slash-separated relative paths.
type Group interface {
	Object
	Group(name string) (Group, error)
	Dataset(name string) (Dataset, error)
	Has(name string) bool
	IsGroup(name string) bool
	Children() ([]string, error)
	Close() error
}

// Dataset is an HDF5 dataset. Numeric reads address the flattened,
// row-major element sequence and convert between integer and float storage.
type Dataset interface {
	Object
	Shape() []int
	Kind() Kind
	ReadInts(offset, count int) ([]int64, error)
	ReadFloats(offset, count int) ([]float64, error)
	ReadStrings() ([]string, error)
	Close() error
}

// File is an open HDF5 file; the embedded Group is its root.
type File interface {
	Group
	Name() string
}

// Opener opens an HDF5 file by filesystem path.
type Opener func(path string) (File, error)

// Len returns the number of elements of d.
func Len(d Dataset) int {
	n := 1
	for _, s := range d.Shape() {
		n *= s
	}
	return n
}

// ReadAllInts reads every element of d as integers.
func ReadAllInts(d Dataset) ([]int64, error) {
	return d.ReadInts(0, Len(d))
}

// ReadAllFloats reads every element of d as floats.
func ReadAllFloats(d Dataset) ([]float64, error) {
	return d.ReadFloats(0, Len(d))
}

func join(parent, name string) string {
	if parent == "/" || parent == "" {
		return "/" + strings.TrimPrefix(name, "/")
	}
	return parent + "/" + strings.TrimPrefix(name, "/")
}

func checkRange(path string, offset, count, n int) error {
	if offset < 0 || count < 0 || offset+count > n {
		return fmt.Errorf("read [%d, %d) outside %s of length %d", offset, offset+count, path, n)
	}
	return nil
}
