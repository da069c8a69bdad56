//go:build hdf5

package h5

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

// Native reports whether the libhdf5 backend is compiled in.
const Native = true

type nativeGroup struct {
	g    *hdf5.Group
	path string
}

type nativeFile struct {
	*nativeGroup
	f    *hdf5.File
	name string
}

type nativeDataset struct {
	d     *hdf5.Dataset
	path  string
	shape []int
	kind  Kind
}

// OpenFile opens an HDF5 file read-only with libhdf5.
func OpenFile(path string) (File, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	root, err := f.OpenGroup("/")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open root group of %s: %w", path, err)
	}
	return &nativeFile{nativeGroup: &nativeGroup{g: root, path: "/"}, f: f, name: path}, nil
}

func (f *nativeFile) Name() string { return f.name }

func (f *nativeFile) Close() error {
	f.nativeGroup.Close()
	return f.f.Close()
}

func (g *nativeGroup) Path() string { return g.path }

func (g *nativeGroup) Group(name string) (Group, error) {
	if !g.g.LinkExists(name) {
		return nil, fmt.Errorf("group %s: %w", join(g.path, name), ErrNotFound)
	}
	c, err := g.g.OpenGroup(name)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", join(g.path, name), err)
	}
	return &nativeGroup{g: c, path: join(g.path, name)}, nil
}

func (g *nativeGroup) Dataset(name string) (Dataset, error) {
	if !g.g.LinkExists(name) {
		return nil, fmt.Errorf("dataset %s: %w", join(g.path, name), ErrNotFound)
	}
	d, err := g.g.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", join(g.path, name), err)
	}
	dims, _, err := d.Space().SimpleExtentDims()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("dataset %s: %w", join(g.path, name), err)
	}
	shape := make([]int, len(dims))
	for i, n := range dims {
		shape[i] = int(n)
	}
	kind := KindOther
	if dt, err := d.Datatype(); err == nil {
		switch dt.Class() {
		case hdf5.T_INTEGER, hdf5.T_ENUM:
			kind = KindInteger
		case hdf5.T_FLOAT:
			kind = KindFloat
		case hdf5.T_STRING:
			kind = KindString
		}
		dt.Close()
	}
	return &nativeDataset{d: d, path: join(g.path, name), shape: shape, kind: kind}, nil
}

func (g *nativeGroup) Has(name string) bool { return g.g.LinkExists(name) }

func (g *nativeGroup) IsGroup(name string) bool {
	if !g.g.LinkExists(name) {
		return false
	}
	c, err := g.g.OpenGroup(name)
	if err != nil {
		return false
	}
	c.Close()
	return true
}

func (g *nativeGroup) Children() ([]string, error) {
	n, err := g.g.NumObjects()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := g.g.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (g *nativeGroup) Close() error { return g.g.Close() }

func (g *nativeGroup) HasAttr(name string) bool {
	a, err := g.g.OpenAttribute(name)
	if err != nil {
		return false
	}
	a.Close()
	return true
}

func (g *nativeGroup) StringAttr(name string) (string, error) {
	return readStringAttr(g.path, name, g.g.OpenAttribute)
}

func (g *nativeGroup) StringsAttr(name string) ([]string, error) {
	return readStringsAttr(g.path, name, g.g.OpenAttribute)
}

func (g *nativeGroup) IntsAttr(name string) ([]int64, error) {
	return readIntsAttr(g.path, name, g.g.OpenAttribute)
}

func (d *nativeDataset) Path() string { return d.path }
func (d *nativeDataset) Shape() []int { return d.shape }
func (d *nativeDataset) Kind() Kind   { return d.kind }
func (d *nativeDataset) Close() error { return d.d.Close() }

func (d *nativeDataset) HasAttr(name string) bool {
	a, err := d.d.OpenAttribute(name)
	if err != nil {
		return false
	}
	a.Close()
	return true
}

func (d *nativeDataset) StringAttr(name string) (string, error) {
	return readStringAttr(d.path, name, d.d.OpenAttribute)
}

func (d *nativeDataset) StringsAttr(name string) ([]string, error) {
	return readStringsAttr(d.path, name, d.d.OpenAttribute)
}

func (d *nativeDataset) IntsAttr(name string) ([]int64, error) {
	return readIntsAttr(d.path, name, d.d.OpenAttribute)
}

// readSubset reads count flattened elements starting at offset into buf.
func (d *nativeDataset) readSubset(buf any, offset, count int) error {
	if err := checkRange(d.path, offset, count, Len(d)); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if len(d.shape) != 1 {
		if offset != 0 || count != Len(d) {
			return fmt.Errorf("partial read of %d-D dataset %s: %w", len(d.shape), d.path, ErrType)
		}
		return d.d.Read(buf)
	}
	filespace := d.d.Space()
	defer filespace.Close()
	if err := filespace.SelectHyperslab([]uint{uint(offset)}, nil, []uint{uint(count)}, nil); err != nil {
		return fmt.Errorf("select [%d, %d) of %s: %w", offset, offset+count, d.path, err)
	}
	memspace, err := hdf5.CreateSimpleDataspace([]uint{uint(count)}, nil)
	if err != nil {
		return err
	}
	defer memspace.Close()
	return d.d.ReadSubset(buf, memspace, filespace)
}

func (d *nativeDataset) ReadInts(offset, count int) ([]int64, error) {
	if d.kind != KindInteger && d.kind != KindFloat {
		return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
	}
	out := make([]int64, count)
	if err := d.readSubset(&out, offset, count); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
	}
	return out, nil
}

func (d *nativeDataset) ReadFloats(offset, count int) ([]float64, error) {
	if d.kind != KindInteger && d.kind != KindFloat {
		return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
	}
	out := make([]float64, count)
	if err := d.readSubset(&out, offset, count); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
	}
	return out, nil
}

func (d *nativeDataset) ReadStrings() ([]string, error) {
	if d.kind != KindString {
		return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
	}
	out := make([]string, Len(d))
	if err := d.d.Read(&out); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.path, err)
	}
	return out, nil
}

type attrOpener func(name string) (*hdf5.Attribute, error)

func readStringAttr(path, name string, open attrOpener) (string, error) {
	s, err := readStringsAttr(path, name, open)
	if err != nil {
		return "", err
	}
	if len(s) != 1 {
		return "", fmt.Errorf("attribute %s of %s has %d values: %w", name, path, len(s), ErrType)
	}
	return s[0], nil
}

func readStringsAttr(path, name string, open attrOpener) ([]string, error) {
	a, err := open(name)
	if err != nil {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, ErrNotFound)
	}
	defer a.Close()
	space := a.Space()
	defer space.Close()
	n := space.SimpleExtentNPoints()
	if n < 1 {
		n = 1
	}
	out := make([]string, n)
	if err := a.Read(&out, hdf5.T_GO_STRING); err != nil {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, err)
	}
	return out, nil
}

func readIntsAttr(path, name string, open attrOpener) ([]int64, error) {
	a, err := open(name)
	if err != nil {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, ErrNotFound)
	}
	defer a.Close()
	space := a.Space()
	defer space.Close()
	n := space.SimpleExtentNPoints()
	if n < 1 {
		n = 1
	}
	out := make([]int64, n)
	if err := a.Read(&out, hdf5.T_NATIVE_INT64); err != nil {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, err)
	}
	return out, nil
}
