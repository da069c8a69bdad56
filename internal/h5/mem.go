package h5

import (
	"fmt"
	"strings"
	"sync"
)

// MemGroup is an in-memory group used to build fixtures and to stand in for
// files produced by external transformations.
type MemGroup struct {
	path     string
	attrs    map[string]any
	order    []string
	children map[string]any
}

func newMemGroup(path string) *MemGroup {
	return &MemGroup{path: path, attrs: make(map[string]any), children: make(map[string]any)}
}

// MemDataset is an in-memory dataset holding ints, floats or strings.
type MemDataset struct {
	path    string
	attrs   map[string]any
	shape   []int
	ints    []int64
	floats  []float64
	strings []string
	kind    Kind
}

// MemFile is an in-memory HDF5 file.
type MemFile struct {
	*MemGroup
	name string
}

// NewMemFile returns an empty in-memory file.
func NewMemFile(name string) *MemFile {
	return &MemFile{MemGroup: newMemGroup("/"), name: name}
}

func (f *MemFile) Name() string { return f.name }

// Clone returns a deep copy of the file under a new name.
func (f *MemFile) Clone(name string) *MemFile {
	return &MemFile{MemGroup: f.MemGroup.clone(), name: name}
}

// SetAttr sets an attribute and returns the group for chaining. Supported
// values are string, []string, int64, []int64 and int.
func (g *MemGroup) SetAttr(name string, v any) *MemGroup {
	g.attrs[name] = v
	return g
}

// CreateGroup creates (or returns) the group at the relative path name.
func (g *MemGroup) CreateGroup(name string) *MemGroup {
	cur := g
	for _, part := range strings.Split(strings.Trim(name, "/"), "/") {
		child, ok := cur.children[part].(*MemGroup)
		if !ok {
			child = newMemGroup(join(cur.path, part))
			cur.add(part, child)
		}
		cur = child
	}
	return cur
}

// Delete removes the child at the relative path name.
func (g *MemGroup) Delete(name string) {
	parent, base := g.parentOf(name)
	if parent == nil {
		return
	}
	delete(parent.children, base)
	for i, n := range parent.order {
		if n == base {
			parent.order = append(parent.order[:i], parent.order[i+1:]...)
			break
		}
	}
}

func (g *MemGroup) parentOf(name string) (*MemGroup, string) {
	name = strings.Trim(name, "/")
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return g, name
	}
	parent, ok := g.lookup(name[:i]).(*MemGroup)
	if !ok {
		return nil, ""
	}
	return parent, name[i+1:]
}

func (g *MemGroup) add(name string, child any) {
	if _, ok := g.children[name]; !ok {
		g.order = append(g.order, name)
	}
	g.children[name] = child
}

func (g *MemGroup) createDataset(name string, d *MemDataset) *MemDataset {
	parent, base := g, strings.Trim(name, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		parent = g.CreateGroup(base[:i])
		base = base[i+1:]
	}
	d.path = join(parent.path, base)
	d.attrs = make(map[string]any)
	parent.add(base, d)
	return d
}

// CreateInts creates a 1-D integer dataset.
func (g *MemGroup) CreateInts(name string, v []int64) *MemDataset {
	return g.createDataset(name, &MemDataset{ints: v, shape: []int{len(v)}, kind: KindInteger})
}

// CreateFloats creates a 1-D float dataset.
func (g *MemGroup) CreateFloats(name string, v []float64) *MemDataset {
	return g.createDataset(name, &MemDataset{floats: v, shape: []int{len(v)}, kind: KindFloat})
}

// CreateStrings creates a 1-D string dataset.
func (g *MemGroup) CreateStrings(name string, v []string) *MemDataset {
	return g.createDataset(name, &MemDataset{strings: v, shape: []int{len(v)}, kind: KindString})
}

// SetAttr sets an attribute and returns the dataset for chaining.
func (d *MemDataset) SetAttr(name string, v any) *MemDataset {
	d.attrs[name] = v
	return d
}

// Reshape overrides the dataset shape; the element count must not change.
func (d *MemDataset) Reshape(dims ...int) *MemDataset {
	d.shape = dims
	return d
}

func (g *MemGroup) lookup(name string) any {
	name = strings.Trim(name, "/")
	if name == "" {
		return g
	}
	var cur any = g
	for _, part := range strings.Split(name, "/") {
		grp, ok := cur.(*MemGroup)
		if !ok {
			return nil
		}
		cur, ok = grp.children[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func (g *MemGroup) clone() *MemGroup {
	out := newMemGroup(g.path)
	for k, v := range g.attrs {
		out.attrs[k] = v
	}
	for _, name := range g.order {
		switch c := g.children[name].(type) {
		case *MemGroup:
			out.add(name, c.clone())
		case *MemDataset:
			cp := *c
			cp.attrs = make(map[string]any, len(c.attrs))
			for k, v := range c.attrs {
				cp.attrs[k] = v
			}
			out.add(name, &cp)
		}
	}
	return out
}

func (g *MemGroup) Path() string { return g.path }

func (g *MemGroup) Group(name string) (Group, error) {
	c, ok := g.lookup(name).(*MemGroup)
	if !ok {
		return nil, fmt.Errorf("group %s: %w", join(g.path, name), ErrNotFound)
	}
	return c, nil
}

func (g *MemGroup) Dataset(name string) (Dataset, error) {
	c, ok := g.lookup(name).(*MemDataset)
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", join(g.path, name), ErrNotFound)
	}
	return c, nil
}

func (g *MemGroup) Has(name string) bool { return g.lookup(name) != nil }

func (g *MemGroup) IsGroup(name string) bool {
	_, ok := g.lookup(name).(*MemGroup)
	return ok
}

func (g *MemGroup) Children() ([]string, error) {
	return append([]string(nil), g.order...), nil
}

func (g *MemGroup) Close() error { return nil }

func (g *MemGroup) HasAttr(name string) bool { return hasAttr(g.attrs, name) }
func (g *MemGroup) StringAttr(name string) (string, error) {
	return stringAttr(g.path, g.attrs, name)
}
func (g *MemGroup) StringsAttr(name string) ([]string, error) {
	return stringsAttr(g.path, g.attrs, name)
}
func (g *MemGroup) IntsAttr(name string) ([]int64, error) { return intsAttr(g.path, g.attrs, name) }

func (d *MemDataset) Path() string             { return d.path }
func (d *MemDataset) Shape() []int             { return d.shape }
func (d *MemDataset) Kind() Kind               { return d.kind }
func (d *MemDataset) Close() error             { return nil }
func (d *MemDataset) HasAttr(name string) bool { return hasAttr(d.attrs, name) }
func (d *MemDataset) StringAttr(name string) (string, error) {
	return stringAttr(d.path, d.attrs, name)
}
func (d *MemDataset) StringsAttr(name string) ([]string, error) {
	return stringsAttr(d.path, d.attrs, name)
}
func (d *MemDataset) IntsAttr(name string) ([]int64, error) { return intsAttr(d.path, d.attrs, name) }

func (d *MemDataset) ReadInts(offset, count int) ([]int64, error) {
	switch d.kind {
	case KindInteger:
		if err := checkRange(d.path, offset, count, len(d.ints)); err != nil {
			return nil, err
		}
		return append([]int64(nil), d.ints[offset:offset+count]...), nil
	case KindFloat:
		if err := checkRange(d.path, offset, count, len(d.floats)); err != nil {
			return nil, err
		}
		out := make([]int64, count)
		for i, v := range d.floats[offset : offset+count] {
			out[i] = int64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
}

func (d *MemDataset) ReadFloats(offset, count int) ([]float64, error) {
	switch d.kind {
	case KindFloat:
		if err := checkRange(d.path, offset, count, len(d.floats)); err != nil {
			return nil, err
		}
		return append([]float64(nil), d.floats[offset:offset+count]...), nil
	case KindInteger:
		if err := checkRange(d.path, offset, count, len(d.ints)); err != nil {
			return nil, err
		}
		out := make([]float64, count)
		for i, v := range d.ints[offset : offset+count] {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
}

func (d *MemDataset) ReadStrings() ([]string, error) {
	if d.kind != KindString {
		return nil, fmt.Errorf("%s is %s: %w", d.path, d.kind, ErrType)
	}
	return append([]string(nil), d.strings...), nil
}

func hasAttr(attrs map[string]any, name string) bool {
	_, ok := attrs[name]
	return ok
}

func stringAttr(path string, attrs map[string]any, name string) (string, error) {
	v, ok := attrs[name]
	if !ok {
		return "", fmt.Errorf("attribute %s of %s: %w", name, path, ErrNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %s of %s is %T: %w", name, path, v, ErrType)
	}
	return s, nil
}

func stringsAttr(path string, attrs map[string]any, name string) ([]string, error) {
	v, ok := attrs[name]
	if !ok {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, ErrNotFound)
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case string:
		return []string{s}, nil
	}
	return nil, fmt.Errorf("attribute %s of %s is %T: %w", name, path, v, ErrType)
}

func intsAttr(path string, attrs map[string]any, name string) ([]int64, error) {
	v, ok := attrs[name]
	if !ok {
		return nil, fmt.Errorf("attribute %s of %s: %w", name, path, ErrNotFound)
	}
	switch n := v.(type) {
	case []int64:
		return n, nil
	case int64:
		return []int64{n}, nil
	case int:
		return []int64{int64(n)}, nil
	case []int:
		out := make([]int64, len(n))
		for i, x := range n {
			out[i] = int64(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("attribute %s of %s is %T: %w", name, path, v, ErrType)
}

// MemFS is a set of in-memory files addressed by path.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*MemFile
}

// NewMemFS returns an empty in-memory file system.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*MemFile)}
}

// Put registers f under its name.
func (fs *MemFS) Put(f *MemFile) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[f.name] = f
}

// Get returns the file registered at path.
func (fs *MemFS) Get(path string) (*MemFile, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[path]
	return f, ok
}

// Open implements Opener.
func (fs *MemFS) Open(path string) (File, error) {
	f, ok := fs.Get(path)
	if !ok {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	return f, nil
}
