package h5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemFile(t *testing.T) {
	f := NewMemFile("/data/a.h5ad")
	f.SetAttr("encoding-type", "anndata")
	f.CreateGroup("X").SetAttr("shape", []int64{2, 3})
	f.CreateInts("X/indptr", []int64{0, 1, 3})
	f.CreateFloats("X/data", []float64{1.5, 2, 3})
	f.CreateStrings("obs/_index", []string{"a", "b"})

	assert.True(t, f.Has("X/indptr"))
	assert.True(t, f.IsGroup("obs"))
	assert.False(t, f.IsGroup("X/data"))

	children, err := f.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "obs"}, children)

	x, err := f.Group("X")
	require.NoError(t, err)
	assert.Equal(t, "/X", x.Path())
	shape, err := x.IntsAttr("shape")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, shape)

	data, err := x.Dataset("data")
	require.NoError(t, err)
	assert.Equal(t, KindFloat, data.Kind())
	ints, err := data.ReadInts(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ints)
	_, err = data.ReadFloats(2, 5)
	assert.Error(t, err)
	_, err = data.ReadStrings()
	assert.ErrorIs(t, err, ErrType)

	_, err = f.Dataset("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.StringAttr("encoding-version")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = x.StringAttr("shape")
	assert.ErrorIs(t, err, ErrType)
}

func TestMemFile_CloneAndDelete(t *testing.T) {
	f := NewMemFile("a")
	f.CreateInts("raw/X/data", []int64{1})
	g := f.Clone("b")
	g.Delete("raw")
	g.CreateGroup("obs").SetAttr("encoding-type", "dataframe")

	assert.True(t, f.Has("raw/X/data"))
	assert.False(t, f.Has("obs"))
	assert.False(t, g.Has("raw"))
	assert.Equal(t, "b", g.Name())

	fs := NewMemFS()
	fs.Put(g)
	opened, err := fs.Open("b")
	require.NoError(t, err)
	assert.True(t, opened.IsGroup("obs"))
	_, err = fs.Open("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenFile_WithoutNativeBackend(t *testing.T) {
	if Native {
		t.Skip("native backend compiled in")
	}
	_, err := OpenFile("/nonexistent.h5ad")
	assert.ErrorIs(t, err, ErrUnsupported)
}
