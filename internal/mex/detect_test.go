package mex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.mtx")
	writeFile(t, path,
		"%%MatrixMarket matrix coordinate pattern general",
		"% written by hand",
		"%",
		"3 2 3",
		"3 2",
		"1 1",
		"3 1",
	)
	m, h, err := ReadMatrix(path)
	require.NoError(t, err)
	assert.True(t, h.HasInfo)
	assert.Equal(t, FieldPattern, h.Field)
	assert.False(t, h.IsInteger())
	assert.Equal(t, []string{"written by hand", ""}, h.Comments)
	assert.Equal(t, []int{0, 1, 1, 3}, m.IndPtr)
	assert.Equal(t, []int{0, 0, 1}, m.Indices)
	assert.Equal(t, []float64{1, 1, 1}, m.Data)
}

func TestReadMatrix_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]string{
		"outside 2x2":           {"%%MatrixMarket matrix coordinate integer general", "2 2 1", "3 1 4"},
		"expected 2 entries":    {"%%MatrixMarket matrix coordinate integer general", "2 2 2", "1 1 4"},
		"only coordinate":       {"%%MatrixMarket matrix array real general", "2 2"},
		"unsupported symmetry":  {"%%MatrixMarket matrix coordinate real symmetric", "2 2 0"},
		"malformed size line":   {"%%MatrixMarket matrix coordinate real general", "2 2"},
		"malformed value":       {"%%MatrixMarket matrix coordinate real general", "2 2 1", "1 1 x"},
		"missing size line":     {"%%MatrixMarket matrix coordinate real general"},
		"unsupported field hex": {"%%MatrixMarket matrix coordinate hex general", "1 1 0"},
	}
	for want, lines := range cases {
		t.Run(want, func(t *testing.T) {
			path := filepath.Join(dir, want+".mtx")
			writeFile(t, path, lines...)
			_, _, err := ReadMatrix(path)
			assert.ErrorContains(t, err, want)
		})
	}
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := FindFiles(dir)
	assert.ErrorIs(t, err, ErrNoData)
	assert.False(t, HasFiles(dir))

	writeFile(t, filepath.Join(dir, BarcodesFile), "AAA-1")
	writeFile(t, filepath.Join(dir, GenesFile+".gz"), "a\tA")
	_, err = FindFiles(dir)
	assert.ErrorContains(t, err, "missing matrix.mtx")

	writeFile(t, filepath.Join(dir, MatrixFile), "1 1 0")
	f, err := FindFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, BarcodesFile), f.Barcodes)
	assert.Equal(t, filepath.Join(dir, GenesFile+".gz"), f.Features)
	assert.True(t, HasFiles(dir))

	meta := t.TempDir()
	writeFile(t, filepath.Join(meta, BarcodeMetadataFile+".gz"), "barcode\tx")
	_, err = FindFiles(meta)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestNeeds10xFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.mtx.gz")
	f := Files{Matrix: path}

	writeFile(t, path,
		"%%MatrixMarket matrix coordinate integer general",
		"% metadata_json: {\"software_version\": \"cellranger-7.1.0\"}",
		"2 3 2",
		"1 1 4",
		"2 3 1",
	)
	is10x, err := Is10x(path)
	require.NoError(t, err)
	assert.True(t, is10x)
	needs, err := Needs10xFilter(f)
	require.NoError(t, err)
	assert.True(t, needs)

	// Filtered: every column has an entry.
	writeFile(t, path,
		"%%MatrixMarket matrix coordinate integer general",
		"% cellranger",
		"2 2 2",
		"1 1 4",
		"2 2 1",
	)
	needs, err = Needs10xFilter(f)
	require.NoError(t, err)
	assert.False(t, needs)

	// Unfiltered but not 10x.
	writeFile(t, path,
		"%%MatrixMarket matrix coordinate integer general",
		"2 3 1",
		"1 1 4",
	)
	needs, err = Needs10xFilter(f)
	require.NoError(t, err)
	assert.False(t, needs)
}
