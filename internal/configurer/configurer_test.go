package configurer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/anndata"
	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/loader"
	"github.com/atlasmap-sc/ingest/internal/mex"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/transform"
	"github.com/atlasmap-sc/ingest/internal/workpool"
)

func write(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// writeMEX writes a sample with two genes. With unfiltered set the matrix is
// 10x output holding an empty droplet in its second column.
func writeMEX(t *testing.T, dir string, unfiltered bool) {
	t.Helper()
	write(t, filepath.Join(dir, mex.FeaturesFile), "ENSG1\tA\tGene Expression", "ENSG2\tB\tGene Expression")
	if unfiltered {
		write(t, filepath.Join(dir, mex.BarcodesFile), "AAA-1", "CCC-1", "GGG-1")
		write(t, filepath.Join(dir, mex.MatrixFile),
			"%%MatrixMarket matrix coordinate integer general",
			`% metadata_json: {"software_version": "cellranger-7.1.0"}`,
			"2 3 2",
			"1 1 4",
			"2 3 1",
		)
		return
	}
	write(t, filepath.Join(dir, mex.BarcodesFile), "AAA-1", "CCC-1")
	write(t, filepath.Join(dir, mex.MatrixFile),
		"%%MatrixMarket matrix coordinate integer general",
		"2 2 2",
		"1 1 2",
		"2 2 3",
	)
}

func samples(ids ...string) []*singlecell.Sample {
	out := make([]*singlecell.Sample, len(ids))
	for i, id := range ids {
		out[i] = &singlecell.Sample{ID: id}
	}
	return out
}

func TestDetectDataType(t *testing.T) {
	dir := t.TempDir()
	for name, want := range map[string]DataType{
		"atlas.h5ad":     DataTypeAnnData,
		"Atlas.H5AD":     DataTypeAnnData,
		"atlas.h5seurat": DataTypeSeurat,
		"atlas.loom":     DataTypeLoom,
	} {
		p := filepath.Join(dir, name)
		write(t, p, "x")
		got, err := DetectDataType(p)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	got, err := DetectDataType(dir)
	require.NoError(t, err)
	assert.Equal(t, DataTypeMEX, got)

	got, err = DetectDataType(filepath.Join(dir, "missing.h5ad"))
	require.NoError(t, err)
	assert.Equal(t, DataTypeNull, got)

	p := filepath.Join(dir, "atlas.rds")
	write(t, p, "x")
	_, err = DetectDataType(p)
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)

	_, err = ParseDataType("csv")
	assert.Error(t, err)
	dt, err := ParseDataType("AnnData")
	require.NoError(t, err)
	assert.Equal(t, DataTypeAnnData, dt)
}

func TestDiscoverMEXSamples(t *testing.T) {
	root := t.TempDir()
	writeMEX(t, filepath.Join(root, "S10"), false)
	writeMEX(t, filepath.Join(root, "S2"), false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "S1"), 0o755))
	writeMEX(t, filepath.Join(root, ".snapshot"), false)

	found, err := DiscoverMEXSamples(root, true)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "S2", found[0].Name)
	assert.Equal(t, "S10", found[1].Name)
	assert.Equal(t, filepath.Join(root, "S10", mex.MatrixFile), found[1].Files.Matrix)

	_, err = DiscoverMEXSamples(root, false)
	assert.ErrorIs(t, err, mex.ErrNoData)
	assert.ErrorContains(t, err, "S1")

	// A directory holding its own files is a single sample.
	single, err := DiscoverMEXSamples(filepath.Join(root, "S2"), false)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "S2", single[0].Name)

	_, err = DiscoverMEXSamples(filepath.Join(root, "S1"), true)
	assert.ErrorIs(t, err, mex.ErrNoData)
}

func TestConfigure_Null(t *testing.T) {
	c := &Configurer{}
	l, err := c.Configure(context.Background(), Options{DataPath: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)
	dim, err := l.CellDimension(samples("A"))
	require.NoError(t, err)
	assert.Equal(t, 0, dim.NumCells())
	assert.NoError(t, l.Close())
}

func TestConfigure_Unsupported(t *testing.T) {
	p := filepath.Join(t.TempDir(), "atlas.h5seurat")
	write(t, p, "x")
	_, err := (&Configurer{}).Configure(context.Background(), Options{DataPath: p})
	assert.ErrorIs(t, err, loader.ErrUnsupportedFormat)
	assert.ErrorContains(t, err, "convert them to AnnData")

	_, err = (&Configurer{}).Configure(context.Background(), Options{DataPath: "s3://bucket/atlas.h5ad"})
	assert.ErrorContains(t, err, "not configured")
}

// atlas builds a 3-cell, 2-gene AnnData file with samples A and B. X is
// stored cell-major and raw/X gene-major.
func atlas(name string, withRaw bool) *h5.MemFile {
	f := h5.NewMemFile(name)
	f.SetAttr("encoding-type", "anndata")
	obs := f.CreateGroup("obs").SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index").SetAttr("column-order", []string{"sample"})
	obs.CreateStrings("_index", []string{"c1", "c2", "c3"})
	cat := obs.CreateGroup("sample").SetAttr("encoding-type", "categorical")
	cat.CreateStrings("categories", []string{"A", "B"})
	cat.CreateInts("codes", []int64{0, 0, 1})
	vars := f.CreateGroup("var").SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
	vars.CreateStrings("_index", []string{"g1", "g2"})

	csc := func(g *h5.MemGroup) {
		g.SetAttr("encoding-type", anndata.EncodingCSC).SetAttr("shape", []int64{3, 2})
		g.CreateInts("indptr", []int64{0, 2, 3})
		g.CreateInts("indices", []int64{0, 2, 1})
		g.CreateInts("data", []int64{1, 2, 3})
	}
	if !withRaw {
		csc(f.CreateGroup("X"))
		return f
	}
	x := f.CreateGroup("X").SetAttr("encoding-type", anndata.EncodingCSR).SetAttr("shape", []int64{3, 2})
	x.CreateInts("indptr", []int64{0, 1, 2, 3})
	x.CreateInts("indices", []int64{0, 1, 0})
	x.CreateFloats("data", []float64{0.5, 0.7, 0.9})
	rv := f.CreateGroup("raw/var").SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
	rv.CreateStrings("_index", []string{"g1", "g2"})
	csc(f.CreateGroup("raw/X"))
	return f
}

// fakeRunner writes the outputs of unraw in a MemFS and of the 10x filter on
// disk.
type fakeRunner struct {
	fs    *h5.MemFS
	calls []transform.Purpose
}

func (r *fakeRunner) Run(_ context.Context, purpose transform.Purpose, input, output string, _ ...string) error {
	r.calls = append(r.calls, purpose)
	switch purpose {
	case transform.PurposeUnraw:
		r.fs.Put(atlas(output, false))
	case transform.PurposeFilter10x:
		files, err := mex.FindFiles(input)
		if err != nil {
			return err
		}
		features, err := os.ReadFile(files.Features)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(output, mex.FeaturesFile), features, 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(output, mex.BarcodesFile), []byte("AAA-1\nGGG-1\n"), 0o644); err != nil {
			return err
		}
		mtx := "%%MatrixMarket matrix coordinate integer general\n2 2 2\n1 1 4\n2 2 1\n"
		return os.WriteFile(filepath.Join(output, mex.MatrixFile), []byte(mtx), 0o644)
	}
	return nil
}

func TestConfigure_AnnDataUnraw(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(atlas("atlas.h5ad", true))
	r := &fakeRunner{fs: fs}
	c := &Configurer{Runner: r, Opener: fs.Open, ScratchDir: t.TempDir()}

	opts := DefaultOptions()
	opts.DataType = DataTypeAnnData
	opts.DataPath = "atlas.h5ad"
	opts.SampleFactorName = "sample"
	opts.DefaultReadLength = 150
	l, err := c.Configure(context.Background(), opts)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []transform.Purpose{transform.PurposeUnraw}, r.calls)
	names, err := l.SampleNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)

	dim, err := l.CellDimension(samples("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 3, dim.NumCells())

	qts, err := l.QuantitationTypes()
	require.NoError(t, err)
	require.NotEmpty(t, qts)
	assert.Equal(t, singlecell.RepresentationLong, qts[0].Representation)

	meta, err := l.SequencingMetadata(dim)
	require.NoError(t, err)
	assert.Equal(t, mo.Some(int64(150)), meta["B"].ReadLength)
}

func TestConfigure_AnnDataSkipTransformations(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(atlas("atlas.h5ad", true))
	r := &fakeRunner{fs: fs}
	c := &Configurer{Runner: r, Opener: fs.Open}

	opts := DefaultOptions()
	opts.DataType = DataTypeAnnData
	opts.DataPath = "atlas.h5ad"
	opts.SampleFactorName = "sample"
	opts.SkipTransformations = true
	l, err := c.Configure(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, r.calls)
	require.NoError(t, l.Close())

	// Without a runner the needed unraw fails and nothing leaks.
	opts.SkipTransformations = false
	_, err = (&Configurer{Opener: fs.Open}).Configure(context.Background(), opts)
	assert.ErrorIs(t, err, transform.ErrNoRunner)
}

func TestConfigure_MEX10xFilter(t *testing.T) {
	root := t.TempDir()
	writeMEX(t, filepath.Join(root, "S1"), true)
	writeMEX(t, filepath.Join(root, "S2"), false)

	pool := workpool.New(2)
	defer pool.Stop()
	r := &fakeRunner{}
	c := &Configurer{Runner: r, Pool: pool, ScratchDir: t.TempDir()}

	opts := DefaultOptions()
	opts.DataPath = root
	l, err := c.Configure(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []transform.Purpose{transform.PurposeFilter10x}, r.calls)

	dim, err := l.CellDimension(samples("S1", "S2"))
	require.NoError(t, err)
	assert.Equal(t, 2, dim.NumCellsBySample(0))
	assert.Equal(t, 2, dim.NumCellsBySample(1))

	scratch, err := os.ReadDir(c.ScratchDir)
	require.NoError(t, err)
	assert.NotEmpty(t, scratch)
	require.NoError(t, l.Close())
	scratch, err = os.ReadDir(c.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, scratch)

	// Forced off, the unfiltered sample keeps its empty droplet.
	r.calls = nil
	opts.Apply10xFilter = mo.Some(false)
	l, err = c.Configure(context.Background(), opts)
	require.NoError(t, err)
	defer l.Close()
	assert.Empty(t, r.calls)
	dim, err = l.CellDimension(samples("S1", "S2"))
	require.NoError(t, err)
	assert.Equal(t, 3, dim.NumCellsBySample(0))
}

func TestConfigure_Renaming(t *testing.T) {
	root := t.TempDir()
	writeMEX(t, filepath.Join(root, "lane1"), false)
	renaming := filepath.Join(t.TempDir(), "renaming.tsv")
	write(t, renaming, "lane1\tGSM1")

	opts := DefaultOptions()
	opts.DataPath = root
	opts.RenamingFile = renaming
	l, err := (&Configurer{}).Configure(context.Background(), opts)
	require.NoError(t, err)
	defer l.Close()

	dim, err := l.CellDimension(samples("GSM1"))
	require.NoError(t, err)
	assert.Equal(t, 2, dim.NumCells())
}
