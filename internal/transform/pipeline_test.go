package transform

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/anndata"
	"github.com/atlasmap-sc/ingest/internal/h5"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/workpool"
)

// annData builds a 2-cell, 1-gene AnnData file whose X has the given sparse
// encoding.
func annData(name, encoding string, withEncodings, withRaw bool) *h5.MemFile {
	f := h5.NewMemFile(name)
	obs := f.CreateGroup("obs")
	vars := f.CreateGroup("var")
	if withEncodings {
		f.SetAttr("encoding-type", "anndata")
		obs.SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
		vars.SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
	}
	obs.CreateStrings("_index", []string{"c1", "c2"})
	vars.CreateStrings("_index", []string{"g1"})
	matrix := func(g *h5.MemGroup) {
		indptr := []int64{0, 1}
		if encoding == anndata.EncodingCSR {
			indptr = []int64{0, 1, 1}
		}
		g.SetAttr("encoding-type", encoding).SetAttr("shape", []int64{2, 1})
		g.CreateInts("indptr", indptr)
		g.CreateInts("indices", []int64{0})
		g.CreateInts("data", []int64{3})
	}
	matrix(f.CreateGroup("X"))
	if withRaw {
		rv := f.CreateGroup("raw/var")
		rv.SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
		rv.CreateStrings("_index", []string{"g1"})
		matrix(f.CreateGroup("raw/X"))
	}
	return f
}

// fakeRunner materializes outputs in a MemFS the way the real scripts would
// lay them out on disk.
type fakeRunner struct {
	fs    *h5.MemFS
	mu    sync.Mutex
	calls []Purpose
	fail  map[Purpose]error
	// noop leaves the file unchanged for these purposes.
	noop map[Purpose]bool
}

func (r *fakeRunner) Run(_ context.Context, purpose Purpose, input, output string, _ ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, purpose)
	r.mu.Unlock()
	if err := r.fail[purpose]; err != nil {
		return err
	}
	if purpose == PurposeFilter10x {
		return os.WriteFile(filepath.Join(output, "matrix.mtx"), []byte(input), 0o644)
	}
	in, ok := r.fs.Get(input)
	if !ok {
		return errors.New("no such input " + input)
	}
	if r.noop[purpose] {
		r.fs.Put(in.Clone(output))
		return nil
	}
	switch purpose {
	case PurposeRewrite:
		out := in.Clone(output)
		out.SetAttr("encoding-type", "anndata")
		for _, name := range []string{"obs", "var"} {
			g, _ := out.Group(name)
			g.(*h5.MemGroup).SetAttr("encoding-type", "dataframe").SetAttr("_index", "_index")
		}
		r.fs.Put(out)
	case PurposeUnraw, PurposeTranspose:
		r.fs.Put(annData(output, anndata.EncodingCSC, true, false))
	}
	return nil
}

func newPipeline(t *testing.T, r *fakeRunner) *Pipeline {
	t.Helper()
	p := New(Config{Runner: r, Opener: r.fs.Open, ScratchDir: t.TempDir()})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPrepare_MissingEncodingRewritesOnce(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSC, false, false))
	r := &fakeRunner{fs: fs}
	p := newPipeline(t, r)

	res, err := p.Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Equal(t, []Purpose{PurposeRewrite}, r.calls)
	assert.Equal(t, []Purpose{PurposeRewrite}, res.Applied)
	assert.NotEqual(t, "in.h5ad", res.Path)
	assert.False(t, res.Info.MissingEncoding)
	assert.Equal(t, 1, p.Temps().Len())

	original, _ := fs.Get("in.h5ad")
	assert.False(t, original.HasAttr("encoding-type"))
}

func TestPrepare_RewriteOutputFeedsLaterSteps(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSR, false, false))
	r := &fakeRunner{fs: fs}

	res, err := newPipeline(t, r).Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Equal(t, []Purpose{PurposeRewrite, PurposeTranspose}, r.calls)
	assert.Equal(t, anndata.EncodingCSC, res.Info.Encoding)
	assert.False(t, res.Unrawed())
}

func TestPrepare_UnrawBeforeTranspose(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSR, true, true))
	r := &fakeRunner{fs: fs}

	res, err := newPipeline(t, r).Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Equal(t, []Purpose{PurposeUnraw}, r.calls)
	assert.True(t, res.Unrawed())
}

func TestPrepare_NothingToDo(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSC, true, true))
	r := &fakeRunner{fs: fs}
	p := newPipeline(t, r)

	res, err := p.Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Empty(t, r.calls)
	assert.Equal(t, "in.h5ad", res.Path)
	assert.Equal(t, 0, p.Temps().Len())

	// Transposed orientation: csc is now the wrong layout.
	p = New(Config{Runner: r, Opener: fs.Open, Transpose: true, SkipTranspose: true, ScratchDir: t.TempDir()})
	_, err = p.Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Equal(t, []Purpose{PurposeUnraw}, r.calls)
}

func TestPrepare_FailureCleansUp(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSR, false, false))
	failure := &ExitError{Purpose: PurposeTranspose, ExitCode: 1, Stderr: "out of memory"}
	r := &fakeRunner{fs: fs, fail: map[Purpose]error{PurposeTranspose: failure}}
	p := newPipeline(t, r)

	var removed []string
	p.temps.remove = func(path string) error {
		removed = append(removed, path)
		return errors.New("busy")
	}
	_, err := p.Prepare(context.Background(), "in.h5ad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransformFailed)
	assert.ErrorContains(t, err, "out of memory")
	assert.ErrorContains(t, err, "busy")
	assert.Len(t, removed, 2)
	assert.Equal(t, 0, p.Temps().Len())
}

func TestPrepare_StillMissingEncoding(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSC, false, false))
	r := &fakeRunner{fs: fs, noop: map[Purpose]bool{PurposeRewrite: true}}
	_, err := newPipeline(t, r).Prepare(context.Background(), "in.h5ad")
	assert.ErrorIs(t, err, anndata.ErrMissingEncoding)
}

func TestFilter10x(t *testing.T) {
	for _, workers := range []int{0, 3} {
		r := &fakeRunner{fs: h5.NewMemFS()}
		m := metrics.New()
		p := New(Config{Runner: r, ScratchDir: t.TempDir(), Metrics: m})
		var pool *workpool.Pool
		if workers > 0 {
			pool = workpool.New(workers)
		}
		outs, err := p.Filter10x(context.Background(), []string{"s1", "s2", "s3"}, pool)
		require.NoError(t, err)
		require.Len(t, outs, 3)
		for i, out := range outs {
			b, err := os.ReadFile(filepath.Join(out, "matrix.mtx"))
			require.NoError(t, err)
			assert.Equal(t, []string{"s1", "s2", "s3"}[i], string(b))
		}
		assert.Len(t, r.calls, 3)
		require.NoError(t, p.Close())
		for _, out := range outs {
			assert.NoDirExists(t, out)
		}
		if pool != nil {
			pool.Stop()
		}
	}
}

func TestFilter10x_Failure(t *testing.T) {
	r := &fakeRunner{fs: h5.NewMemFS(), fail: map[Purpose]error{PurposeFilter10x: &ExitError{Purpose: PurposeFilter10x, ExitCode: 2}}}
	p := New(Config{Runner: r, ScratchDir: t.TempDir()})
	_, err := p.Filter10x(context.Background(), []string{"s1", "s2"}, nil)
	assert.ErrorIs(t, err, ErrTransformFailed)
	assert.ErrorContains(t, err, "failed to filter s1")
	assert.Equal(t, 0, p.Temps().Len())
}

func TestScriptRunner(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh is not available")
	}
	dir := t.TempDir()
	script := "echo converting \"$1\"\necho \"$3\" > \"$2\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rewrite.py"), []byte(script), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "transpose.py"), []byte("echo 'not sparse' >&2\nexit 3\n"), 0o644))

	r := &ScriptRunner{Python: sh, ScriptsDir: dir}
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, r.Run(context.Background(), PurposeRewrite, "in.h5ad", out, "extra"))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "extra\n", string(b))

	err = r.Run(context.Background(), PurposeTranspose, "in.h5ad", out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "not sparse", exitErr.Stderr)
	assert.ErrorIs(t, err, ErrTransformFailed)
}

func TestScriptRunner_Command(t *testing.T) {
	r := &ScriptRunner{ScriptsDir: "/opt/scripts", Programs: map[Purpose]string{PurposeFilter10x: "/usr/bin/filter"}}
	assert.Equal(t, []string{"python3", "/opt/scripts/unraw.py", "a", "b"}, r.Command(PurposeUnraw, "a", "b"))
	assert.Equal(t, []string{"/usr/bin/filter", "a", "b", "--x"}, r.Command(PurposeFilter10x, "a", "b", "--x"))

	p, err := ParsePurpose("sort-by-sample")
	require.NoError(t, err)
	assert.Equal(t, PurposeSortBySample, p)
	_, err = ParsePurpose("shuffle")
	assert.ErrorContains(t, err, "rewrite")
}

func TestTemps(t *testing.T) {
	dir := t.TempDir()
	temps := NewTemps(dir)
	d, err := temps.Dir("x")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(d, "f"), nil, 0o644))
	p, err := temps.Path("y", ".h5ad")
	require.NoError(t, err)
	assert.Equal(t, ".h5ad", filepath.Ext(p))
	assert.Equal(t, 2, temps.Len())
	require.NoError(t, temps.Cleanup())
	assert.NoDirExists(t, d)
}

// diskRunner also writes each output file, as the scripts do.
type diskRunner struct{ *fakeRunner }

func (r diskRunner) Run(ctx context.Context, purpose Purpose, input, output string, extra ...string) error {
	if err := r.fakeRunner.Run(ctx, purpose, input, output, extra...); err != nil {
		return err
	}
	return os.WriteFile(output, []byte(purpose), 0o644)
}

func TestPrepare_CreatesScratchDir(t *testing.T) {
	fs := h5.NewMemFS()
	fs.Put(annData("in.h5ad", anndata.EncodingCSC, false, false))
	scratch := filepath.Join(t.TempDir(), "data", "scratch")
	p := New(Config{Runner: diskRunner{&fakeRunner{fs: fs}}, Opener: fs.Open, ScratchDir: scratch})

	res, err := p.Prepare(context.Background(), "in.h5ad")
	require.NoError(t, err)
	assert.Equal(t, scratch, filepath.Dir(res.Path))
	assert.FileExists(t, res.Path)

	require.NoError(t, p.Close())
	assert.NoFileExists(t, res.Path)
}
