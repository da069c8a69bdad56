package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/store"
)

func write(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// setup writes a two-sample MEX dataset and a configuration pointing at it.
func setup(t *testing.T) (configPath, sqlitePath string) {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "mex")
	for _, s := range []string{"S1", "S2"} {
		write(t, filepath.Join(data, s, "features.tsv"), "ENSG1\tA\tGene Expression", "ENSG2\tB\tGene Expression")
		write(t, filepath.Join(data, s, "barcodes.tsv"), "AAA-1", "CCC-1")
		write(t, filepath.Join(data, s, "matrix.mtx"),
			"%%MatrixMarket matrix coordinate integer general",
			"2 2 2",
			"1 1 2",
			"2 2 3",
		)
	}
	sqlitePath = filepath.Join(dir, "runs.sqlite")
	configPath = filepath.Join(dir, "scingest.yaml")
	write(t, configPath,
		"store:",
		"  sqlite_path: "+sqlitePath,
		"transform:",
		"  scratch_dir: "+filepath.Join(dir, "scratch"),
		"datasets:",
		"  E-1:",
		"    data_type: mex",
		"    data_path: "+data,
		"    apply_10x_filter: false",
		"    samples:",
		"      - id: S1",
		"      - id: S2",
	)
	return configPath, sqlitePath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &buf
	err := app.Run(context.Background(), append([]string{"scingest", "--log-level", "warn"}, args...))
	return buf.String(), err
}

func TestInspect(t *testing.T) {
	cfg, _ := setup(t)

	out, err := run(t, "--config", cfg, "inspect", "--dataset", "E-1")
	require.NoError(t, err)
	assert.Contains(t, out, "genes: 2")
	assert.Contains(t, out, "S2")
	assert.Contains(t, out, "10x MEX")

	_, err = run(t, "--config", cfg, "inspect", "--dataset", "E-404")
	assert.ErrorContains(t, err, "dataset not found")
	_, err = run(t, "--config", cfg, "inspect")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	cfg, sqlitePath := setup(t)

	out, err := run(t, "--config", cfg, "load", "--dataset", "E-1", "--new-name", "counts", "--prefer-single-precision")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	st, err := store.NewStore(sqlitePath)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.ListRuns("E-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 4, runs[0].Cells)
	assert.Equal(t, 2, runs[0].Vectors)
	assert.Equal(t, "counts", runs[0].QuantitationType.Name)

	_, err = run(t, "--config", cfg, "load", "--dataset", "E-1", "--new-type", "RATIO")
	assert.ErrorContains(t, err, "unknown quantitation type")
	_, err = run(t, "--config", cfg, "load", "--dataset", "nope")
	assert.ErrorContains(t, err, "dataset not found")
}

func TestTransform_Arguments(t *testing.T) {
	cfg, _ := setup(t)

	_, err := run(t, "--config", cfg, "transform", "--purpose", "compress", "a", "b")
	assert.Error(t, err)
	_, err = run(t, "--config", cfg, "transform", "--purpose", "unraw", "a")
	assert.ErrorContains(t, err, "expected an input and an output path")
}
