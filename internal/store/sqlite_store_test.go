package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "ingest.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(id, dataset string) *Run {
	return &Run{
		ID:        id,
		DatasetID: dataset,
		Status:    RunStatusQueued,
		Params:    RunParams{DatasetID: dataset, QuantitationType: "X", PreferSinglePrecision: true},
		CreatedAt: time.Now(),
	}
}

func testDimension(t *testing.T) *singlecell.CellDimension {
	t.Helper()
	dim, err := singlecell.NewCellDimension(
		[]string{"AAA-1", "CCC-1", "AAA-1"},
		[]*singlecell.Sample{{ID: "GSM1", Name: "lane 1"}, {ID: "GSM2"}},
		[]int{0, 2},
	)
	require.NoError(t, err)
	return dim
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(newRun("r1", "E-1")))

	run, err := s.GetRun("r1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, "X", run.Params.QuantitationType)
	assert.True(t, run.Params.PreferSinglePrecision)
	assert.Nil(t, run.StartedAt)
	assert.Nil(t, run.QuantitationType)

	require.NoError(t, s.UpdateRunStarted("r1"))
	assert.ErrorIs(t, s.UpdateRunStarted("r1"), ErrNotQueued)
	require.NoError(t, s.UpdateRunProgress("r1", "vectors", 3, 10))
	qt := singlecell.QuantitationType{Name: "counts", Type: singlecell.TypeCount, Scale: singlecell.ScaleCount, Representation: singlecell.RepresentationInt}
	require.NoError(t, s.UpdateRunSummary("r1", qt, 3, 10))
	require.NoError(t, s.UpdateRunStatus("r1", RunStatusCompleted, ""))

	run, err = s.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, RunProgress{Phase: "vectors", Done: 3, Total: 10}, run.Progress)
	require.NotNil(t, run.QuantitationType)
	assert.Equal(t, qt, *run.QuantitationType)
	assert.Equal(t, 10, run.Vectors)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.FinishedAt)

	missing, err := s.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListAndRecovery(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(newRun("a", "E-1")))
	require.NoError(t, s.CreateRun(newRun("b", "E-2")))
	require.NoError(t, s.CreateRun(newRun("c", "E-1")))
	require.NoError(t, s.UpdateRunStarted("c"))

	runs, err := s.ListRuns("E-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	all, err := s.ListRuns("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queued, err := s.ListQueuedRuns()
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	require.NoError(t, s.MarkRunningAsFailed("server restarted"))
	c, err := s.GetRun("c")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, c.Status)
	assert.Equal(t, "server restarted", c.Error)
}

func TestDimensionAndCharacteristics(t *testing.T) {
	s := newTestStore(t)
	dim := testDimension(t)
	require.NoError(t, s.PutDimension("r1", dim))

	got, err := s.GetDimension("r1")
	require.NoError(t, err)
	assert.Equal(t, dim.CellIDs, got.CellIDs)
	assert.Equal(t, dim.Offsets, got.Offsets)
	assert.Equal(t, "lane 1", got.Samples[0].Name)

	none, err := s.GetDimension("r2")
	require.NoError(t, err)
	assert.Nil(t, none)

	ct := &singlecell.CellTypeAssignment{
		CellLevelCharacteristics: singlecell.CellLevelCharacteristics{
			Name:            "author",
			Characteristics: []singlecell.Characteristic{{Category: "cell type", Value: "T cell"}, {Category: "cell type", Value: "B cell"}},
			Indices:         []int{1, singlecell.UnknownCode, 0},
		},
		Protocol:  "manual",
		Preferred: true,
	}
	require.NoError(t, s.PutCellTypeAssignments("r1", []*singlecell.CellTypeAssignment{ct}))
	other := &singlecell.CellLevelCharacteristics{
		Name:            "treatment",
		Characteristics: []singlecell.Characteristic{{Category: "treatment", Value: "drug"}},
		Indices:         []int{0, 0, singlecell.UnknownCode},
	}
	require.NoError(t, s.PutCharacteristics("r1", []*singlecell.CellLevelCharacteristics{other}))

	cts, err := s.GetCellTypeAssignments("r1")
	require.NoError(t, err)
	require.Len(t, cts, 1)
	assert.Equal(t, ct, cts[0])

	others, err := s.GetCharacteristics("r1")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, other, others[0])
}

func TestSequencingMetadata(t *testing.T) {
	s := newTestStore(t)
	meta := map[string]singlecell.SequencingMetadata{
		"GSM1": {ReadLength: mo.Some(int64(150)), IsPaired: mo.Some(false)},
		"GSM2": {ReadCount: mo.Some(int64(1000))},
	}
	require.NoError(t, s.PutSequencingMetadata("r1", meta))
	got, err := s.GetSequencingMetadata("r1")
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestVectors(t *testing.T) {
	s := newTestStore(t)
	dim := testDimension(t)
	vectors := []*singlecell.ExpressionVector{
		{DesignElement: singlecell.DesignElement{Name: "ENSG2", Gene: "B"}, OriginalElementID: "ENSG2", Dimension: dim, Data: []float64{1.5, 3}, Indices: []int{0, 2}},
		{DesignElement: singlecell.DesignElement{Name: "ENSG1"}, OriginalElementID: "ENSG1", Dimension: dim, Data: []float64{}, Indices: []int{}},
	}
	require.NoError(t, s.InsertVectors("r1", vectors))

	v, err := s.GetVector("r1", "ENSG2")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []float64{1.5, 3}, v.Data)
	assert.Equal(t, []int{0, 2}, v.Indices)
	assert.Equal(t, "B", v.Gene)

	empty, err := s.GetVector("r1", "ENSG1")
	require.NoError(t, err)
	assert.Empty(t, empty.Data)

	missing, err := s.GetVector("r1", "ENSG9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, total, err := s.ListVectors("r1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "ENSG1", list[0].Element)

	// Duplicate elements within a run are rejected.
	assert.Error(t, s.InsertVectors("r1", vectors[:1]))
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(newRun("r1", "E-1")))
	require.NoError(t, s.PutDimension("r1", testDimension(t)))
	require.NoError(t, s.InsertVectors("r1", []*singlecell.ExpressionVector{
		{DesignElement: singlecell.DesignElement{Name: "g"}, OriginalElementID: "g", Data: []float64{1}, Indices: []int{1}},
	}))

	require.NoError(t, s.ClearRunData("r1"))
	_, total, err := s.ListVectors("r1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	run, err := s.GetRun("r1")
	require.NoError(t, err)
	assert.NotNil(t, run)

	require.NoError(t, s.DeleteRun("r1"))
	run, err = s.GetRun("r1")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestDeleteExpiredRuns(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateRun(newRun("old", "E-1")))
	require.NoError(t, s.CreateRun(newRun("fresh", "E-1")))
	require.NoError(t, s.CreateRun(newRun("pending", "E-1")))
	require.NoError(t, s.UpdateRunStatus("fresh", RunStatusCompleted, ""))
	past := time.Now().AddDate(0, 0, -10).Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?`, string(RunStatusCompleted), past, "old")
	require.NoError(t, err)

	n, err := s.DeleteExpiredRuns(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	runs, err := s.ListRuns("")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBlobCodec(t *testing.T) {
	c, err := newBlobCodec()
	require.NoError(t, err)
	defer c.Close()

	ix := []int{0, 5, 6, 1 << 20}
	got, err := c.decodeIndices(c.indices(ix), len(ix))
	require.NoError(t, err)
	assert.Equal(t, ix, got)

	codes := []int{2, singlecell.UnknownCode, 0}
	got, err = c.decodeIndices(c.indices(codes), len(codes))
	require.NoError(t, err)
	assert.Equal(t, codes, got)

	_, err = c.decodeIndices(c.indices(ix[:2]), 3)
	assert.ErrorIs(t, err, errTruncated)

	ids, err := c.decodeIdents(c.idents([]string{"a", "", "c"}), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "", "c"}, ids)
}
