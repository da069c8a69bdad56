package singlecell

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDimension(rng *rand.Rand) *CellDimension {
	n := rng.Intn(6) + 1
	var cells []string
	samples := make([]*Sample, n)
	offsets := make([]int, n)
	for i := range samples {
		samples[i] = &Sample{ID: fmt.Sprintf("S%d", i)}
		offsets[i] = len(cells)
		for c := rng.Intn(5); c > 0; c-- {
			cells = append(cells, fmt.Sprintf("cell-%d", c))
		}
	}
	d, err := NewCellDimension(cells, samples, offsets)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCellDimension_OffsetProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		d := randomDimension(rng)
		require.Len(t, d.Offsets, len(d.Samples))
		for i := 1; i < len(d.Offsets); i++ {
			assert.LessOrEqual(t, d.Offsets[i-1], d.Offsets[i])
		}
		idx := d.OffsetIndex()
		for pos := 0; pos < d.NumCells(); pos++ {
			owners := 0
			for _, s := range d.Samples {
				r := idx[s.ID]
				if pos >= r.Start && pos < r.End() {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "cell %d", pos)
			owner := d.Samples[d.SampleAt(pos)]
			r := idx[owner.ID]
			assert.True(t, pos >= r.Start && pos < r.End())
		}
	}
}

func TestCellDimension_Validate(t *testing.T) {
	a, b := &Sample{ID: "A"}, &Sample{ID: "B"}

	_, err := NewCellDimension([]string{"x", "y"}, []*Sample{a, b}, []int{0, 3})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = NewCellDimension([]string{"x", "y"}, []*Sample{a, b}, []int{1, 2})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, err = NewCellDimension([]string{"x", "y"}, []*Sample{a, a}, []int{0, 1})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	d, err := NewCellDimension([]string{"x", "y", "z"}, []*Sample{a, b}, []int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, d.CellIDsBySample(1))
	assert.Equal(t, 2, d.NumCellsBySample(0))
	assert.Equal(t, 1, d.SampleIndex(&Sample{ID: "B"}))
	assert.Equal(t, -1, d.SampleAt(3))

	empty := EmptyCellDimension()
	assert.NoError(t, empty.Validate())
	assert.Equal(t, 0, empty.NumCells())
}

func TestGroupContiguous(t *testing.T) {
	names, starts, err := GroupContiguous([]string{"A", "A", "B", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names)
	assert.Equal(t, []int{0, 2, 4}, starts)

	_, _, err = GroupContiguous([]string{"A", "B", "A"})
	assert.ErrorIs(t, err, ErrNonContiguous)
	assert.Contains(t, err.Error(), `"A"`)
	assert.Contains(t, err.Error(), "position 2")
}

func TestSelectQuantitationType(t *testing.T) {
	qts := []QuantitationType{{Name: "X"}, {Name: "layers/counts"}}

	q, err := SelectQuantitationType(qts, "X")
	require.NoError(t, err)
	assert.Equal(t, "X", q.Name)

	_, err = SelectQuantitationType(qts, "")
	assert.ErrorContains(t, err, "more than one")

	_, err = SelectQuantitationType(qts, "missing")
	assert.ErrorContains(t, err, "no quantitation type available with name missing")
	assert.ErrorContains(t, err, "layers/counts")
}

func TestParseTypeAndScale(t *testing.T) {
	ty, err := ParseType("amount")
	require.NoError(t, err)
	assert.Equal(t, TypeAmount, ty)
	_, err = ParseType("ratio")
	assert.Error(t, err)

	sc, err := ParseScale("Other")
	require.NoError(t, err)
	assert.Equal(t, ScaleOther, sc)
	_, err = ParseScale("log2")
	assert.Error(t, err)
}

func TestCellLevelCharacteristics_Validate(t *testing.T) {
	clc := &CellLevelCharacteristics{
		Name:            "cell type",
		Characteristics: []Characteristic{{Category: "cell type", Value: "T"}},
		Indices:         []int{0, UnknownCode, 0},
	}
	require.NoError(t, clc.Validate(3))
	assert.Equal(t, 2, clc.NumAssigned())
	_, ok := clc.Characteristic(1)
	assert.False(t, ok)

	clc.Indices[1] = 1
	assert.Error(t, clc.Validate(3))
	assert.Error(t, clc.Validate(4))
}

func TestSelectPreferred(t *testing.T) {
	a := &CellTypeAssignment{CellLevelCharacteristics: CellLevelCharacteristics{Name: "a"}}
	b := &CellTypeAssignment{CellLevelCharacteristics: CellLevelCharacteristics{Name: "b"}}

	_, err := SelectPreferred([]*CellTypeAssignment{a, b}, "")
	assert.Error(t, err)

	got, err := SelectPreferred([]*CellTypeAssignment{a, b}, "b")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.True(t, b.Preferred)

	_, err = SelectPreferred([]*CellTypeAssignment{a}, "c")
	assert.ErrorContains(t, err, "possible values are: a")
}
