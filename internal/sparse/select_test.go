package sparse

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectColumnsNaive(m *CSR, cols []int) *CSR {
	out := &CSR{Rows: m.Rows, Cols: len(cols), IndPtr: make([]int, 1, m.Rows+1)}
	for i := 0; i < m.Rows; i++ {
		lo, hi := m.IndPtr[i], m.IndPtr[i+1]
		for j, c := range cols {
			k := lo + sort.SearchInts(m.Indices[lo:hi], c)
			if k < hi && m.Indices[k] == c {
				out.Indices = append(out.Indices, j)
				out.Data = append(out.Data, m.Data[k])
			}
		}
		out.IndPtr = append(out.IndPtr, len(out.Indices))
	}
	return out
}

func randomCSR(rng *rand.Rand, rows, cols int, density float64) *CSR {
	var r, c []int
	var v []float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if rng.Float64() < density {
				r = append(r, i)
				c = append(c, j)
				v = append(v, float64(rng.Intn(100)+1))
			}
		}
	}
	m, err := FromTriplets(rows, cols, r, c, v)
	if err != nil {
		panic(err)
	}
	return m
}

func rowSet(m *CSR, i int) map[int]float64 {
	idx, val := m.Row(i)
	out := make(map[int]float64, len(idx))
	for k := range idx {
		out[idx[k]] = val[k]
	}
	return out
}

func TestSelectColumns_SingleRowScenario(t *testing.T) {
	m, err := New(1, 100, []int{0, 3}, []int{5, 10, 15}, []float64{1, 2, 3})
	require.NoError(t, err)

	got, err := SelectColumns(m, []int{10, 99})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Cols)
	assert.Equal(t, []int{0, 1}, got.IndPtr)
	assert.Equal(t, []int{0}, got.Indices)
	assert.Equal(t, []float64{2}, got.Data)

	absent, err := SelectColumns(m, []int{99})
	require.NoError(t, err)
	assert.Equal(t, 0, absent.NNZ())
}

func TestSelectColumns_OutOfRange(t *testing.T) {
	m, err := New(1, 50, []int{0, 3}, []int{5, 10, 15}, []float64{1, 2, 3})
	require.NoError(t, err)

	_, err = SelectColumns(m, []int{99})
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = SelectColumns(m, []int{-1})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSelectColumns_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		rows, cols := rng.Intn(8)+1, rng.Intn(40)+1
		m := randomCSR(rng, rows, cols, rng.Float64())

		random := make([]int, rng.Intn(2*cols)+1)
		for j := range random {
			random[j] = rng.Intn(cols)
		}
		sortedUnique := rng.Perm(cols)[:rng.Intn(cols)+1]
		sort.Ints(sortedUnique)
		sortedDup := append([]int(nil), random...)
		sort.Ints(sortedDup)

		for name, sel := range map[string][]int{"random": random, "sortedUnique": sortedUnique, "sortedDup": sortedDup} {
			t.Run(fmt.Sprintf("%d/%s", trial, name), func(t *testing.T) {
				got, err := SelectColumns(m, sel)
				require.NoError(t, err)
				want := selectColumnsNaive(m, sel)
				assert.Equal(t, want.IndPtr, got.IndPtr)
				assert.Equal(t, want.Indices, got.Indices)
				assert.Equal(t, want.Data, got.Data)
			})
		}
	}
}

func TestSelectColumns_OrderFollowsRequest(t *testing.T) {
	m, err := New(1, 4, []int{0, 2}, []int{1, 3}, []float64{10, 30})
	require.NoError(t, err)

	got, err := SelectColumns(m, []int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got.Indices)
	assert.Equal(t, []float64{30, 10}, got.Data)
	assert.True(t, got.Canonical())

	got, err = SelectColumns(m, []int{3, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got.Indices)
	assert.Equal(t, []float64{30, 10, 30}, got.Data)
}

func TestSelectRows(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		m := randomCSR(rng, rng.Intn(10)+1, rng.Intn(20)+1, 0.3)
		sel := make([]int, rng.Intn(15))
		for i := range sel {
			sel[i] = rng.Intn(m.Rows)
		}
		got, err := SelectRows(m, sel)
		require.NoError(t, err)
		require.Equal(t, len(sel), got.Rows)
		for i, r := range sel {
			assert.Equal(t, rowSet(m, r), rowSet(got, i))
		}
	}
}

func TestSelectRows_InversePermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := randomCSR(rng, 12, 30, 0.2)
	perm := rng.Perm(m.Rows)
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}

	permuted, err := SelectRows(m, perm)
	require.NoError(t, err)
	restored, err := SelectRows(permuted, inv)
	require.NoError(t, err)
	assert.Equal(t, m.IndPtr, restored.IndPtr)
	assert.Equal(t, m.Indices, restored.Indices)
	assert.Equal(t, m.Data, restored.Data)
}

func TestSelectRows_OutOfRange(t *testing.T) {
	m, err := New(2, 2, []int{0, 0, 0}, []int{}, []float64{})
	require.NoError(t, err)
	_, err = SelectRows(m, []int{2})
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = SelectRows(m, []int{-1})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFromTriplets(t *testing.T) {
	m, err := FromTriplets(2, 5, []int{1, 0, 1}, []int{4, 2, 0}, []float64{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, m.IndPtr)
	assert.Equal(t, []int{2, 0, 4}, m.Indices)
	assert.Equal(t, []float64{1, 2, 3}, m.Data)
	assert.True(t, m.Canonical())
	assert.Equal(t, []int{0, 2, 4}, m.NonEmptyColumns())

	_, err = FromTriplets(2, 5, []int{2}, []int{0}, []float64{1})
	assert.ErrorIs(t, err, ErrOutOfRange)
}
