package anndata

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// spliceNaive densifies the file row and reads each requested cell back.
func spliceNaive(idx []int, data []float64, fileCells int, ranges []singlecell.Range, offsets []int) ([]int, []float64) {
	dense := make([]float64, fileCells)
	present := make([]bool, fileCells)
	for k, i := range idx {
		dense[i], present[i] = data[k], true
	}
	var outIdx []int
	var outData []float64
	for s, r := range ranges {
		for j := 0; j < r.Len; j++ {
			if present[r.Start+j] {
				outIdx = append(outIdx, offsets[s]+j)
				outData = append(outData, dense[r.Start+j])
			}
		}
	}
	return outIdx, outData
}

func TestSpliceSamples_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		// Partition the file cells into samples of random sizes.
		numSamples := 1 + rng.Intn(6)
		var fileRanges []singlecell.Range
		fileCells := 0
		for s := 0; s < numSamples; s++ {
			n := rng.Intn(8)
			fileRanges = append(fileRanges, singlecell.Range{Start: fileCells, Len: n})
			fileCells += n
		}
		var idx []int
		var data []float64
		for i := 0; i < fileCells; i++ {
			if rng.Float64() < 0.4 {
				idx = append(idx, i)
				data = append(data, float64(rng.Intn(100)+1))
			}
		}

		// Request a random subset of samples in random order.
		perm := rng.Perm(numSamples)[:1+rng.Intn(numSamples)]
		ranges := make([]singlecell.Range, len(perm))
		offsets := make([]int, len(perm))
		total := 0
		for i, s := range perm {
			ranges[i] = fileRanges[s]
			offsets[i] = total
			total += fileRanges[s].Len
		}

		gotIdx, gotData := spliceSamples(idx, data, ranges, offsets)
		wantIdx, wantData := spliceNaive(idx, data, fileCells, ranges, offsets)
		require.Equal(t, wantIdx, gotIdx, "iteration %d", iter)
		require.Equal(t, wantData, gotData, "iteration %d", iter)
		for k := 1; k < len(gotIdx); k++ {
			require.Less(t, gotIdx[k-1], gotIdx[k])
		}
		for _, i := range gotIdx {
			require.True(t, i >= 0 && i < total)
		}
	}
}

func TestIsIdentity(t *testing.T) {
	ranges := []singlecell.Range{{Start: 0, Len: 2}, {Start: 2, Len: 3}}
	assert.True(t, isIdentity(ranges, []int{0, 2}, 5, 5))
	assert.False(t, isIdentity(ranges, []int{0, 2}, 6, 5))
	assert.False(t, isIdentity([]singlecell.Range{{Start: 2, Len: 3}, {Start: 0, Len: 2}}, []int{0, 3}, 5, 5))
}
