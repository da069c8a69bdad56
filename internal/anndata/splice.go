package anndata

import (
	"sort"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
)

// spliceSamples restricts a sorted slice of file cell indices to the file
// ranges of the requested samples and shifts each retained index to the
// sample's offset in the requested dimension. ranges[i] and offsets[i]
// describe the same sample. Output is sorted whenever offsets increase.
func spliceSamples(idx []int, data []float64, ranges []singlecell.Range, offsets []int) ([]int, []float64) {
	var outIdx []int
	var outData []float64
	for i, r := range ranges {
		lo := sort.SearchInts(idx, r.Start)
		hi := sort.SearchInts(idx, r.End())
		for k := lo; k < hi; k++ {
			outIdx = append(outIdx, idx[k]-r.Start+offsets[i])
			outData = append(outData, data[k])
		}
	}
	return outIdx, outData
}

// isIdentity reports whether the requested sample ranges cover the file
// cells exactly, in file order.
func isIdentity(ranges []singlecell.Range, offsets []int, fileCells, dimCells int) bool {
	if fileCells != dimCells {
		return false
	}
	for i, r := range ranges {
		if r.Start != offsets[i] {
			return false
		}
	}
	return true
}
