package colormap

import (
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeuratEndpoints(t *testing.T) {
	t.Parallel()

	assert.Equal(t, color.RGBA{R: 211, G: 211, B: 211, A: 255}, Seurat.At(0))
	assert.Equal(t, color.RGBA{R: 255, G: 0, B: 0, A: 255}, Seurat.At(1))
	assert.Equal(t, Seurat.At(0), Seurat.At(math.NaN()))
	assert.Equal(t, Seurat.At(1), Seurat.At(7))
}

func TestLinearMidpoint(t *testing.T) {
	t.Parallel()

	c := NewLinear(color.RGBA{0, 0, 0, 255}, color.RGBA{200, 100, 50, 255})
	assert.Equal(t, color.RGBA{100, 50, 25, 255}, c.At(0.5))
	assert.Equal(t, c.At(0), NewLinear(color.RGBA{0, 0, 0, 255}).At(0.9))
}

func TestPalette(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Categorical[1], Categorical.AtIndex(len(Categorical)+1))
	assert.Equal(t, Unassigned, Categorical.AtIndex(-1))
	assert.Equal(t, Categorical[len(Categorical)-1], Categorical.At(1))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	c, ok := Lookup("viridis")
	assert.True(t, ok)
	assert.Equal(t, Viridis.At(0.3), c.At(0.3))
	_, ok = Lookup("jet")
	assert.False(t, ok)
	assert.Equal(t, []string{"categorical", "magma", "seurat", "viridis"}, Names())
}
