// Package colormap maps expression levels and category codes to colors.
package colormap

import (
	"image/color"
	"sort"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// Linear interpolates between evenly spaced stops.
type Linear struct {
	stops []color.RGBA
}

// NewLinear returns a colormap through stops. At least two stops are needed.
func NewLinear(stops ...color.RGBA) Linear {
	if len(stops) == 1 {
		stops = append(stops, stops[0])
	}
	return Linear{stops: stops}
}

// At returns the color at position t, clamped to [0, 1].
func (c Linear) At(t float64) color.Color {
	last := len(c.stops) - 1
	if t <= 0 || t != t {
		return c.stops[0]
	}
	if t >= 1 {
		return c.stops[last]
	}
	pos := t * float64(last)
	lower := int(pos)
	return mix(c.stops[lower], c.stops[lower+1], pos-float64(lower))
}

// AtIndex returns stop i, wrapping around.
func (c Linear) AtIndex(i int) color.Color {
	return c.stops[i%len(c.stops)]
}

func mix(a, b color.RGBA, t float64) color.RGBA {
	ch := func(x, y uint8) uint8 { return uint8(float64(x) + t*(float64(y)-float64(x))) }
	return color.RGBA{R: ch(a.R, b.R), G: ch(a.G, b.G), B: ch(a.B, b.B), A: 255}
}

// Palette cycles through distinct colors for categories.
type Palette []color.RGBA

// At picks the color of the bucket containing t.
func (p Palette) At(t float64) color.Color {
	i := int(t * float64(len(p)))
	if i < 0 {
		i = 0
	}
	if i >= len(p) {
		i = len(p) - 1
	}
	return p[i]
}

// AtIndex returns color i, wrapping around. Negative codes are gray.
func (p Palette) AtIndex(i int) color.Color {
	if i < 0 {
		return Unassigned
	}
	return p[i%len(p)]
}

// Unassigned colors cells without a category.
var Unassigned = color.RGBA{R: 220, G: 220, B: 220, A: 255}

// Viridis colormap (matplotlib viridis).
var Viridis = NewLinear(
	color.RGBA{68, 1, 84, 255},
	color.RGBA{72, 35, 116, 255},
	color.RGBA{64, 67, 135, 255},
	color.RGBA{52, 94, 141, 255},
	color.RGBA{41, 120, 142, 255},
	color.RGBA{32, 144, 140, 255},
	color.RGBA{34, 167, 132, 255},
	color.RGBA{68, 190, 112, 255},
	color.RGBA{121, 209, 81, 255},
	color.RGBA{189, 222, 38, 255},
	color.RGBA{253, 231, 37, 255},
)

// Magma colormap.
var Magma = NewLinear(
	color.RGBA{0, 0, 4, 255},
	color.RGBA{28, 16, 68, 255},
	color.RGBA{79, 18, 123, 255},
	color.RGBA{129, 37, 129, 255},
	color.RGBA{181, 54, 122, 255},
	color.RGBA{229, 80, 100, 255},
	color.RGBA{251, 135, 97, 255},
	color.RGBA{254, 194, 135, 255},
	color.RGBA{252, 253, 191, 255},
)

// Seurat goes from light gray to red like Seurat's FeaturePlot.
var Seurat = NewLinear(
	color.RGBA{211, 211, 211, 255},
	color.RGBA{255, 0, 0, 255},
)

// Categorical holds 12 distinct colors for samples and cell types.
var Categorical = Palette{
	{31, 119, 180, 255},
	{255, 127, 14, 255},
	{44, 160, 44, 255},
	{214, 39, 40, 255},
	{148, 103, 189, 255},
	{140, 86, 75, 255},
	{227, 119, 194, 255},
	{127, 127, 127, 255},
	{188, 189, 34, 255},
	{23, 190, 207, 255},
	{174, 199, 232, 255},
	{255, 187, 120, 255},
}

var byName = map[string]Colormap{
	"viridis":     Viridis,
	"magma":       Magma,
	"seurat":      Seurat,
	"categorical": Categorical,
}

// Lookup returns the colormap called name.
func Lookup(name string) (Colormap, bool) {
	c, ok := byName[name]
	return c, ok
}

// Names lists the known colormaps.
func Names() []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
