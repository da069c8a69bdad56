// Package render draws stored expression vectors as PNG strips using fogleman/gg.
//
// A strip lays the cells of a run's dimension out left to right. The top band
// is colored by sample; the body is colored by the cell's expression level,
// normalized against the vector's largest value.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Width           int
	Height          int
	BandHeight      int
	DefaultColormap string
}

// DefaultConfig returns the renderer defaults.
func DefaultConfig() Config {
	return Config{Width: 1024, Height: 64, BandHeight: 8, DefaultColormap: "seurat"}
}

// StripRenderer renders expression strips.
type StripRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewStripRenderer creates a new strip renderer.
func NewStripRenderer(cfg Config) *StripRenderer {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.BandHeight == 0 {
		cfg.BandHeight = def.BandHeight
	}
	// A negative band height disables the sample band.
	if cfg.BandHeight < 0 || cfg.BandHeight >= cfg.Height {
		cfg.BandHeight = 0
	}
	if _, ok := colormap.Lookup(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = def.DefaultColormap
	}
	return &StripRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 16*1024))
			},
		},
	}
}

// Config returns the effective configuration.
func (r *StripRenderer) Config() Config { return r.config }

// Colormap resolves name, falling back to the default colormap.
func (r *StripRenderer) Colormap(name string) (string, colormap.Colormap) {
	if c, ok := colormap.Lookup(name); ok {
		return name, c
	}
	c, _ := colormap.Lookup(r.config.DefaultColormap)
	return r.config.DefaultColormap, c
}

// Columns reduces a sparse vector over numCells cells to width columns,
// keeping the largest value falling in each column. Cells missing from
// indices count as zero.
func Columns(data []float64, indices []int, numCells, width int) []float64 {
	cols := make([]float64, width)
	if numCells == 0 {
		return cols
	}
	for i, pos := range indices {
		if pos < 0 || pos >= numCells || i >= len(data) {
			continue
		}
		c := pos * width / numCells
		if data[i] > cols[c] {
			cols[c] = data[i]
		}
	}
	return cols
}

// RenderVector renders the values of a vector over dim.
func (r *StripRenderer) RenderVector(dim *singlecell.CellDimension, data []float64, indices []int, colormapName string) ([]byte, error) {
	if dim == nil {
		return nil, fmt.Errorf("no cell dimension")
	}
	_, cmap := r.Colormap(colormapName)

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	n := dim.NumCells()
	if n == 0 {
		return r.encodeContext(dc)
	}

	width := float64(r.config.Width)
	band := float64(r.config.BandHeight)
	cellWidth := width / float64(n)

	// Sample band.
	for i := range dim.Samples {
		start := float64(dim.Offsets[i]) * cellWidth
		dc.SetColor(colormap.Categorical.AtIndex(i))
		dc.DrawRectangle(start, 0, float64(dim.NumCellsBySample(i))*cellWidth, band)
		dc.Fill()
	}

	// Expression body.
	cols := Columns(data, indices, n, r.config.Width)
	if n < r.config.Width {
		cols = Columns(data, indices, n, n)
	}
	max := 0.0
	for _, v := range cols {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		max = 1
	}
	colWidth := width / float64(len(cols))
	body := float64(r.config.Height) - band
	for i, v := range cols {
		dc.SetColor(cmap.At(v / max))
		dc.DrawRectangle(float64(i)*colWidth, band, colWidth, body)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *StripRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyStrip creates a transparent strip.
func (r *StripRenderer) CreateEmptyStrip() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
