package service

import (
	"errors"
	"fmt"

	"github.com/atlasmap-sc/ingest/internal/cache"
	"github.com/atlasmap-sc/ingest/internal/render"
	"github.com/atlasmap-sc/ingest/internal/store"
)

var (
	// ErrNotFound is returned when a run or one of its vectors does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunNotCompleted is returned when rendering a run that has not completed.
	ErrRunNotCompleted = errors.New("run has not completed")
)

// StripService renders stored vectors as PNG strips.
type StripService struct {
	store    *store.Store
	cache    *cache.Manager
	renderer *render.StripRenderer
}

// NewStripService creates a new strip service. The cache may be nil.
func NewStripService(st *store.Store, c *cache.Manager, r *render.StripRenderer) *StripService {
	return &StripService{store: st, cache: c, renderer: r}
}

// GetStrip returns the strip of element in a completed run, rendered with
// the named colormap.
func (s *StripService) GetStrip(runID, element, colormapName string) ([]byte, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if run.Status != store.RunStatusCompleted {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrRunNotCompleted)
	}

	name, _ := s.renderer.Colormap(colormapName)
	key := cache.StripKey(runID, element, name)
	if s.cache != nil {
		if data, ok := s.cache.GetStrip(key); ok {
			return data, nil
		}
	}

	v, err := s.store.GetVector(runID, element)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("vector %s of run %s: %w", element, runID, ErrNotFound)
	}
	dim, err := s.store.GetDimension(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cell dimension: %w", err)
	}
	if dim == nil {
		return nil, fmt.Errorf("cell dimension of run %s: %w", runID, ErrNotFound)
	}

	data, err := s.renderer.RenderVector(dim, v.Data, v.Indices, name)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", element, err)
	}
	if s.cache != nil {
		// Oversized strips are simply not cached.
		_ = s.cache.SetStrip(key, data)
	}
	return data, nil
}
