// Package api provides the HTTP handlers of the ingest server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atlasmap-sc/ingest/internal/cache"
	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/service"
	"github.com/atlasmap-sc/ingest/internal/singlecell"
	"github.com/atlasmap-sc/ingest/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	RunManager  *RunManager
	Strips      *service.StripService
	// Cache holds query results; optional.
	Cache   *cache.Manager
	Metrics *metrics.Metrics
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	h := &runHandlers{registry: cfg.Registry, runs: cfg.RunManager, strips: cfg.Strips, cache: cfg.Cache}
	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", h.status)
			r.Post("/cancel", h.cancel)
			r.Delete("/", h.delete)
			r.Get("/dimension", h.dimension)
			r.Get("/vectors", h.vectors)
			r.Get("/vectors/{element}", h.vector)
			r.Get("/vectors/{element}/strip.png", h.strip)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"datasets": registry.Datasets(),
		})
	}
}

type runHandlers struct {
	registry *DatasetRegistry
	runs     *RunManager
	strips   *service.StripService
	cache    *cache.Manager
}

// runSubmitRequest is the body of POST /api/runs.
type runSubmitRequest struct {
	store.RunParams
}

func (req *runSubmitRequest) validate(registry *DatasetRegistry) error {
	if req.DatasetID == "" {
		return errors.New("dataset_id is required")
	}
	if registry.Get(req.DatasetID) == nil {
		return errors.New("dataset not found: " + req.DatasetID)
	}
	if req.NewType != "" {
		t, err := singlecell.ParseType(string(req.NewType))
		if err != nil {
			return err
		}
		req.NewType = t
	}
	if req.NewScale != "" {
		s, err := singlecell.ParseScale(string(req.NewScale))
		if err != nil {
			return err
		}
		req.NewScale = s
	}
	if req.PreferredCellTypeAssignment != "" && req.MarkSingleCellTypeAssignmentAsPreferred {
		return errors.New("preferred_cell_type_assignment and mark_single_cell_type_assignment_as_preferred are mutually exclusive")
	}
	return nil
}

func (h *runHandlers) manager(w http.ResponseWriter) bool {
	if h.runs == nil {
		http.Error(w, "run manager not configured", http.StatusNotImplemented)
		return false
	}
	return true
}

// run resolves the run of the URL, writing a 404 when missing.
func (h *runHandlers) run(w http.ResponseWriter, r *http.Request) *store.Run {
	if !h.manager(w) {
		return nil
	}
	run := h.runs.Get(chi.URLParam(r, "run_id"))
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return nil
	}
	return run
}

func (h *runHandlers) submit(w http.ResponseWriter, r *http.Request) {
	if !h.manager(w) {
		return
	}
	var req runSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.validate(h.registry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := h.runs.Submit(req.RunParams)
	if errors.Is(err, ErrQueueFull) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, "failed to submit run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": run.ID,
		"status": run.Status,
	})
}

func (h *runHandlers) list(w http.ResponseWriter, r *http.Request) {
	if !h.manager(w) {
		return
	}
	runs, err := h.runs.List(r.URL.Query().Get("dataset"))
	if err != nil {
		http.Error(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *runHandlers) status(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *runHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	if run.Status.Finished() {
		http.Error(w, "run already "+string(run.Status), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    run.ID,
		"cancelled": h.runs.Cancel(run.ID),
	})
}

func (h *runHandlers) delete(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	if err := h.runs.Delete(run.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRunActive) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	if h.cache != nil {
		h.cache.PurgeRun(run.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// completed resolves a completed run, writing an error otherwise.
func (h *runHandlers) completed(w http.ResponseWriter, r *http.Request) *store.Run {
	run := h.run(w, r)
	if run == nil {
		return nil
	}
	if run.Status != store.RunStatusCompleted {
		http.Error(w, "run not completed (status: "+string(run.Status)+")", http.StatusConflict)
		return nil
	}
	return run
}

type sampleInfo struct {
	*singlecell.Sample
	Offset int `json:"offset"`
	Cells  int `json:"cells"`
}

type dimensionResponse struct {
	Cells              int                                      `json:"cells"`
	Samples            []sampleInfo                             `json:"samples"`
	CellIDs            []string                                 `json:"cell_ids,omitempty"`
	CellTypes          []*singlecell.CellTypeAssignment         `json:"cell_type_assignments"`
	Characteristics    []*singlecell.CellLevelCharacteristics   `json:"characteristics"`
	SequencingMetadata map[string]singlecell.SequencingMetadata `json:"sequencing_metadata"`
}

func (h *runHandlers) dimension(w http.ResponseWriter, r *http.Request) {
	run := h.completed(w, r)
	if run == nil {
		return
	}
	withCells := r.URL.Query().Get("cell_ids") == "true"
	key := cache.QueryKey(run.ID, "dimension:"+strconv.FormatBool(withCells))
	if h.cache != nil {
		if data, ok := h.cache.GetQuery(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
	}

	st := h.runs.Store()
	dim, err := st.GetDimension(run.ID)
	if err != nil {
		http.Error(w, "failed to load dimension: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if dim == nil {
		http.Error(w, "dimension not found", http.StatusNotFound)
		return
	}
	resp := dimensionResponse{Cells: dim.NumCells(), Samples: make([]sampleInfo, len(dim.Samples))}
	for i, s := range dim.Samples {
		resp.Samples[i] = sampleInfo{Sample: s, Offset: dim.Offsets[i], Cells: dim.NumCellsBySample(i)}
	}
	if withCells {
		resp.CellIDs = dim.CellIDs
	}
	if resp.CellTypes, err = st.GetCellTypeAssignments(run.ID); err != nil {
		http.Error(w, "failed to load cell types: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.Characteristics, err = st.GetCharacteristics(run.ID); err != nil {
		http.Error(w, "failed to load characteristics: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if resp.SequencingMetadata, err = st.GetSequencingMetadata(run.ID); err != nil {
		http.Error(w, "failed to load sequencing metadata: "+err.Error(), http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.SetQuery(key, data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *runHandlers) vectors(w http.ResponseWriter, r *http.Request) {
	run := h.completed(w, r)
	if run == nil {
		return
	}
	offset, limit := 0, 100
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
		if limit > 1000 {
			limit = 1000
		}
	}
	items, total, err := h.runs.Store().ListVectors(run.ID, offset, limit)
	if err != nil {
		http.Error(w, "failed to list vectors: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*store.VectorSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quantitation_type": run.QuantitationType,
		"total":             total,
		"offset":            offset,
		"limit":             limit,
		"items":             items,
	})
}

func (h *runHandlers) vector(w http.ResponseWriter, r *http.Request) {
	run := h.completed(w, r)
	if run == nil {
		return
	}
	element := chi.URLParam(r, "element")
	v, err := h.runs.Store().GetVector(run.ID, element)
	if err != nil {
		http.Error(w, "failed to load vector: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if v == nil {
		http.Error(w, "vector not found: "+element, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *runHandlers) strip(w http.ResponseWriter, r *http.Request) {
	if h.strips == nil {
		http.Error(w, "strip rendering not configured", http.StatusNotImplemented)
		return
	}
	runID := chi.URLParam(r, "run_id")
	element := chi.URLParam(r, "element")
	colormap := strings.TrimSpace(r.URL.Query().Get("colormap"))

	data, err := h.strips.GetStrip(runID, element, colormap)
	switch {
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, service.ErrRunNotCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "failed to render strip: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
