package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasmap-sc/ingest/internal/metrics"
	"github.com/atlasmap-sc/ingest/internal/store"
)

// ErrRunActive is returned when deleting a run that is still executing.
var ErrRunActive = errors.New("run is executing; cancel it first")

// ErrQueueFull is returned when the run queue cannot take another run.
var ErrQueueFull = errors.New("run queue is full; try again later")

// RunManagerConfig contains configuration for the run manager.
type RunManagerConfig struct {
	MaxConcurrent int // Max concurrent runs (default 1)
	RetentionDays int // Days to keep finished runs (default 7)
	CleanupPeriod time.Duration
	QueueSize     int
}

// Executor performs a queued run.
type Executor func(ctx context.Context, st *store.Store, runID string) error

// RunManager queues ingest runs and executes them on a fixed number of
// workers. Runs are persisted in the store so queued runs survive a restart.
type RunManager struct {
	cfg      RunManagerConfig
	store    *store.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
	queue    chan string // run IDs
	running  map[string]context.CancelFunc
	stopped  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	// Executor is called to perform the ingest.
	Executor Executor
}

// NewRunManager creates a run manager over st. The caller keeps ownership
// of st.
func NewRunManager(cfg RunManagerConfig, st *store.Store, m *metrics.Metrics) *RunManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &RunManager{
		cfg:     cfg,
		store:   st,
		metrics: m,
		log:     slog.Default().With("component", "jobs"),
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}
}

// Store returns the underlying store for direct access.
func (rm *RunManager) Store() *store.Store {
	return rm.store
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from previous shutdown.
func (rm *RunManager) Start() {
	// Runs interrupted by a restart cannot resume.
	if err := rm.store.MarkRunningAsFailed("server restarted"); err != nil {
		rm.log.Warn("failed to mark running runs as failed", "error", err)
	}

	queued, err := rm.store.ListQueuedRuns()
	if err != nil {
		rm.log.Warn("failed to list queued runs", "error", err)
	} else {
		for _, run := range queued {
			select {
			case rm.queue <- run.ID:
				rm.log.Info("re-queued run", "run", run.ID)
			default:
				rm.log.Warn("queue full, cannot re-queue run", "run", run.ID)
			}
		}
	}

	for i := 0; i < rm.cfg.MaxConcurrent; i++ {
		rm.wg.Add(1)
		go rm.worker()
	}

	go rm.cleaner()
}

// Stop cancels executing runs and waits for the workers to exit.
func (rm *RunManager) Stop() {
	rm.stopOnce.Do(func() {
		rm.mu.Lock()
		rm.stopped = true
		for _, cancel := range rm.running {
			cancel()
		}
		close(rm.stopCh)
		close(rm.queue)
		rm.mu.Unlock()
		rm.wg.Wait()
	})
}

func (rm *RunManager) worker() {
	defer rm.wg.Done()
	for runID := range rm.queue {
		rm.execute(runID)
	}
}

func (rm *RunManager) execute(runID string) {
	run, err := rm.store.GetRun(runID)
	if err != nil || run == nil || run.Status != store.RunStatusQueued {
		// Cancelled or deleted while queued.
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rm.mu.Lock()
	if rm.stopped {
		rm.mu.Unlock()
		return
	}
	rm.running[runID] = cancel
	rm.mu.Unlock()

	release := func() {
		rm.mu.Lock()
		delete(rm.running, runID)
		rm.mu.Unlock()
	}

	if err := rm.store.UpdateRunStarted(runID); err != nil {
		release()
		if !errors.Is(err, store.ErrNotQueued) {
			rm.log.Error("failed to mark run as started", "run", runID, "error", err)
		}
		return
	}
	done := rm.metrics.RunStarted()
	defer done()

	log := rm.log.With("run", runID, "dataset", run.DatasetID)
	log.Info("run started")

	var execErr error
	if rm.Executor != nil {
		execErr = rm.Executor(ctx, rm.store, runID)
	}

	status, msg := store.RunStatusCompleted, ""
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status, msg = store.RunStatusCancelled, "cancelled by user"
	case execErr != nil:
		status, msg = store.RunStatusFailed, execErr.Error()
	}
	// The run is released before its final status is visible.
	release()
	rm.metrics.ObserveRun(string(status))
	if err := rm.store.UpdateRunStatus(runID, status, msg); err != nil {
		log.Error("failed to update run status", "status", status, "error", err)
	}
	if status == store.RunStatusFailed {
		log.Error("run failed", "error", execErr)
	} else {
		log.Info("run finished", "status", status)
	}
}

func (rm *RunManager) cleaner() {
	ticker := time.NewTicker(rm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopCh:
			return
		case <-ticker.C:
			rm.cleanup()
		}
	}
}

func (rm *RunManager) cleanup() {
	deleted, err := rm.store.DeleteExpiredRuns(rm.cfg.RetentionDays)
	if err != nil {
		rm.log.Warn("cleanup error", "error", err)
	} else if deleted > 0 {
		rm.log.Info("cleaned up expired runs", "count", deleted)
	}
}

// Submit creates a new run and enqueues it for execution. A run that
// cannot be queued is recorded as failed and ErrQueueFull is returned.
func (rm *RunManager) Submit(params store.RunParams) (*store.Run, error) {
	run := &store.Run{
		ID:        uuid.NewString(),
		DatasetID: params.DatasetID,
		Status:    store.RunStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}

	if err := rm.store.CreateRun(run); err != nil {
		return nil, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	queued := false
	if !rm.stopped {
		select {
		case rm.queue <- run.ID:
			queued = true
		default:
		}
	}
	if !queued {
		if err := rm.store.UpdateRunStatus(run.ID, store.RunStatusFailed, ErrQueueFull.Error()); err != nil {
			rm.log.Warn("failed to mark run as failed", "run", run.ID, "error", err)
		}
		run.Status = store.RunStatusFailed
		run.Error = ErrQueueFull.Error()
		return run, ErrQueueFull
	}
	return run, nil
}

// Get returns a run by ID, or nil.
func (rm *RunManager) Get(id string) *store.Run {
	run, err := rm.store.GetRun(id)
	if err != nil {
		rm.log.Warn("error getting run", "run", id, "error", err)
		return nil
	}
	return run
}

// List returns the runs of a dataset, or every run when datasetID is empty.
func (rm *RunManager) List(datasetID string) ([]*store.Run, error) {
	return rm.store.ListRuns(datasetID)
}

// Cancel attempts to cancel a queued or executing run.
func (rm *RunManager) Cancel(id string) bool {
	rm.mu.Lock()
	cancel, ok := rm.running[id]
	rm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	// If not running, try to mark as cancelled in DB
	run, err := rm.store.GetRun(id)
	if err != nil || run == nil {
		return false
	}
	if run.Status == store.RunStatusQueued {
		if err := rm.store.UpdateRunStatus(id, store.RunStatusCancelled, "cancelled before start"); err != nil {
			rm.log.Warn("failed to cancel queued run", "run", id, "error", err)
			return false
		}
		rm.metrics.ObserveRun(string(store.RunStatusCancelled))
		return true
	}
	return false
}

// Delete deletes a run and its data.
func (rm *RunManager) Delete(id string) error {
	rm.mu.Lock()
	_, active := rm.running[id]
	rm.mu.Unlock()
	if active {
		return ErrRunActive
	}
	return rm.store.DeleteRun(id)
}
