// Package workpool provides a bounded pool of worker goroutines shared by
// independent units of work.
package workpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned when submitting to a stopped pool.
var ErrStopped = errors.New("worker pool is stopped")

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool runs submitted functions on a fixed number of workers.
type Pool struct {
	workers int
	queue   chan task
	wg      sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// New starts a pool of workers goroutines (at least one).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{workers: workers, queue: make(chan task, workers)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.workers }

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.queue {
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		t.done <- p.run(t)
	}
}

func (p *Pool) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "component", "workpool", "panic", r)
			err = errors.New("task panicked")
		}
	}()
	return t.fn(t.ctx)
}

// Submit queues fn and returns a channel receiving its result. It blocks
// while every worker is busy and the queue is full.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.queue <- t:
		return t.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run submits every function and waits for all of them. Errors are joined in
// submission order.
func (p *Pool) Run(ctx context.Context, fns ...func(context.Context) error) error {
	results := make([]<-chan error, 0, len(fns))
	var errs []error
	for _, fn := range fns {
		done, err := p.Submit(ctx, fn)
		if err != nil {
			errs = append(errs, err)
			break
		}
		results = append(results, done)
	}
	for _, done := range results {
		errs = append(errs, <-done)
	}
	return errors.Join(errs...)
}

// Stop waits for queued work to finish and stops the workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
