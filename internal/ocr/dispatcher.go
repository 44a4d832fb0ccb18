package ocr

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrDispatcherClosed is returned when work is submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs submitted jobs on a fixed set of workers. With a single
// worker it serializes access to resources that are not safe for concurrent
// use, such as a Tesseract client.
type Dispatcher struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher with the specified number of workers
func NewDispatcher(workers int) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Dispatcher{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start initializes and starts all workers
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobQueue {
		job()
	}
}

// Submit queues a job, giving up when ctx is done before a slot frees up.
func (d *Dispatcher) Submit(ctx context.Context, job func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobQueue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

type callResult[T any] struct {
	value T
	err   error
}

// Call runs job on the dispatcher and waits for its result or for ctx.
// A job that is still queued when ctx expires is skipped; one that already
// started runs to completion and its result is discarded.
func Call[T any](ctx context.Context, d *Dispatcher, job func() (T, error)) (T, error) {
	var zero T
	results := make(chan callResult[T], 1)

	err := d.Submit(ctx, func() {
		if err := ctx.Err(); err != nil {
			results <- callResult[T]{err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				results <- callResult[T]{err: fmt.Errorf("ocr job panicked: %v", r)}
			}
		}()
		v, err := job()
		results <- callResult[T]{value: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-results:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
