package server

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed indicates a task was submitted to a closed worker pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs connection tasks.
type WorkerPool interface {
	Submit(task func()) error
}

// BoundedPool runs at most size tasks at once. Submit never blocks; tasks
// beyond the bound wait for a free slot on their own goroutine.
type BoundedPool struct {
	sem    *semaphore.Weighted // nil when unbounded.
	size   int
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewBoundedPool creates a pool of size slots. A size of zero or less is unbounded.
func NewBoundedPool(size int) *BoundedPool {
	p := &BoundedPool{size: size}
	if size > 0 {
		p.sem = semaphore.NewWeighted(int64(size))
	}

	return p
}

// Submit schedules task.
func (p *BoundedPool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			// Acquire with a background context cannot fail.
			_ = p.sem.Acquire(context.Background(), 1)
			defer p.sem.Release(1)
		}
		task()
	}()

	return nil
}

// Size returns the configured bound, zero when unbounded.
func (p *BoundedPool) Size() int {
	return p.size
}

// Close rejects further tasks and waits for submitted ones to finish.
func (p *BoundedPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
