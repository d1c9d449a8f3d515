// Package dispatcher manages the fixed-size pool of crawl workers.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is a unit of work that blocks until its context finishes.
type Runner interface {
	Run(ctx context.Context)
}

// Pool fans the frontier out to a fixed set of workers.
type Pool struct {
	workers []Runner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Pool over the given workers.
func New(workers []Runner) *Pool {
	return &Pool{workers: workers}
}

// Size reports the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start launches every worker. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(r Runner) {
			defer p.wg.Done()
			r.Run(runCtx)
		}(w)
	}
}

// Stop cancels all workers and waits for them to return. It is safe to call
// on a pool that was never started or has already stopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}
