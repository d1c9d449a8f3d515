// Package frontier implements the crawl-scoped URL frontier: a FIFO of pending
// fetch tasks, the set of every URL ever enqueued, and the outstanding-task count
// that signals when a crawl has drained.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/metrics"
)

var (
	// ErrClosed is returned by Next once the frontier has been closed.
	ErrClosed = errors.New("frontier closed")
	// ErrNoPending is returned by MarkDone when no task is outstanding.
	ErrNoPending = errors.New("frontier has no pending tasks")
)

// Stats is a point-in-time snapshot of frontier bookkeeping.
type Stats struct {
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Seen       int `json:"seen"`
	Enqueued   int `json:"enqueued"`
	Duplicates int `json:"duplicates"`
	Completed  int `json:"completed"`
}

// Frontier is safe for concurrent use. The seen-set check, the pending
// increment and the queue push happen in one critical section, so a URL is
// queued at most once per crawl.
type Frontier struct {
	mu            sync.Mutex
	seen          SeenSet
	queue         []crawler.FetchTask
	wake          chan struct{}
	drained       chan struct{}
	pending       int
	enqueued      int
	duplicates    int
	completed     int
	closed        bool
	defaultBudget int
}

// New builds a Frontier. A nil seen-set defaults to an in-memory set.
func New(seen SeenSet, defaultBudget int) *Frontier {
	if seen == nil {
		seen = NewMemorySeenSet()
	}
	return &Frontier{
		seen:          seen,
		wake:          make(chan struct{}),
		defaultBudget: defaultBudget,
	}
}

// AddSeed enqueues url with the default redirect budget.
func (f *Frontier) AddSeed(ctx context.Context, url string) (bool, error) {
	return f.AddURL(ctx, url, f.defaultBudget)
}

// AddURL enqueues url unless it has been seen before. It reports whether a new
// task was created.
func (f *Frontier) AddURL(ctx context.Context, url string, redirectBudget int) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, errors.New("url is required")
	}
	key := dedupKey(url)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, nil
	}
	added, err := f.seen.Add(ctx, key)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	metrics.ObserveEnqueue(added)
	if !added {
		f.duplicates++
		return false, nil
	}

	f.pending++
	f.enqueued++
	f.queue = append(f.queue, crawler.FetchTask{URL: url, RedirectBudget: redirectBudget})
	metrics.SetPending(f.pending)
	f.broadcastLocked()
	return true, nil
}

// Next blocks until a task is available, ctx ends, or the frontier is closed.
func (f *Frontier) Next(ctx context.Context) (crawler.FetchTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.FetchTask{}, fmt.Errorf("next canceled: %w", err)
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return crawler.FetchTask{}, ErrClosed
		}
		if len(f.queue) > 0 {
			task := f.queue[0]
			f.queue[0] = crawler.FetchTask{}
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return task, nil
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.FetchTask{}, fmt.Errorf("next canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// MarkDone records the completion of one dequeued task.
func (f *Frontier) MarkDone() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending == 0 {
		return ErrNoPending
	}
	f.pending--
	f.completed++
	metrics.SetPending(f.pending)
	if f.pending == 0 && f.drained != nil {
		close(f.drained)
		f.drained = nil
	}
	return nil
}

// Drain blocks until no task is pending or ctx ends.
func (f *Frontier) Drain(ctx context.Context) error {
	f.mu.Lock()
	if f.pending == 0 {
		f.mu.Unlock()
		return nil
	}
	if f.drained == nil {
		f.drained = make(chan struct{})
	}
	drained := f.drained
	f.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain canceled: %w", ctx.Err())
	}
}

// Close wakes every blocked Next caller and stops accepting URLs. Calling it
// more than once is safe.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.broadcastLocked()
}

// Stats returns a snapshot of the frontier counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:    f.pending,
		Queued:     len(f.queue),
		Seen:       f.enqueued,
		Enqueued:   f.enqueued,
		Duplicates: f.duplicates,
		Completed:  f.completed,
	}
}

func (f *Frontier) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

func dedupKey(url string) string {
	normalized, err := crawler.NormalizeURL(url)
	if err != nil {
		return url
	}
	return normalized
}
