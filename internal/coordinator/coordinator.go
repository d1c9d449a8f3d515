// Package coordinator drives one crawl from seeding to drain and shutdown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/frontier"
)

// ErrAlreadyRan is returned when Run is called more than once.
var ErrAlreadyRan = errors.New("coordinator already ran")

// State is the coordinator lifecycle stage.
type State string

// Lifecycle stages, in order.
const (
	StateIdle     State = "idle"
	StateSeeding  State = "seeding"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateComplete State = "complete"
)

// Frontier is the subset of frontier behavior the coordinator drives.
type Frontier interface {
	AddSeed(ctx context.Context, url string) (bool, error)
	Drain(ctx context.Context) error
	Close()
	Stats() frontier.Stats
}

// Pool starts and stops the workers.
type Pool interface {
	Start(ctx context.Context)
	Stop()
	Size() int
}

// Config carries the per-run inputs. Recorder is optional.
type Config struct {
	RunID    string
	Seeds    []string
	Recorder crawler.RunRecorder
}

const recordTimeout = 5 * time.Second

// Status is a point-in-time view of the crawl.
type Status struct {
	RunID          string         `json:"run_id"`
	State          State          `json:"state"`
	Workers        int            `json:"workers"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Interrupted    bool           `json:"interrupted"`
	Frontier       frontier.Stats `json:"frontier"`
}

// Coordinator owns the frontier, the pool and the shared client for one crawl.
type Coordinator struct {
	frontier Frontier
	pool     Pool
	clock    crawler.Clock
	client   io.Closer
	cfg      Config
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	finishedAt  time.Time
	interrupted bool
}

// New constructs a Coordinator. client, when non-nil, is closed once the crawl ends.
func New(
	f Frontier,
	pool Pool,
	clock crawler.Clock,
	client io.Closer,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		frontier: f,
		pool:     pool,
		clock:    clock,
		client:   client,
		cfg:      cfg,
		logger:   logger.With(zap.String("run_id", cfg.RunID)),
		state:    StateIdle,
	}
}

// Run seeds the frontier, runs the pool until the frontier drains and returns
// the elapsed crawl time. If ctx ends first the workers are stopped and the
// context error is returned alongside the time spent so far.
func (c *Coordinator) Run(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return 0, ErrAlreadyRan
	}
	c.state = StateSeeding
	c.mu.Unlock()

	defer c.closeClient()

	accepted := 0
	for _, seed := range c.cfg.Seeds {
		ok, err := c.frontier.AddSeed(ctx, seed)
		if err != nil {
			c.logger.Error("seed rejected", zap.String("url", seed), zap.Error(err))
			continue
		}
		if ok {
			accepted++
		}
	}

	start := c.clock.Now()
	c.mu.Lock()
	c.startedAt = start
	c.state = StateRunning
	c.mu.Unlock()
	c.record(ctx, crawler.RunSummary{
		RunID:     c.cfg.RunID,
		Status:    crawler.RunRunning,
		StartedAt: start,
		Seeds:     accepted,
	})
	c.logger.Info("crawl started",
		zap.Int("seeds", accepted),
		zap.Int("workers", c.pool.Size()),
	)

	c.pool.Start(ctx)
	c.setState(StateDraining)
	drainErr := c.frontier.Drain(ctx)

	end := c.clock.Now()
	c.pool.Stop()
	c.frontier.Close()

	c.mu.Lock()
	c.finishedAt = end
	c.state = StateComplete
	c.interrupted = drainErr != nil
	c.mu.Unlock()

	elapsed := end.Sub(start)
	stats := c.frontier.Stats()
	summary := crawler.RunSummary{
		RunID:      c.cfg.RunID,
		Status:     crawler.RunSucceeded,
		StartedAt:  start,
		FinishedAt: &end,
		Seeds:      accepted,
		Enqueued:   stats.Enqueued,
		Completed:  stats.Completed,
		Duplicates: stats.Duplicates,
	}
	if drainErr != nil {
		summary.Status = crawler.RunInterrupted
	}
	c.record(ctx, summary)
	if drainErr != nil {
		c.logger.Warn("crawl interrupted",
			zap.Duration("elapsed", elapsed),
			zap.Int("pending", stats.Pending),
			zap.Error(drainErr),
		)
		return elapsed, fmt.Errorf("crawl interrupted: %w", drainErr)
	}
	c.logger.Info("crawl finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("completed", stats.Completed),
		zap.Int("duplicates", stats.Duplicates),
	)
	return elapsed, nil
}

// Status returns a snapshot of the coordinator and frontier state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		RunID:       c.cfg.RunID,
		State:       c.state,
		Workers:     c.pool.Size(),
		Interrupted: c.interrupted,
		Frontier:    c.frontier.Stats(),
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		status.StartedAt = &started
		end := c.clock.Now()
		if !c.finishedAt.IsZero() {
			finished := c.finishedAt
			status.FinishedAt = &finished
			end = finished
		}
		status.ElapsedSeconds = end.Sub(started).Seconds()
	}
	return status
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// record persists the run summary. It detaches from ctx so an interrupted
// crawl is still recorded.
func (c *Coordinator) record(ctx context.Context, run crawler.RunSummary) {
	if c.cfg.Recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.cfg.Recorder.RecordRun(recordCtx, run); err != nil {
		c.logger.Warn("record run failed", zap.String("status", run.Status), zap.Error(err))
	}
}

func (c *Coordinator) closeClient() {
	if c.client == nil {
		return
	}
	if err := c.client.Close(); err != nil {
		c.logger.Warn("client teardown failed", zap.Error(err))
	}
}
