package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/frontier"
	"github.com/JakeFAU/zhihu-live-crawler/internal/metrics"
)

// TaskSource hands out the next task to fetch.
type TaskSource interface {
	Next(ctx context.Context) (crawler.FetchTask, error)
}

// Config controls Worker behavior.
type Config struct {
	// PostFetchDelay is awaited after every task before asking for the next one.
	PostFetchDelay time.Duration
}

// Worker pulls tasks from the frontier and hands them to the Executor.
type Worker struct {
	tasks    TaskSource
	executor *Executor
	cfg      Config
	pauser   pauser
	logger   *zap.Logger
}

// New constructs a Worker.
func New(tasks TaskSource, executor *Executor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		tasks:    tasks,
		executor: executor,
		cfg:      cfg,
		pauser:   timerPauser{},
		logger:   logger,
	}
}

// Run blocks, executing tasks until the context finishes or the source closes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		task, err := w.tasks.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, frontier.ErrClosed) {
				w.logger.Error("next task failed", zap.Error(err))
			}
			return
		}
		w.logger.Debug("task dequeued", zap.String("url", task.URL))
		w.executor.Execute(ctx, task)

		w.pauser.Pause(ctx, w.cfg.PostFetchDelay)
		if ctx.Err() != nil {
			return
		}
	}
}

type pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
