// Package worker implements per-task fetch execution and the worker loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/zhihu-live-crawler/internal/worker")

// TaskSink receives discovered URLs and task completions.
type TaskSink interface {
	AddURL(ctx context.Context, url string, redirectBudget int) (bool, error)
	MarkDone() error
}

// Limiter gates each fetch attempt.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Executor runs one FetchTask to completion: bounded retries on transport
// errors, ingestion of 200 responses and enqueueing of the next page.
type Executor struct {
	fetcher  crawler.Fetcher
	ingester crawler.Ingester
	sink     TaskSink
	retry    *crawler.RetryPolicy
	limiter  Limiter
	pauser   pauser
	logger   *zap.Logger
}

// NewExecutor constructs an Executor. A nil retry policy allows one attempt;
// a nil limiter disables rate limiting.
func NewExecutor(
	fetcher crawler.Fetcher,
	ingester crawler.Ingester,
	sink TaskSink,
	retry *crawler.RetryPolicy,
	limiter Limiter,
	logger *zap.Logger,
) *Executor {
	if retry == nil {
		retry = crawler.NewImmediateRetryPolicy(1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		fetcher:  fetcher,
		ingester: ingester,
		sink:     sink,
		retry:    retry,
		limiter:  limiter,
		pauser:   timerPauser{},
		logger:   logger,
	}
}

// Execute processes a single task. Failures are logged and recorded, never
// returned; MarkDone is called exactly once whatever the outcome.
func (e *Executor) Execute(ctx context.Context, task crawler.FetchTask) {
	ctx, span := tracer.Start(ctx, "crawl.task", trace.WithAttributes(attribute.String("url.full", task.URL)))
	defer span.End()
	defer func() {
		if err := e.sink.MarkDone(); err != nil {
			e.logger.Error("mark done failed", zap.String("url", task.URL), zap.Error(err))
		}
	}()

	page, attempts, err := e.fetchWithRetry(ctx, task)
	span.SetAttributes(attribute.Int("crawl.attempts", attempts))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			metrics.ObserveTask(metrics.OutcomeCanceled)
			e.logger.Debug("fetch canceled", zap.String("url", task.URL), zap.Int("attempts", attempts))
			return
		}
		metrics.ObserveTask(metrics.OutcomeExhausted)
		e.logger.Warn("fetch failed, giving up",
			zap.String("url", task.URL),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}

	span.SetAttributes(attribute.Int("http.response.status_code", page.StatusCode))
	if page.StatusCode != http.StatusOK {
		metrics.ObserveTask(metrics.OutcomeNon200)
		e.logger.Warn("unexpected status",
			zap.String("url", task.URL),
			zap.Int("status", page.StatusCode),
		)
		return
	}

	next, err := e.ingester.Ingest(ctx, page)
	if err != nil {
		span.RecordError(err)
		metrics.ObserveTask(metrics.OutcomeIngestFailed)
		e.logger.Error("ingest failed", zap.String("url", task.URL), zap.Error(err))
		return
	}
	metrics.ObserveTask(metrics.OutcomeIngested)
	e.logger.Debug("page ingested", zap.String("url", task.URL), zap.Duration("duration", page.Duration))

	if next == "" {
		return
	}
	accepted, err := e.sink.AddURL(ctx, next, task.RedirectBudget)
	if err != nil {
		e.logger.Error("enqueue next page failed", zap.String("url", next), zap.Error(err))
		return
	}
	if accepted {
		e.logger.Debug("next page enqueued", zap.String("url", next))
	}
}

func (e *Executor) fetchWithRetry(ctx context.Context, task crawler.FetchTask) (crawler.Page, int, error) {
	attempt := 0
	for {
		attempt++
		if err := ctx.Err(); err != nil {
			return crawler.Page{}, attempt - 1, fmt.Errorf("fetch canceled: %w", err)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, task.URL); err != nil {
				return crawler.Page{}, attempt - 1, err
			}
		}

		start := time.Now()
		page, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: task.URL, Attempt: attempt})
		metrics.ObserveFetchAttempt(task.URL, err, time.Since(start))
		if err == nil {
			return page, attempt, nil
		}

		e.logger.Debug("fetch attempt failed",
			zap.String("url", task.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !e.retry.ShouldRetry(err, attempt) {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return crawler.Page{}, attempt, err
			}
			return crawler.Page{}, attempt, fmt.Errorf("fetch %s: %d attempts exhausted: %w", task.URL, attempt, err)
		}
		e.pauser.Pause(ctx, e.retry.Backoff(attempt))
	}
}
