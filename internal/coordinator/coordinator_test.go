package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/clock"
	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/zhihu-live-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/zhihu-live-crawler/internal/frontier"
	"github.com/JakeFAU/zhihu-live-crawler/internal/worker"
)

const base = "https://api.zhihu.com/lives"

type stubFetcher struct {
	mu       sync.Mutex
	failing  map[string]bool
	attempts map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{failing: make(map[string]bool), attempts: make(map[string]int)}
}

func (f *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[req.URL]++
	if f.failing[req.URL] {
		return crawler.Page{}, errors.New("dial tcp: connection refused")
	}
	return crawler.Page{URL: req.URL, StatusCode: http.StatusOK}, nil
}

func (f *stubFetcher) attemptsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

type stubIngester struct {
	mu    sync.Mutex
	next  map[string]string
	calls []string
}

func (i *stubIngester) Ingest(_ context.Context, page crawler.Page) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, page.URL)
	return i.next[page.URL], nil
}

func (i *stubIngester) ingested() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

type closeRecorder struct {
	closed atomic.Int32
}

func (c *closeRecorder) Close() error {
	c.closed.Add(1)
	return nil
}

func build(
	t *testing.T,
	fetcher crawler.Fetcher,
	ingester crawler.Ingester,
	seeds []string,
	workers int,
	client *closeRecorder,
) (*Coordinator, *frontier.Frontier) {
	t.Helper()
	f := frontier.New(frontier.NewMemorySeenSet(), 10)
	exec := worker.NewExecutor(fetcher, ingester, f, crawler.NewImmediateRetryPolicy(4), nil, zap.NewNop())
	runners := make([]dispatcher.Runner, workers)
	for i := range runners {
		runners[i] = worker.New(f, exec, worker.Config{}, zap.NewNop())
	}
	var closer io.Closer
	if client != nil {
		closer = client
	}
	c := New(f, dispatcher.New(runners), clock.System{}, closer, Config{RunID: "run-1", Seeds: seeds}, zap.NewNop())
	return c, f
}

func runWithTimeout(t *testing.T, c *Coordinator) (time.Duration, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Run(ctx)
}

func TestRunAllSeedsEndImmediately(t *testing.T) {
	t.Parallel()

	seeds := crawler.SeedURLs(base, []string{"ongoing", "ended"}, 2, 10)
	require.Len(t, seeds, 4)

	ingester := &stubIngester{}
	client := &closeRecorder{}
	c, f := build(t, newStubFetcher(), ingester, seeds, 2, client)

	elapsed, err := runWithTimeout(t, c)
	require.NoError(t, err)
	require.GreaterOrEqual(t, elapsed, time.Duration(0))
	require.ElementsMatch(t, seeds, ingester.ingested())

	stats := f.Stats()
	require.Equal(t, 4, stats.Enqueued)
	require.Equal(t, 4, stats.Completed)
	require.Zero(t, stats.Pending)
	require.Equal(t, int32(1), client.closed.Load())

	status := c.Status()
	require.Equal(t, StateComplete, status.State)
	require.NotNil(t, status.FinishedAt)
	require.False(t, status.Interrupted)
}

func TestRunExhaustedTransportRetries(t *testing.T) {
	t.Parallel()

	seeds := crawler.SeedURLs(base, []string{"ongoing", "ended"}, 2, 10)
	fetcher := newStubFetcher()
	fetcher.failing[seeds[0]] = true
	ingester := &stubIngester{}
	c, f := build(t, fetcher, ingester, seeds, 2, nil)

	_, err := runWithTimeout(t, c)
	require.NoError(t, err)

	require.Equal(t, 4, fetcher.attemptsFor(seeds[0]))
	require.NotContains(t, ingester.ingested(), seeds[0])
	require.Len(t, ingester.ingested(), 3)

	stats := f.Stats()
	require.Zero(t, stats.Pending)
	require.Equal(t, 4, stats.Enqueued)
}

func TestRunFollowsNextPage(t *testing.T) {
	t.Parallel()

	pageA := base + "/ongoing?purchasable=0&limit=10&offset=0"
	pageB := base + "/ongoing?purchasable=0&limit=10&offset=10"
	ingester := &stubIngester{next: map[string]string{pageA: pageB}}
	c, f := build(t, newStubFetcher(), ingester, []string{pageA}, 1, nil)

	_, err := runWithTimeout(t, c)
	require.NoError(t, err)
	require.Equal(t, []string{pageA, pageB}, ingester.ingested())

	stats := f.Stats()
	require.Equal(t, 2, stats.Enqueued)
	require.Equal(t, 2, stats.Completed)
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	c, _ := build(t, newStubFetcher(), &stubIngester{}, nil, 1, nil)
	_, err := runWithTimeout(t, c)
	require.NoError(t, err)

	_, err = runWithTimeout(t, c)
	require.ErrorIs(t, err, ErrAlreadyRan)
}

type blockingFetcher struct {
	started chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ crawler.FetchRequest) (crawler.Page, error) {
	f.once.Do(func() { close(f.started) })
	<-ctx.Done()
	return crawler.Page{}, ctx.Err()
}

func TestRunInterruptedByParentContext(t *testing.T) {
	t.Parallel()

	fetcher := &blockingFetcher{started: make(chan struct{})}
	client := &closeRecorder{}
	c, _ := build(t, fetcher, &stubIngester{}, []string{base + "/ongoing"}, 1, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()

	_, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), client.closed.Load())

	status := c.Status()
	require.Equal(t, StateComplete, status.State)
	require.True(t, status.Interrupted)
}

func TestStatusBeforeRun(t *testing.T) {
	t.Parallel()

	c, _ := build(t, newStubFetcher(), &stubIngester{}, nil, 3, nil)
	status := c.Status()
	require.Equal(t, StateIdle, status.State)
	require.Equal(t, "run-1", status.RunID)
	require.Equal(t, 3, status.Workers)
	require.Nil(t, status.StartedAt)
}

type pagingIngester struct {
	mu    sync.Mutex
	calls int
}

func (i *pagingIngester) Ingest(_ context.Context, page crawler.Page) (string, error) {
	var payload struct {
		Paging struct {
			IsEnd bool   `json:"is_end"`
			Next  string `json:"next"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(page.Body, &payload); err != nil {
		return "", fmt.Errorf("decode page: %w", err)
	}
	i.mu.Lock()
	i.calls++
	i.mu.Unlock()
	if payload.Paging.IsEnd {
		return "", nil
	}
	return payload.Paging.Next, nil
}

func TestRunOverHTTP(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprintf(w, `{"data":[],"paging":{"is_end":false,"next":"%s/lives/ongoing?offset=10"}}`, srv.URL)
		case "10":
			fmt.Fprint(w, `{"data":[],"paging":{"is_end":true,"next":""}}`)
		default:
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}
	}))
	defer srv.Close()

	ingester := &pagingIngester{}
	fetcher := collyfetcher.New(collyfetcher.Config{Client: crawler.ClientConfig{Timeout: time.Second}})
	seeds := []string{srv.URL + "/lives/ongoing?offset=0", srv.URL + "/lives/ended?offset=5"}
	c, f := build(t, fetcher, ingester, seeds, 2, nil)

	_, err := runWithTimeout(t, c)
	require.NoError(t, err)
	require.Equal(t, 2, ingester.calls)
	require.Equal(t, 3, f.Stats().Completed)
}

type runLog struct {
	mu   sync.Mutex
	runs []crawler.RunSummary
}

func (r *runLog) RecordRun(_ context.Context, run crawler.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func TestRunRecordsSummary(t *testing.T) {
	t.Parallel()

	seeds := crawler.SeedURLs(base, []string{"ongoing"}, 3, 10)
	f := frontier.New(frontier.NewMemorySeenSet(), 10)
	exec := worker.NewExecutor(newStubFetcher(), &stubIngester{}, f, nil, nil, zap.NewNop())
	pool := dispatcher.New([]dispatcher.Runner{worker.New(f, exec, worker.Config{}, zap.NewNop())})
	recorder := &runLog{}
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	c := New(f, pool, clk, nil, Config{RunID: "run-9", Seeds: append(seeds, seeds[0]), Recorder: recorder}, zap.NewNop())
	elapsed, err := runWithTimeout(t, c)
	require.NoError(t, err)
	require.Zero(t, elapsed)

	require.Len(t, recorder.runs, 2)
	require.Equal(t, crawler.RunRunning, recorder.runs[0].Status)
	require.Equal(t, 3, recorder.runs[0].Seeds)
	final := recorder.runs[1]
	require.Equal(t, crawler.RunSucceeded, final.Status)
	require.Equal(t, "run-9", final.RunID)
	require.NotNil(t, final.FinishedAt)
	require.Equal(t, 3, final.Completed)
	require.Equal(t, 1, final.Duplicates)
}
