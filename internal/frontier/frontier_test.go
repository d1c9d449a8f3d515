package frontier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

const pageA = "https://api.zhihu.com/lives/ongoing?purchasable=0&limit=10&offset=0"

func TestAddURLIsIdempotent(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx := context.Background()

	added, err := f.AddSeed(ctx, pageA)
	require.NoError(t, err)
	require.True(t, added)

	for i := 0; i < 3; i++ {
		added, err = f.AddURL(ctx, pageA, 3)
		require.NoError(t, err)
		require.False(t, added)
	}

	stats := f.Stats()
	require.Equal(t, 1, stats.Queued)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 3, stats.Duplicates)

	task, err := f.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.FetchTask{URL: pageA, RedirectBudget: 10}, task)
}

func TestAddURLDedupsNormalizedForms(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx := context.Background()

	added, err := f.AddSeed(ctx, "https://api.zhihu.com/lives/ended?limit=10&offset=10")
	require.NoError(t, err)
	require.True(t, added)

	added, err = f.AddSeed(ctx, "https://API.zhihu.com:443/lives/ended?offset=10&limit=10#x")
	require.NoError(t, err)
	require.False(t, added)
}

func TestAddURLRejectsEmpty(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	added, err := f.AddSeed(context.Background(), "  ")
	require.Error(t, err)
	require.False(t, added)
	require.Zero(t, f.Stats().Pending)
}

func TestNextIsFIFO(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx := context.Background()
	urls := []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"}
	for _, u := range urls {
		_, err := f.AddSeed(ctx, u)
		require.NoError(t, err)
	}
	for _, want := range urls {
		task, err := f.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, task.URL)
	}
}

func TestNextBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	got := make(chan crawler.FetchTask, 1)
	go func() {
		task, err := f.Next(context.Background())
		if err == nil {
			got <- task
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before anything was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := f.AddURL(context.Background(), pageA, 2)
	require.NoError(t, err)

	select {
	case task := <-got:
		require.Equal(t, pageA, task.URL)
		require.Equal(t, 2, task.RedirectBudget)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after enqueue")
	}
}

func TestNextHonorsCancellation(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Next(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestNextAlreadyCanceledLeavesQueueIntact(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	_, err := f.AddSeed(context.Background(), pageA)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.Stats().Queued)
}

func TestCloseWakesWaitersAndRejectsURLs(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	f.Close()
	f.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}

	added, err := f.AddSeed(context.Background(), pageA)
	require.NoError(t, err)
	require.False(t, added)
}

func TestPendingNeverNegative(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	require.ErrorIs(t, f.MarkDone(), ErrNoPending)

	_, err := f.AddSeed(context.Background(), pageA)
	require.NoError(t, err)
	require.NoError(t, f.MarkDone())
	require.ErrorIs(t, f.MarkDone(), ErrNoPending)

	stats := f.Stats()
	require.Zero(t, stats.Pending)
	require.Equal(t, 1, stats.Completed)
}

func TestPendingTracksEnqueuedMinusCompleted(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx := context.Background()
	for i, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		_, err := f.AddSeed(ctx, u)
		require.NoError(t, err)
		require.Equal(t, i+1, f.Stats().Pending)
	}
	for i := 3; i > 0; i-- {
		require.NoError(t, f.MarkDone())
		stats := f.Stats()
		require.Equal(t, i-1, stats.Pending)
		require.Equal(t, stats.Enqueued-stats.Completed, stats.Pending)
	}
}

func TestDrainReturnsImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Drain(ctx))
}

func TestDrainWaitsForLastMarkDone(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	ctx := context.Background()
	_, err := f.AddSeed(ctx, "https://a.test/1")
	require.NoError(t, err)
	_, err = f.AddSeed(ctx, "https://a.test/2")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Drain(ctx) }()

	require.NoError(t, f.MarkDone())
	select {
	case <-done:
		t.Fatal("Drain returned while a task was still pending")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, f.MarkDone())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after pending reached zero")
	}
}

func TestDrainHonorsCancellation(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	_, err := f.AddSeed(context.Background(), pageA)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Drain(ctx), context.DeadlineExceeded)
}

func TestConcurrentDiscoveryEnqueuesOnce(t *testing.T) {
	t.Parallel()

	f := New(nil, 10)
	const racers = 64
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		wins  int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			added, err := f.AddURL(context.Background(), pageA, 10)
			if err == nil && added {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	stats := f.Stats()
	require.Equal(t, 1, stats.Queued)
	require.Equal(t, racers-1, stats.Duplicates)
}

type failingSeenSet struct{}

func (failingSeenSet) Add(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestAddURLSurfacesSeenSetErrors(t *testing.T) {
	t.Parallel()

	f := New(failingSeenSet{}, 10)
	added, err := f.AddSeed(context.Background(), pageA)
	require.Error(t, err)
	require.False(t, added)
	require.Zero(t, f.Stats().Pending)
}
