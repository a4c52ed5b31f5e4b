package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/publisher"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
	"github.com/reelhub/publish-queue/internal/repository"
	"github.com/reelhub/publish-queue/internal/retry"
	"github.com/reelhub/publish-queue/internal/worker"
)

// ---- fakes ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakePublisher struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	always  error
	panics  bool
	block   chan struct{}
	started chan struct{}
	// honorCtx makes a blocked call return early when ctx is cancelled, like
	// an HTTP request built with NewRequestWithContext.
	honorCtx bool
}

func (f *fakePublisher) Publish(ctx context.Context, videoID, _ string, _ json.RawMessage) (*publisher.Result, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	} else {
		err = f.always
	}
	block, started, panics, honorCtx := f.block, f.started, f.panics, f.honorCtx
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		if honorCtx {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-block
		}
	}
	if panics {
		panic("uploader exploded")
	}
	if err != nil {
		return nil, err
	}
	return &publisher.Result{PlatformID: videoID + "-remote", URL: "https://example.test/" + videoID}, nil
}

func (f *fakePublisher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocator struct {
	missing map[string]bool
}

func (l *fakeLocator) Locate(_ context.Context, videoID string) (string, error) {
	if l.missing[videoID] {
		return "", domain.ErrArtifactNotFound
	}
	return "/renders/" + videoID + ".mp4", nil
}

// ---- harness ----

type harness struct {
	clock    *fakeClock
	store    *repository.MemoryQueueStore
	limiter  *ratelimiter.Limiter
	youtube  *fakePublisher
	tiktok   *fakePublisher
	locator  *fakeLocator
	sched    *worker.Scheduler
	hookLog  *hookLog
	interval time.Duration
}

type hookLog struct {
	published, retried, failed, deferred, skipped, permanent atomic.Int32
}

func newHarness(t *testing.T, limits map[domain.Platform]ratelimiter.Limits) *harness {
	t.Helper()
	return newHarnessWithLimiter(t, limits, nil)
}

func newHarnessWithLimiter(t *testing.T, limits map[domain.Platform]ratelimiter.Limits, wrap func(worker.Limiter) worker.Limiter) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{t: time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)},
		youtube:  &fakePublisher{},
		tiktok:   &fakePublisher{},
		locator:  &fakeLocator{missing: map[string]bool{}},
		hookLog:  &hookLog{},
		interval: 10 * time.Millisecond,
	}
	h.store = repository.NewMemoryQueueStore().WithClock(h.clock.Now)
	h.limiter = ratelimiter.New(ratelimiter.Limits{MaxPerHour: 100, MaxPerDay: 1000}, limits).WithClock(h.clock.Now)

	reg := publisher.NewRegistry()
	reg.Register(domain.PlatformYouTube, h.youtube)
	reg.Register(domain.PlatformTikTok, h.tiktok)

	var lim worker.Limiter = h.limiter
	if wrap != nil {
		lim = wrap(lim)
	}

	hooks := worker.MetricHooks{
		OnPublished: func(domain.Platform, time.Duration) { h.hookLog.published.Add(1) },
		OnRetry:     func(domain.Platform) { h.hookLog.retried.Add(1) },
		OnFailed: func(_ domain.Platform, permanent bool) {
			h.hookLog.failed.Add(1)
			if permanent {
				h.hookLog.permanent.Add(1)
			}
		},
		OnDeferred:     func(domain.Platform) { h.hookLog.deferred.Add(1) },
		OnCycleSkipped: func() { h.hookLog.skipped.Add(1) },
	}
	h.sched = worker.NewScheduler(h.store, lim, reg, h.locator, retry.Policy{}, h.interval, zap.NewNop(), hooks).
		WithClock(h.clock.Now)
	return h
}

func (h *harness) enqueue(t *testing.T, id string, p domain.Platform, priority int) *domain.QueueItem {
	t.Helper()
	now := h.clock.Now()
	q := &domain.QueueItem{
		ID:         id,
		VideoID:    "video-" + id,
		Platform:   p,
		Status:     domain.StatusPending,
		Priority:   priority,
		Metadata:   json.RawMessage(`{"title":"x"}`),
		MaxRetries: domain.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, h.store.AddToQueue(context.Background(), q))
	return q
}

func (h *harness) get(t *testing.T, id string) *domain.QueueItem {
	t.Helper()
	q, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return q
}

// ---- scenarios ----

func TestScheduler_HappyPath(t *testing.T) {
	h := newHarness(t, map[domain.Platform]ratelimiter.Limits{domain.PlatformYouTube: {MaxPerHour: 10, MaxPerDay: 100}})
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	assert.Equal(t, worker.OutcomePublished, h.sched.RunCycle(context.Background()))

	q := h.get(t, "a")
	assert.Equal(t, domain.StatusCompleted, q.Status)
	require.NotNil(t, q.ProcessedAt)
	assert.Equal(t, h.clock.Now(), *q.ProcessedAt)
	assert.Nil(t, q.Error)
	require.NotNil(t, q.PlatformRef)
	assert.Equal(t, "video-a-remote", *q.PlatformRef)
	assert.Equal(t, 1, h.youtube.Calls())

	snap, err := h.limiter.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap[domain.PlatformYouTube].CountHour)
	assert.Equal(t, 1, snap[domain.PlatformYouTube].CountDay)
	assert.EqualValues(t, 1, h.hookLog.published.Load())
}

func TestScheduler_RateLimitedItemStaysPending(t *testing.T) {
	h := newHarness(t, map[domain.Platform]ratelimiter.Limits{domain.PlatformYouTube: {MaxPerHour: 1, MaxPerDay: 100}})
	require.NoError(t, h.limiter.RecordDispatch(context.Background(), domain.PlatformYouTube))
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	h.sched.RunCycle(context.Background())

	q := h.get(t, "a")
	assert.Equal(t, domain.StatusPending, q.Status)
	assert.Equal(t, 0, q.RetryCount)
	assert.Equal(t, 0, h.youtube.Calls())

	// the window rolls after an hour and the item goes out
	h.clock.Advance(time.Hour)
	assert.Equal(t, worker.OutcomePublished, h.sched.RunCycle(context.Background()))
}

// exhaustedBlind hides exhaustion from candidate selection so the per-item
// check is what defers the head.
type exhaustedBlind struct{ worker.Limiter }

func (exhaustedBlind) Exhausted(context.Context, []domain.Platform) ([]domain.Platform, error) {
	return nil, nil
}

func TestScheduler_PerItemCheckDefers(t *testing.T) {
	h := newHarnessWithLimiter(t,
		map[domain.Platform]ratelimiter.Limits{domain.PlatformYouTube: {MaxPerHour: 1, MaxPerDay: 100}},
		func(l worker.Limiter) worker.Limiter { return exhaustedBlind{l} },
	)
	require.NoError(t, h.limiter.RecordDispatch(context.Background(), domain.PlatformYouTube))
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	assert.Equal(t, worker.OutcomeDeferred, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "a").Status)
	assert.Equal(t, 0, h.youtube.Calls())
	assert.EqualValues(t, 1, h.hookLog.deferred.Load())
}

func TestScheduler_ExhaustedPlatformDoesNotStarveOthers(t *testing.T) {
	h := newHarness(t, map[domain.Platform]ratelimiter.Limits{domain.PlatformYouTube: {MaxPerHour: 1, MaxPerDay: 100}})
	require.NoError(t, h.limiter.RecordDispatch(context.Background(), domain.PlatformYouTube))
	h.enqueue(t, "yt", domain.PlatformYouTube, 0)
	h.enqueue(t, "tt", domain.PlatformTikTok, 5)

	assert.Equal(t, worker.OutcomePublished, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "yt").Status)
	assert.Equal(t, domain.StatusCompleted, h.get(t, "tt").Status)
}

func TestScheduler_RetriesWithBackoffThenFails(t *testing.T) {
	h := newHarness(t, nil)
	h.youtube.always = domain.Transient(errors.New("upload timed out"))
	h.enqueue(t, "a", domain.PlatformYouTube, 0)
	ctx := context.Background()

	delays := []time.Duration{2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, delay := range delays {
		start := h.clock.Now()
		assert.Equal(t, worker.OutcomeRetry, h.sched.RunCycle(ctx), "attempt %d", i+1)

		q := h.get(t, "a")
		assert.Equal(t, domain.StatusPending, q.Status)
		assert.Equal(t, i+1, q.RetryCount)
		require.NotNil(t, q.ScheduledAt)
		assert.Equal(t, start.Add(delay), *q.ScheduledAt)
		require.NotNil(t, q.LastRetryAt)
		assert.Equal(t, start, *q.LastRetryAt)
		require.NotNil(t, q.Error)
		assert.Contains(t, *q.Error, "upload timed out")

		// not yet due
		h.clock.Advance(delay - time.Second)
		assert.Equal(t, worker.OutcomeIdle, h.sched.RunCycle(ctx))
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, worker.OutcomeFailed, h.sched.RunCycle(ctx))
	q := h.get(t, "a")
	assert.Equal(t, domain.StatusFailed, q.Status)
	assert.Equal(t, 3, q.RetryCount)
	assert.Equal(t, 4, h.youtube.Calls())

	snap, err := h.limiter.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap[domain.PlatformYouTube].CountDay)
	assert.EqualValues(t, 3, h.hookLog.retried.Load())
	assert.EqualValues(t, 1, h.hookLog.failed.Load())
	assert.EqualValues(t, 0, h.hookLog.permanent.Load())
}

func TestScheduler_RecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.tiktok.errs = []error{errors.New("502 from uploader")}
	h.enqueue(t, "a", domain.PlatformTikTok, 0)
	ctx := context.Background()

	assert.Equal(t, worker.OutcomeRetry, h.sched.RunCycle(ctx))
	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, worker.OutcomePublished, h.sched.RunCycle(ctx))

	q := h.get(t, "a")
	assert.Equal(t, domain.StatusCompleted, q.Status)
	assert.Equal(t, 1, q.RetryCount)
	assert.Nil(t, q.Error)
}

func TestScheduler_PermanentFailuresSkipRetry(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness) domain.Platform
	}{
		{"missing artifact", func(h *harness) domain.Platform {
			h.locator.missing["video-a"] = true
			return domain.PlatformYouTube
		}},
		{"permanent publisher error", func(h *harness) domain.Platform {
			h.youtube.always = domain.Permanent(errors.New("422 title rejected"))
			return domain.PlatformYouTube
		}},
		{"unregistered platform", func(*harness) domain.Platform {
			return "vimeo"
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			p := tc.setup(h)
			h.enqueue(t, "a", p, 0)

			assert.Equal(t, worker.OutcomeFailed, h.sched.RunCycle(context.Background()))
			q := h.get(t, "a")
			assert.Equal(t, domain.StatusFailed, q.Status)
			assert.Equal(t, 0, q.RetryCount)
			assert.NotNil(t, q.Error)
			assert.EqualValues(t, 1, h.hookLog.permanent.Load())
		})
	}
}

func TestScheduler_MissingArtifactNeverCallsPublisher(t *testing.T) {
	h := newHarness(t, nil)
	h.locator.missing["video-a"] = true
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	h.sched.RunCycle(context.Background())
	assert.Equal(t, 0, h.youtube.Calls())
}

func TestScheduler_OrdersByPriorityThenCreation(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "late-low", domain.PlatformYouTube, 5)
	h.enqueue(t, "first-high", domain.PlatformYouTube, 1)
	h.enqueue(t, "second-high", domain.PlatformTikTok, 1)
	ctx := context.Background()

	var order []string
	for range 3 {
		require.Equal(t, worker.OutcomePublished, h.sched.RunCycle(ctx))
		completed, err := h.store.GetQueueByStatus(ctx, domain.StatusCompleted)
		require.NoError(t, err)
		for _, q := range completed {
			if !slices.Contains(order, q.ID) {
				order = append(order, q.ID)
			}
		}
	}
	assert.Equal(t, []string{"first-high", "second-high", "late-low"}, order)
}

func TestScheduler_FutureItemsUntouched(t *testing.T) {
	h := newHarness(t, nil)
	q := h.enqueue(t, "later", domain.PlatformYouTube, 0)
	at := h.clock.Now().Add(time.Hour)
	_, err := h.store.UpdateQueueItem(context.Background(), q.ID, domain.QueueItemUpdate{ScheduledAt: &at})
	require.NoError(t, err)

	assert.Equal(t, worker.OutcomeIdle, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "later").Status)
	assert.Equal(t, 0, h.youtube.Calls())
}

func TestScheduler_TerminalItemsAreNeverRedispatched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for id, status := range map[string]domain.Status{"done": domain.StatusCompleted, "dead": domain.StatusFailed} {
		h.enqueue(t, id, domain.PlatformYouTube, 0)
		s := status
		_, err := h.store.UpdateQueueItem(ctx, id, domain.QueueItemUpdate{Status: &s})
		require.NoError(t, err)
	}

	for range 3 {
		assert.Equal(t, worker.OutcomeIdle, h.sched.RunCycle(ctx))
	}
	assert.Equal(t, 0, h.youtube.Calls())
}

func TestScheduler_OverlappingCyclesAreSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.youtube.block = make(chan struct{})
	h.youtube.started = make(chan struct{}, 1)
	h.enqueue(t, "a", domain.PlatformYouTube, 0)
	h.enqueue(t, "b", domain.PlatformYouTube, 0)

	done := make(chan worker.Outcome, 1)
	go func() { done <- h.sched.RunCycle(context.Background()) }()
	<-h.youtube.started

	assert.Equal(t, worker.OutcomeSkipped, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "b").Status)

	close(h.youtube.block)
	assert.Equal(t, worker.OutcomePublished, <-done)
	assert.Equal(t, 1, h.youtube.Calls())
	assert.EqualValues(t, 1, h.hookLog.skipped.Load())
}

func TestScheduler_PanickingPublisherBecomesRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.youtube.panics = true
	h.enqueue(t, "a", domain.PlatformYouTube, 0)
	ctx := context.Background()

	assert.Equal(t, worker.OutcomeRetry, h.sched.RunCycle(ctx))

	q := h.get(t, "a")
	assert.Equal(t, domain.StatusPending, q.Status)
	assert.Equal(t, 1, q.RetryCount)
	require.NotNil(t, q.Error)
	assert.Contains(t, *q.Error, "publisher panicked")

	snap, err := h.limiter.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap[domain.PlatformYouTube].CountHour, "slot handed back")

	// once due again the item goes out
	h.youtube.mu.Lock()
	h.youtube.panics = false
	h.youtube.mu.Unlock()
	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, worker.OutcomePublished, h.sched.RunCycle(ctx))
}

// panickingLimiter fails outside the publish path, where only the cycle-level
// recover applies.
type panickingLimiter struct{ worker.Limiter }

func (panickingLimiter) Exhausted(context.Context, []domain.Platform) ([]domain.Platform, error) {
	panic("limiter exploded")
}

func TestScheduler_PanicOutsidePublishIsRecovered(t *testing.T) {
	h := newHarnessWithLimiter(t, nil, func(l worker.Limiter) worker.Limiter { return panickingLimiter{l} })
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	assert.Equal(t, worker.OutcomeError, h.sched.RunCycle(context.Background()))
	// the in-flight flag was released
	assert.Equal(t, worker.OutcomeError, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "a").Status)
}

func TestScheduler_ShutdownLetsInFlightPublishFinish(t *testing.T) {
	h := newHarness(t, nil)
	h.youtube.block = make(chan struct{})
	h.youtube.started = make(chan struct{}, 1)
	h.youtube.honorCtx = true
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(h.sched)
	pool.Start(ctx)

	<-h.youtube.started
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*h.interval)
	defer waitCancel()
	assert.ErrorIs(t, pool.WaitContext(waitCtx), context.DeadlineExceeded, "Run waits for the publish")

	close(h.youtube.block)
	pool.Wait()

	q := h.get(t, "a")
	assert.Equal(t, domain.StatusCompleted, q.Status)
	assert.Equal(t, 0, q.RetryCount)
	assert.Nil(t, q.Error)
	assert.Equal(t, 1, h.youtube.Calls())
}

func TestScheduler_StoreErrorLeavesStateAlone(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", domain.PlatformYouTube, 0)
	h.store.GetNextErr = errors.New("connection refused")

	assert.Equal(t, worker.OutcomeError, h.sched.RunCycle(context.Background()))
	assert.Equal(t, domain.StatusPending, h.get(t, "a").Status)
}

func TestScheduler_PauseStopsTicksUntilResume(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "a", domain.PlatformYouTube, 0)

	h.sched.Pause()
	assert.True(t, h.sched.Paused())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(stopped)
	}()

	time.Sleep(10 * h.interval)
	assert.Equal(t, 0, h.youtube.Calls())
	assert.Equal(t, domain.StatusPending, h.get(t, "a").Status)

	h.sched.Resume()
	assert.False(t, h.sched.Paused())
	require.Eventually(t, func() bool { return h.youtube.Calls() == 1 }, time.Second, h.interval)

	cancel()
	<-stopped
}

func TestScheduler_RunResetsOrphanedProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.enqueue(t, "orphan", domain.PlatformYouTube, 0)
	processing := domain.StatusProcessing
	_, err := h.store.UpdateQueueItem(context.Background(), "orphan", domain.QueueItemUpdate{Status: &processing})
	require.NoError(t, err)

	h.sched.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		q, err := h.store.GetByID(context.Background(), "orphan")
		return err == nil && q.Status == domain.StatusPending
	}, time.Second, h.interval)
	cancel()
	<-stopped
}

func TestScheduler_RetryFailedItems(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	failed := domain.StatusFailed
	completed := domain.StatusCompleted

	h.enqueue(t, "retryable", domain.PlatformYouTube, 0)
	one := 1
	_, err := h.store.UpdateQueueItem(ctx, "retryable", domain.QueueItemUpdate{Status: &failed, RetryCount: &one})
	require.NoError(t, err)

	h.enqueue(t, "exhausted", domain.PlatformYouTube, 0)
	three := 3
	_, err = h.store.UpdateQueueItem(ctx, "exhausted", domain.QueueItemUpdate{Status: &failed, RetryCount: &three})
	require.NoError(t, err)

	h.enqueue(t, "done", domain.PlatformYouTube, 0)
	_, err = h.store.UpdateQueueItem(ctx, "done", domain.QueueItemUpdate{Status: &completed})
	require.NoError(t, err)

	n, err := h.sched.RetryFailedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q := h.get(t, "retryable")
	assert.Equal(t, domain.StatusPending, q.Status)
	assert.Equal(t, 1, q.RetryCount)
	require.NotNil(t, q.ScheduledAt)
	assert.Equal(t, h.clock.Now(), *q.ScheduledAt)

	assert.Equal(t, domain.StatusFailed, h.get(t, "exhausted").Status)
	assert.Equal(t, domain.StatusCompleted, h.get(t, "done").Status)
}

func TestScheduler_QueueStatus(t *testing.T) {
	h := newHarness(t, map[domain.Platform]ratelimiter.Limits{domain.PlatformYouTube: {MaxPerHour: 3, MaxPerDay: 30}})
	h.enqueue(t, "a", domain.PlatformYouTube, 0)
	h.enqueue(t, "b", domain.PlatformYouTube, 0)
	ctx := context.Background()
	require.Equal(t, worker.OutcomePublished, h.sched.RunCycle(ctx))
	h.sched.Pause()

	st, err := h.sched.QueueStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, 1, st.Counts[domain.StatusPending])
	assert.Equal(t, 1, st.Counts[domain.StatusCompleted])
	assert.Equal(t, 0, st.Counts[domain.StatusFailed])

	yt := st.RateLimits[domain.PlatformYouTube]
	assert.Equal(t, 3, yt.MaxPerHour)
	assert.Equal(t, 1, yt.CountHour)
}
