package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reelhub/publish-queue/internal/artifact"
	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/publisher"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
	"github.com/reelhub/publish-queue/internal/repository"
	"github.com/reelhub/publish-queue/internal/retry"
)

// Limiter is the rate-limit view the scheduler needs. Both
// ratelimiter.Limiter and ratelimiter.RedisLimiter satisfy it.
type Limiter interface {
	Reserve(ctx context.Context, p domain.Platform) (ratelimiter.Reservation, bool, error)
	Release(ctx context.Context, r ratelimiter.Reservation) error
	Exhausted(ctx context.Context, known []domain.Platform) ([]domain.Platform, error)
	Snapshot(ctx context.Context) (map[domain.Platform]domain.RateWindow, error)
}

var (
	_ Limiter = (*ratelimiter.Limiter)(nil)
	_ Limiter = (*ratelimiter.RedisLimiter)(nil)
)

// Publishers resolves the publisher of a platform.
type Publishers interface {
	Get(p domain.Platform) (publisher.Publisher, error)
	Platforms() []domain.Platform
}

// Outcome describes what a single RunCycle did.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // a previous cycle was still in flight
	OutcomeIdle      Outcome = "idle"      // no eligible item
	OutcomeNotDue    Outcome = "not_due"   // head item is scheduled in the future
	OutcomeDeferred  Outcome = "deferred"  // platform rate limit reached
	OutcomePublished Outcome = "published" // item completed
	OutcomeRetry     Outcome = "retry"     // item failed, retry scheduled
	OutcomeFailed    Outcome = "failed"    // item failed for good
	OutcomeError     Outcome = "error"     // store or limiter error, nothing changed
)

// MetricHooks carries the metric callback functions injected by main.
// Any nil hook is a no-op.
type MetricHooks struct {
	OnPublished    func(platform domain.Platform, latency time.Duration)
	OnRetry        func(platform domain.Platform)
	OnFailed       func(platform domain.Platform, permanent bool)
	OnDeferred     func(platform domain.Platform)
	OnCycleSkipped func()
	OnPaused       func(paused bool)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnPublished == nil {
		h.OnPublished = func(domain.Platform, time.Duration) {}
	}
	if h.OnRetry == nil {
		h.OnRetry = func(domain.Platform) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Platform, bool) {}
	}
	if h.OnDeferred == nil {
		h.OnDeferred = func(domain.Platform) {}
	}
	if h.OnCycleSkipped == nil {
		h.OnCycleSkipped = func() {}
	}
	if h.OnPaused == nil {
		h.OnPaused = func(bool) {}
	}
	return h
}

// Scheduler drains the publishing queue one item per tick.
//
// At most one cycle runs at a time: a tick that fires while the previous
// cycle is still waiting on a publisher is dropped. Every failure inside a
// cycle becomes a state transition or a log line; nothing stops the loop.
type Scheduler struct {
	store      repository.QueueStore
	limiter    Limiter
	publishers Publishers
	locator    artifact.Locator
	policy     retry.Policy
	interval   time.Duration
	logger     *zap.Logger
	hooks      MetricHooks
	now        func() time.Time

	inFlight atomic.Bool
	paused   atomic.Bool
	resumed  chan struct{}

	deferLog rate.Sometimes
}

func NewScheduler(
	store repository.QueueStore,
	limiter Limiter,
	publishers Publishers,
	locator artifact.Locator,
	policy retry.Policy,
	interval time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Scheduler {
	return &Scheduler{
		store:      store,
		limiter:    limiter,
		publishers: publishers,
		locator:    locator,
		policy:     policy,
		interval:   interval,
		logger:     logger,
		hooks:      hooks.withDefaults(),
		now:        func() time.Time { return time.Now().UTC() },
		resumed:    make(chan struct{}, 1),
		deferLog:   rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run recovers items orphaned in processing by a previous process, then
// ticks every interval until ctx is cancelled. An in-flight cycle is allowed
// to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	if n, err := s.store.ResetProcessing(ctx); err != nil {
		s.logger.Error("failed to reset orphaned processing items", zap.Error(err))
	} else if n > 0 {
		s.logger.Warn("reset orphaned processing items to pending", zap.Int("count", n))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.resumed:
			ticker.Reset(s.interval)
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			// Shutdown stops the ticks; it must not abort a publish in flight.
			s.RunCycle(context.WithoutCancel(ctx))
		}
	}
}

// RunCycle performs one scheduling pass and reports what it did. It is safe
// to call concurrently; overlapping calls return OutcomeSkipped.
func (s *Scheduler) RunCycle(ctx context.Context) (outcome Outcome) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.hooks.OnCycleSkipped()
		s.logger.Debug("previous cycle still in flight, skipping tick")
		return OutcomeSkipped
	}
	defer s.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			outcome = OutcomeError
		}
	}()
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) Outcome {
	now := s.now()

	exclude, err := s.limiter.Exhausted(ctx, s.publishers.Platforms())
	if err != nil {
		s.logger.Warn("could not read exhausted platforms, selecting without exclusions", zap.Error(err))
		exclude = nil
	}

	item, err := s.store.GetNextQueueItem(ctx, now, exclude)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeIdle
	}
	if err != nil {
		s.logger.Error("failed to fetch next queue item", zap.Error(err))
		return OutcomeError
	}

	log := s.logger.With(
		zap.String("item_id", item.ID),
		zap.String("video_id", item.VideoID),
		zap.String("platform", string(item.Platform)),
	)

	if !item.EligibleAt(now) {
		return OutcomeNotDue
	}

	res, ok, err := s.limiter.Reserve(ctx, item.Platform)
	if err != nil {
		log.Error("rate limiter check failed", zap.Error(err))
		return OutcomeError
	}
	if !ok {
		s.hooks.OnDeferred(item.Platform)
		s.deferLog.Do(func() {
			log.Info("platform rate limit reached, deferring")
		})
		return OutcomeDeferred
	}

	return s.dispatch(ctx, item, res, log)
}

// dispatch runs with a rate-limit slot already taken. Every path that does
// not end in a publication hands the slot back.
func (s *Scheduler) dispatch(ctx context.Context, item *domain.QueueItem, res ratelimiter.Reservation, log *zap.Logger) Outcome {
	processing := domain.StatusProcessing
	if _, err := s.store.UpdateQueueItem(ctx, item.ID, domain.QueueItemUpdate{Status: &processing}); err != nil {
		log.Error("failed to mark as processing", zap.Error(err))
		s.release(ctx, res, log)
		return OutcomeError
	}

	start := time.Now()
	result, err := s.publish(ctx, item, log)
	elapsed := time.Since(start)

	if err != nil {
		s.release(ctx, res, log)
		return s.handleFailure(ctx, item, err, log)
	}

	completed := domain.StatusCompleted
	processedAt := s.now()
	cleared := ""
	update := domain.QueueItemUpdate{
		Status:      &completed,
		ProcessedAt: &processedAt,
		Error:       &cleared,
	}
	if result != nil {
		update.PlatformRef = &result.PlatformID
		update.PublicURL = &result.URL
	}
	if _, err := s.store.UpdateQueueItem(ctx, item.ID, update); err != nil {
		log.Error("failed to mark as completed", zap.Error(err))
		return OutcomeError
	}

	s.hooks.OnPublished(item.Platform, elapsed)
	fields := []zap.Field{zap.Duration("latency", elapsed)}
	if result != nil {
		fields = append(fields, zap.String("platform_ref", result.PlatformID), zap.String("url", result.URL))
	}
	log.Info("video published", fields...)
	return OutcomePublished
}

func (s *Scheduler) release(ctx context.Context, res ratelimiter.Reservation, log *zap.Logger) {
	if err := s.limiter.Release(ctx, res); err != nil {
		log.Error("failed to release rate limit slot", zap.Error(err))
	}
}

// publish turns a panicking locator or publisher into a transient failure so
// the item leaves processing like any other failed attempt.
func (s *Scheduler) publish(ctx context.Context, item *domain.QueueItem, log *zap.Logger) (result *publisher.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("publisher panicked", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, domain.Transient(fmt.Errorf("publisher panicked: %v", r))
		}
	}()

	location, err := s.locator.Locate(ctx, item.VideoID)
	if err != nil {
		return nil, err
	}
	pub, err := s.publishers.Get(item.Platform)
	if err != nil {
		return nil, err
	}
	return pub.Publish(ctx, item.VideoID, location, item.Metadata)
}

// handleFailure either schedules a retry (if the policy allows one) or marks
// the item as failed. Missed attempts never count against the rate limit.
func (s *Scheduler) handleFailure(ctx context.Context, item *domain.QueueItem, cause error, log *zap.Logger) Outcome {
	now := s.now()
	msg := cause.Error()
	if msg == "" {
		msg = "publish failed"
	}

	d := s.policy.Decide(item, cause, now)
	if d.Retry {
		pending := domain.StatusPending
		next := item.RetryCount + 1
		_, err := s.store.UpdateQueueItem(ctx, item.ID, domain.QueueItemUpdate{
			Status:      &pending,
			RetryCount:  &next,
			ScheduledAt: &d.NextAttemptAt,
			LastRetryAt: &now,
			Error:       &msg,
		})
		if err != nil {
			log.Error("failed to schedule retry", zap.Error(err))
			return OutcomeError
		}
		s.hooks.OnRetry(item.Platform)
		log.Warn("publish failed, retry scheduled",
			zap.Error(cause),
			zap.Int("retry_count", next),
			zap.Time("next_attempt_at", d.NextAttemptAt),
		)
		return OutcomeRetry
	}

	failed := domain.StatusFailed
	if _, err := s.store.UpdateQueueItem(ctx, item.ID, domain.QueueItemUpdate{
		Status: &failed,
		Error:  &msg,
	}); err != nil {
		log.Error("failed to mark as failed", zap.Error(err))
		return OutcomeError
	}

	permanent := domain.IsPermanent(cause)
	s.hooks.OnFailed(item.Platform, permanent)
	log.Error("publish failed, giving up",
		zap.Error(cause),
		zap.Bool("permanent", permanent),
		zap.Int("retry_count", item.RetryCount),
	)
	return OutcomeFailed
}

// QueueStatus returns item counts per status, the rate-limit windows and the
// paused flag.
func (s *Scheduler) QueueStatus(ctx context.Context) (*domain.QueueStatus, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	windows, err := s.limiter.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.QueueStatus{Counts: counts, RateLimits: windows, Paused: s.paused.Load()}, nil
}

// Pause stops future ticks from running cycles. A cycle already in flight
// completes normally.
func (s *Scheduler) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.hooks.OnPaused(true)
		s.logger.Info("scheduler paused")
	}
}

// Resume restarts ticking with a fresh interval.
func (s *Scheduler) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		select {
		case s.resumed <- struct{}{}:
		default:
		}
		s.hooks.OnPaused(false)
		s.logger.Info("scheduler resumed")
	}
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// RetryFailedItems moves every failed item that still has retries left back
// to pending, eligible immediately. It returns the number of items reset.
func (s *Scheduler) RetryFailedItems(ctx context.Context) (int, error) {
	failed, err := s.store.GetQueueByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return 0, err
	}

	now := s.now()
	pending := domain.StatusPending
	reset := 0
	for _, item := range failed {
		if item.RetryCount >= item.MaxRetries {
			continue
		}
		if _, err := s.store.UpdateQueueItem(ctx, item.ID, domain.QueueItemUpdate{
			Status:      &pending,
			ScheduledAt: &now,
		}); err != nil {
			s.logger.Error("failed to reset failed item",
				zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		reset++
	}

	s.logger.Info("failed items reset to pending", zap.Int("count", reset), zap.Int("failed", len(failed)))
	return reset, nil
}
