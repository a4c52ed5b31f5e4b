package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/publisher"
	"github.com/reelhub/publish-queue/internal/repository"
)

// PlatformRegistry reports whether a platform has a publisher.
type PlatformRegistry interface {
	Get(p domain.Platform) (publisher.Publisher, error)
}

// OptimalTimer computes the next recommended publish instant.
type OptimalTimer interface {
	NextOptimalTime(p domain.Platform, now time.Time) (time.Time, error)
}

// PublishingService is the entry point for new publish requests.
// All enqueue-time rules (platform support, metadata shape, schedule
// resolution, defaults) live here. After creation an item belongs to the
// scheduler.
type PublishingService struct {
	store             repository.QueueStore
	platforms         PlatformRegistry
	optimal           OptimalTimer
	defaultMaxRetries int
	logger            *zap.Logger
	now               func() time.Time
}

func NewPublishingService(
	store repository.QueueStore,
	platforms PlatformRegistry,
	optimal OptimalTimer,
	defaultMaxRetries int,
	logger *zap.Logger,
) *PublishingService {
	return &PublishingService{
		store:             store,
		platforms:         platforms,
		optimal:           optimal,
		defaultMaxRetries: defaultMaxRetries,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *PublishingService) WithClock(now func() time.Time) *PublishingService {
	s.now = now
	return s
}

// AddToPublishingQueue validates req and persists a new pending item.
//
// The schedule is, in order of precedence: the explicit scheduled_at, the
// platform's next optimal time when use_optimal_time is set, or none
// (eligible immediately).
func (s *PublishingService) AddToPublishingQueue(ctx context.Context, req domain.EnqueueRequest) (*domain.QueueItem, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	now := s.now()
	scheduledAt := req.ScheduledAt
	if req.UseOptimalTime {
		at, err := s.optimal.NextOptimalTime(req.Platform, now)
		if err != nil {
			return nil, err
		}
		scheduledAt = &at
	}
	if scheduledAt != nil {
		utc := scheduledAt.UTC()
		scheduledAt = &utc
	}

	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	q := &domain.QueueItem{
		ID:          uuid.New().String(),
		VideoID:     req.VideoID,
		Platform:    req.Platform,
		Status:      domain.StatusPending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		Metadata:    metadata,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.AddToQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("persist queue item: %w", err)
	}

	fields := []zap.Field{
		zap.String("item_id", q.ID),
		zap.String("video_id", q.VideoID),
		zap.String("platform", string(q.Platform)),
		zap.Int("priority", q.Priority),
	}
	if q.ScheduledAt != nil {
		fields = append(fields, zap.Time("scheduled_at", *q.ScheduledAt))
	}
	s.logger.Info("video queued for publishing", fields...)
	return q, nil
}

// check runs every validation that does not touch the store.
func (s *PublishingService) check(req domain.EnqueueRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.platforms.Get(req.Platform); err != nil {
		return err
	}
	_, err := publisher.DecodeMetadata(req.Platform, req.Metadata)
	return err
}

func (s *PublishingService) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.store.GetByID(ctx, id)
}

// ListByStatus returns the items in status, in dispatch order.
func (s *PublishingService) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.QueueItem, error) {
	if !status.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.store.GetQueueByStatus(ctx, status)
}

// NextOptimalTime exposes the calculator for a supported platform.
func (s *PublishingService) NextOptimalTime(p domain.Platform) (time.Time, error) {
	if _, err := s.platforms.Get(p); err != nil {
		return time.Time{}, err
	}
	return s.optimal.NextOptimalTime(p, s.now())
}

// MaxBatchSize caps AddBatch.
const MaxBatchSize = 100

// AddBatch enqueues several requests, typically one video fanned out to
// several platforms. Every request is validated before anything is
// persisted; a store error part-way leaves the earlier items queued.
func (s *PublishingService) AddBatch(ctx context.Context, reqs []domain.EnqueueRequest) ([]*domain.QueueItem, error) {
	if len(reqs) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(reqs) > MaxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}
	for i, req := range reqs {
		if err := s.check(req); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	items := make([]*domain.QueueItem, 0, len(reqs))
	for i, req := range reqs {
		q, err := s.AddToPublishingQueue(ctx, req)
		if err != nil {
			return items, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, q)
	}
	return items, nil
}
