package repository

import (
	"context"
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
)

// QueueStore is the durable, ordered collection of publish requests.
// The pgx implementation is in pg_queue_store.go; memory_queue_store.go holds
// an in-process implementation used by tests and single-node development.
type QueueStore interface {
	// AddToQueue persists a new item. The store assigns Seq.
	AddToQueue(ctx context.Context, item *domain.QueueItem) error

	// GetNextQueueItem returns the pending item with the lowest priority, then
	// the earliest creation, among those with no scheduled_at or scheduled_at
	// <= now, skipping platforms in exclude. Returns domain.ErrNotFound when
	// nothing qualifies.
	GetNextQueueItem(ctx context.Context, now time.Time, exclude []domain.Platform) (*domain.QueueItem, error)

	GetQueueByStatus(ctx context.Context, status domain.Status) ([]*domain.QueueItem, error)
	UpdateQueueItem(ctx context.Context, id string, u domain.QueueItemUpdate) (*domain.QueueItem, error)
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)

	// ResetProcessing moves every processing item back to pending. Only safe
	// before the scheduler starts ticking.
	ResetProcessing(ctx context.Context) (int, error)
}
