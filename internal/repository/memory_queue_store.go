package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
)

// MemoryQueueStore is an in-process QueueStore. It backs unit tests and
// QUEUE_STORE=memory development runs. Contents are lost on restart.
type MemoryQueueStore struct {
	mu    sync.RWMutex
	items map[string]*domain.QueueItem
	seq   int64
	now   func() time.Time

	// Optional error overrides, set in tests to simulate failure paths.
	AddErr     error
	GetNextErr error
	UpdateErr  error
	CountErr   error
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		items: make(map[string]*domain.QueueItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to stamp updated_at.
func (m *MemoryQueueStore) WithClock(now func() time.Time) *MemoryQueueStore {
	m.now = now
	return m
}

func (m *MemoryQueueStore) AddToQueue(_ context.Context, q *domain.QueueItem) error {
	if m.AddErr != nil {
		return m.AddErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	q.Seq = m.seq
	clone := cloneItem(q)
	m.items[q.ID] = clone
	return nil
}

func (m *MemoryQueueStore) GetNextQueueItem(_ context.Context, now time.Time, exclude []domain.Platform) (*domain.QueueItem, error) {
	if m.GetNextErr != nil {
		return nil, m.GetNextErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.QueueItem
	for _, q := range m.items {
		if q.Status != domain.StatusPending || !q.EligibleAt(now) {
			continue
		}
		if slices.Contains(exclude, q.Platform) {
			continue
		}
		if best == nil || less(q, best) {
			best = q
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return cloneItem(best), nil
}

func (m *MemoryQueueStore) GetQueueByStatus(_ context.Context, status domain.Status) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.QueueItem
	for _, q := range m.items {
		if q.Status == status {
			result = append(result, cloneItem(q))
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result, nil
}

func (m *MemoryQueueStore) UpdateQueueItem(_ context.Context, id string, u domain.QueueItemUpdate) (*domain.QueueItem, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.Apply(q)
	q.UpdatedAt = m.now()
	return cloneItem(q), nil
}

func (m *MemoryQueueStore) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(q), nil
}

func (m *MemoryQueueStore) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	if m.CountErr != nil {
		return nil, m.CountErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[domain.Status]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		counts[s] = 0
	}
	for _, q := range m.items {
		counts[q.Status]++
	}
	return counts, nil
}

func (m *MemoryQueueStore) ResetProcessing(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.items {
		if q.Status == domain.StatusProcessing {
			q.Status = domain.StatusPending
			q.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func less(a, b *domain.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}

func cloneItem(q *domain.QueueItem) *domain.QueueItem {
	c := *q
	if q.Metadata != nil {
		c.Metadata = append([]byte(nil), q.Metadata...)
	}
	c.ScheduledAt = clonePtr(q.ScheduledAt)
	c.LastRetryAt = clonePtr(q.LastRetryAt)
	c.ProcessedAt = clonePtr(q.ProcessedAt)
	c.Error = clonePtr(q.Error)
	c.PlatformRef = clonePtr(q.PlatformRef)
	c.PublicURL = clonePtr(q.PublicURL)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
