package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelhub/publish-queue/internal/domain"
)

const queueColumns = `id, seq, video_id, platform, status, priority, scheduled_at,
	       metadata, retry_count, max_retries, last_retry_at, processed_at,
	       error, platform_ref, public_url, created_at, updated_at`

type pgQueueStore struct {
	pool *pgxpool.Pool
}

// NewPgQueueStore returns a QueueStore backed by PostgreSQL.
func NewPgQueueStore(pool *pgxpool.Pool) QueueStore {
	return &pgQueueStore{pool: pool}
}

func (r *pgQueueStore) AddToQueue(ctx context.Context, q *domain.QueueItem) error {
	metadata := q.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO publishing_queue
			(id, video_id, platform, status, priority, scheduled_at, metadata,
			 retry_count, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING seq`,
		q.ID, q.VideoID, q.Platform, q.Status, q.Priority, q.ScheduledAt, metadata,
		q.RetryCount, q.MaxRetries, q.CreatedAt, q.UpdatedAt,
	).Scan(&q.Seq)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *pgQueueStore) GetNextQueueItem(ctx context.Context, now time.Time, exclude []domain.Platform) (*domain.QueueItem, error) {
	// A nil array would make the ANY() predicate NULL and hide every row.
	excluded := make([]string, 0, len(exclude))
	for _, p := range exclude {
		excluded = append(excluded, string(p))
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM publishing_queue
		WHERE status = 'pending'
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		  AND NOT (platform = ANY($2))
		ORDER BY priority ASC, seq ASC
		LIMIT 1`, now, excluded)

	q, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next queue item: %w", err)
	}
	return q, nil
}

func (r *pgQueueStore) GetQueueByStatus(ctx context.Context, status domain.Status) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM publishing_queue
		WHERE status = $1
		ORDER BY priority ASC, seq ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list queue by status: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (r *pgQueueStore) UpdateQueueItem(ctx context.Context, id string, u domain.QueueItemUpdate) (*domain.QueueItem, error) {
	set, args := buildUpdateSet(u)
	args = append(args, id)

	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE publishing_queue
		SET %s
		WHERE id = $%d
		RETURNING `+queueColumns, set, len(args)), args...)

	q, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update queue item: %w", err)
	}
	return q, nil
}

func (r *pgQueueStore) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM publishing_queue WHERE id = $1`, id)

	q, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return q, err
}

func (r *pgQueueStore) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM publishing_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status domain.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *pgQueueStore) ResetProcessing(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE publishing_queue
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("reset processing items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- helpers ----

// scanQueueItem reads a single queue row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var q domain.QueueItem
	err := row.Scan(
		&q.ID, &q.Seq, &q.VideoID, &q.Platform, &q.Status, &q.Priority, &q.ScheduledAt,
		&q.Metadata, &q.RetryCount, &q.MaxRetries, &q.LastRetryAt, &q.ProcessedAt,
		&q.Error, &q.PlatformRef, &q.PublicURL, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}

// buildUpdateSet builds a parameterised SET list from a QueueItemUpdate.
// updated_at is always bumped.
func buildUpdateSet(u domain.QueueItemUpdate) (string, []any) {
	assignments := []string{"updated_at = NOW()"}
	var args []any

	add := func(assignment string, val any) {
		args = append(args, val)
		assignments = append(assignments, fmt.Sprintf(assignment, len(args)))
	}

	if u.Status != nil {
		add("status = $%d", *u.Status)
	}
	if u.RetryCount != nil {
		add("retry_count = $%d", *u.RetryCount)
	}
	if u.ScheduledAt != nil {
		add("scheduled_at = $%d", *u.ScheduledAt)
	}
	if u.LastRetryAt != nil {
		add("last_retry_at = $%d", *u.LastRetryAt)
	}
	if u.ProcessedAt != nil {
		add("processed_at = $%d", *u.ProcessedAt)
	}
	if u.Error != nil {
		add("error = NULLIF($%d, '')", *u.Error)
	}
	if u.PlatformRef != nil {
		add("platform_ref = $%d", *u.PlatformRef)
	}
	if u.PublicURL != nil {
		add("public_url = $%d", *u.PublicURL)
	}

	return strings.Join(assignments, ", "), args
}
