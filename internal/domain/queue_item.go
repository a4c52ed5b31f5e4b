package domain

import (
	"encoding/json"
	"time"
)

// Platform identifies an external publishing destination. The set is open:
// a platform is supported when a publisher is registered for it.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
)

// Status tracks the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	DefaultMaxRetries = 3
	// DefaultPriority leaves room on both sides for urgent and backfill work.
	DefaultPriority = 5
)

// QueueItem is one requested publication of one video to one platform.
type QueueItem struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"-"`
	VideoID     string          `json:"video_id"`
	Platform    Platform        `json:"platform"`
	Status      Status          `json:"status"`
	Priority    int             `json:"priority"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	LastRetryAt *time.Time      `json:"last_retry_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	PlatformRef *string         `json:"platform_ref,omitempty"`
	PublicURL   *string         `json:"public_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EligibleAt reports whether the item may be dispatched at now.
func (q *QueueItem) EligibleAt(now time.Time) bool {
	return q.ScheduledAt == nil || !q.ScheduledAt.After(now)
}

// QueueItemUpdate carries the partial fields written by UpdateQueueItem.
// Nil pointers leave the stored value untouched. A non-nil Error pointing at an
// empty string clears the stored error.
type QueueItemUpdate struct {
	Status      *Status
	RetryCount  *int
	ScheduledAt *time.Time
	LastRetryAt *time.Time
	ProcessedAt *time.Time
	Error       *string
	PlatformRef *string
	PublicURL   *string
}

// Apply writes the non-nil fields of u onto q.
func (u QueueItemUpdate) Apply(q *QueueItem) {
	if u.Status != nil {
		q.Status = *u.Status
	}
	if u.RetryCount != nil {
		q.RetryCount = *u.RetryCount
	}
	if u.ScheduledAt != nil {
		t := *u.ScheduledAt
		q.ScheduledAt = &t
	}
	if u.LastRetryAt != nil {
		t := *u.LastRetryAt
		q.LastRetryAt = &t
	}
	if u.ProcessedAt != nil {
		t := *u.ProcessedAt
		q.ProcessedAt = &t
	}
	if u.Error != nil {
		if *u.Error == "" {
			q.Error = nil
		} else {
			e := *u.Error
			q.Error = &e
		}
	}
	if u.PlatformRef != nil {
		r := *u.PlatformRef
		q.PlatformRef = &r
	}
	if u.PublicURL != nil {
		r := *u.PublicURL
		q.PublicURL = &r
	}
}

// RateWindow is a snapshot of one platform's fixed-window counters.
type RateWindow struct {
	MaxPerHour  int       `json:"max_per_hour"`
	MaxPerDay   int       `json:"max_per_day"`
	CountHour   int       `json:"count_hour"`
	CountDay    int       `json:"count_day"`
	WindowStart time.Time `json:"window_start"`
	HourStart   time.Time `json:"hour_start"`
}

// QueueStatus is the operator view of the queue.
type QueueStatus struct {
	Counts     map[Status]int          `json:"counts"`
	RateLimits map[Platform]RateWindow `json:"rate_limits"`
	Paused     bool                    `json:"paused"`
}

// EnqueueRequest is the inbound payload for addToPublishingQueue.
type EnqueueRequest struct {
	VideoID        string          `json:"video_id"`
	Platform       Platform        `json:"platform"`
	Metadata       json.RawMessage `json:"metadata"`
	Priority       *int            `json:"priority,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	UseOptimalTime bool            `json:"use_optimal_time,omitempty"`
	MaxRetries     *int            `json:"max_retries,omitempty"`
}

// Validate checks the fields that do not depend on the platform registry.
func (r *EnqueueRequest) Validate() error {
	if r.VideoID == "" {
		return ErrInvalidVideoID
	}
	if r.Platform == "" {
		return ErrUnsupportedPlatform
	}
	if r.Priority != nil && *r.Priority < 0 {
		return ErrInvalidPriority
	}
	if r.MaxRetries != nil && (*r.MaxRetries < 0 || *r.MaxRetries > 10) {
		return ErrInvalidMaxRetries
	}
	if r.ScheduledAt != nil && r.UseOptimalTime {
		return ErrConflictingSchedule
	}
	return nil
}
