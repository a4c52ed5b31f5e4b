// Package retry decides whether a failed publish attempt is retried and when.
package retry

import (
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
)

// DefaultBase is the unit of the exponential backoff: attempt n waits Base·2^n.
const DefaultBase = time.Minute

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Retry         bool
	NextAttemptAt time.Time
}

// Policy is a stateless backoff rule. The zero value uses DefaultBase.
type Policy struct {
	Base time.Duration
}

// Decide returns whether item should be retried after err, and the earliest
// instant of the next attempt.
//
// The delay is keyed on the post-increment attempt number:
//
//	retryCount 0 → 2·Base
//	retryCount 1 → 4·Base
//	retryCount 2 → 8·Base
//
// Retries stop once retryCount+1 would exceed maxRetries, and immediately for
// permanent errors. Decide never mutates item.
func (p Policy) Decide(item *domain.QueueItem, err error, now time.Time) Decision {
	if domain.IsPermanent(err) {
		return Decision{}
	}
	next := item.RetryCount + 1
	if next > item.MaxRetries {
		return Decision{}
	}
	return Decision{Retry: true, NextAttemptAt: now.Add(p.Delay(next))}
}

// Delay returns the backoff before the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	if attempt < 0 {
		attempt = 0
	}
	// cap the shift so a misconfigured max_retries cannot overflow
	if attempt > 30 {
		attempt = 30
	}
	return base << uint(attempt)
}
