package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidVideoID      = errors.New("video_id must not be empty")
	ErrInvalidPriority     = errors.New("priority must not be negative")
	ErrInvalidMaxRetries   = errors.New("max_retries must be between 0 and 10")
	ErrInvalidMetadata     = errors.New("invalid platform metadata")
	ErrConflictingSchedule = errors.New("scheduled_at and use_optimal_time are mutually exclusive")
	ErrInvalidStatus       = errors.New("invalid status: must be pending, processing, completed, or failed")
	ErrArtifactNotFound    = errors.New("video artifact not found")
	ErrBatchEmpty          = errors.New("batch must contain at least one item")
	ErrBatchTooLarge       = errors.New("batch exceeds maximum of 100 items")
)

// PublishError is returned by platform publishers. Permanent failures are not
// worth retrying (validation rejections, missing artifacts); everything else is
// treated as transient.
type PublishError struct {
	Permanent bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Permanent {
		return "permanent: " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Permanent marks err as unrecoverable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PublishError{Permanent: true, Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &PublishError{Err: err}
}

// IsPermanent reports whether err should end an item's lifecycle without retry.
// A missing artifact or an unknown platform is always permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrArtifactNotFound) || errors.Is(err, ErrUnsupportedPlatform) {
		return true
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}
