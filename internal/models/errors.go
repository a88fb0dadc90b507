package models

import (
	"fmt"
	"time"
)

// Error kinds surfaced on the inbound contract. These are expected outcomes,
// not program faults, so they travel as typed values and never as panics.
const (
	ErrKindAccessDenied        = "access_denied"
	ErrKindRateLimitExceeded   = "rate_limit_exceeded"
	ErrKindQuotaExceeded       = "quota_exceeded"
	ErrKindUpstreamClientError = "upstream_client_error"
	ErrKindUpstreamUnavailable = "upstream_unavailable"
	ErrKindPersistenceFailure  = "persistence_failure"
	ErrKindProcessingError     = "processing_error"
)

// OwnershipError reports a cross-credential session access attempt: the
// presented API key is not the one that created the session. Always a denial,
// never a fallback to a second session or a merged context.
type OwnershipError struct {
	Platform       string
	UserID         string
	OwnerKeyID     *int64
	PresentedKeyID *int64
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("access denied: conversation for user %q on %s belongs to a different API key",
		e.UserID, e.Platform)
}

// RateLimitError reports a denied admission with the limit that applied.
type RateLimitError struct {
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per minute", e.Limit)
}

// QuotaError reports an exhausted daily or monthly quota.
type QuotaError struct {
	Period    string
	Usage     int
	Limit     int
	ResetTime time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d/%d requests, resets at %s",
		e.Period, e.Usage, e.Limit, e.ResetTime.UTC().Format(time.RFC3339))
}

// UpstreamError classifies a failed upstream call. Transient is true when the
// failure was retried to exhaustion (timeouts, 5xx, transport faults) and
// false for a non-retried 4xx.
type UpstreamError struct {
	StatusCode int
	Attempts   int
	Transient  bool
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.Transient {
		return fmt.Sprintf("upstream unavailable after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("upstream client error (status %d): %v", e.StatusCode, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }
