package domain

import (
	"fmt"
	"time"
)

// FetchErrorKind classifies a failed upstream page request. Every kind is
// retryable by the refresh loop.
type FetchErrorKind int

const (
	KindTransport FetchErrorKind = iota
	KindRateLimited
	KindUpstreamStatus
	KindInvalidPayload
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindInvalidPayload:
		return "invalid_payload"
	default:
		return "unknown"
	}
}

// FetchError is returned by the upstream fetcher for a single page.
type FetchError struct {
	Kind       FetchErrorKind
	Page       int
	StatusCode int
	// RetryAfter is the server-requested wait, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindRateLimited, KindUpstreamStatus:
		return fmt.Sprintf("fetch page %d: %s (HTTP %d): %v", e.Page, e.Kind, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("fetch page %d: %s: %v", e.Page, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets callers match a FetchError against the package sentinels.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrUpstreamStatus:
		return e.Kind == KindUpstreamStatus
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}
