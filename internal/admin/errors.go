package admin

import (
	"fmt"
	"time"

	"github.com/venturedeck/venturedeck/internal/platform/httpx"
)

var (
	// ErrUnauthorized means no valid session was presented.
	ErrUnauthorized = fmt.Errorf("admin: %w", httpx.ErrUnauthorized)
	// ErrForbidden means the caller lacks the required permission.
	ErrForbidden = fmt.Errorf("admin: %w", httpx.ErrForbidden)
	// ErrRateLimited means a throttle key exhausted its window budget.
	ErrRateLimited = fmt.Errorf("admin: %w", httpx.ErrRateLimited)
)

// RateLimitError reports which key was throttled and when it resets.
type RateLimitError struct {
	Key     string
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return "admin: rate limited"
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter implements httpx.RetryAfterError.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.RetryIn
}
