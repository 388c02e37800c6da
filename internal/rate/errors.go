package rate

import "errors"

var (
	// ErrRateLimited is returned by [Limiter.Check] when the key exhausted its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidPolicy is returned when a limit or window is not positive.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
