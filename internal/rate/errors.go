package rate

import "errors"

var (
	// ErrRateLimited is returned when an attempt budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when the counter store cannot be
	// reached. Callers decide whether to fail open or closed.
	ErrStoreUnavailable = errors.New("rate counter store unavailable")
)
