package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrLockHeld       = errors.New("lock already held")
	ErrTerminalStatus = errors.New("order is in a terminal status")
	ErrUnknownKind    = errors.New("unknown order kind")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrContextDone    = errors.New("context cancelled")
)

// ThrottledError signals that an external endpoint asked us to back off for a
// specific duration. The task queue reschedules the job at RetryIn instead of
// applying its default backoff policy.
type ThrottledError struct {
	RetryIn time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry in %s", e.RetryIn)
}

// AsThrottled unwraps err into a *ThrottledError if one is present.
func AsThrottled(err error) (*ThrottledError, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
