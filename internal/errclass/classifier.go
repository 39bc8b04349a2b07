// Package errclass maps any pipeline failure to a fixed taxonomy entry and
// decides retry-with-backoff, quarantine, or dead-letter. No error escapes
// the orchestrator boundary unclassified.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"etl-narrative-engine/internal/storage"
)

// Category is one entry of the fixed failure taxonomy.
type Category string

const (
	NetworkError    Category = "NETWORK_ERROR"
	AuthError       Category = "AUTH_ERROR"
	RateLimit       Category = "RATE_LIMIT"
	SchemaError     Category = "SCHEMA_ERROR"
	DataQuality     Category = "DATA_QUALITY"
	ProcessingError Category = "PROCESSING_ERROR"
	ResourceError   Category = "RESOURCE_ERROR"
	TimeoutError    Category = "TIMEOUT_ERROR"
	SystemError     Category = "SYSTEM_ERROR"
)

// retriable categories; everything else is terminal on first occurrence.
var retriable = map[Category]bool{
	NetworkError:  true,
	RateLimit:     true,
	ResourceError: true,
	TimeoutError:  true,
	SystemError:   true,
}

// quarantineCategories route to quarantine instead of dead-letter: a
// validation failure is an expected outcome, not a system fault.
var quarantineCategories = map[Category]bool{
	SchemaError: true,
	DataQuality: true,
}

// base backoff per category; escalates exponentially with retry count.
var baseDelays = map[Category]time.Duration{
	NetworkError:  5 * time.Second,
	RateLimit:     30 * time.Second,
	ResourceError: 10 * time.Second,
	TimeoutError:  10 * time.Second,
	SystemError:   15 * time.Second,
}

const maxDelay = 5 * time.Minute

// Retriable reports whether the category may be re-queued.
func (c Category) Retriable() bool {
	return retriable[c]
}

// Quarantine reports whether the category routes to quarantine.
func (c Category) Quarantine() bool {
	return quarantineCategories[c]
}

// Classified wraps an error with its taxonomy category.
type Classified struct {
	Category Category
	Err      error
}

func (e *Classified) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Classified) Unwrap() error {
	return e.Err
}

// New wraps err under the given category.
func New(category Category, err error) *Classified {
	return &Classified{Category: category, Err: err}
}

// Newf wraps a formatted error under the given category.
func Newf(category Category, format string, args ...interface{}) *Classified {
	return &Classified{Category: category, Err: fmt.Errorf(format, args...)}
}

// Classify resolves an arbitrary error to its taxonomy entry. Errors
// already classified pass through; known sentinels and transport error
// types are mapped; anything unrecognized is a SYSTEM_ERROR so that an
// unexpected fault is retried rather than silently dropped.
func Classify(err error) *Classified {
	var classified *Classified
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(TimeoutError, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAccessDenied):
		return New(AuthError, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(TimeoutError, err)
		}
		return New(NetworkError, err)
	}

	return New(SystemError, err)
}

// RetryPolicy decides the disposition of a classified failure given the
// message's retry count.
type RetryPolicy struct {
	MaxRetries int
}

func NewRetryPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: maxRetries}
}

// Delay computes the escalating backoff for the next attempt.
func (p *RetryPolicy) Delay(category Category, retryCount int) time.Duration {
	base, ok := baseDelays[category]
	if !ok {
		base = 5 * time.Second
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// ShouldRetry reports whether a failure of this category, at this retry
// count, should be re-queued. Exhausted or non-retriable failures go to
// dead-letter (or quarantine, per the category).
func (p *RetryPolicy) ShouldRetry(category Category, retryCount int) bool {
	return category.Retriable() && retryCount < p.MaxRetries
}
