package search

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an API failure. Retry decisions branch on the kind alone,
// never on error message text.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindFatal       Kind = "fatal"
)

// APIError is a classified search API failure. RetryAfter carries the
// server's backoff hint when one was given.
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("search api: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("search api: %s (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("search api: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("search api: %s: %s", e.Kind, e.Message)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying.
func (e *APIError) Temporary() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// Classify extracts the failure kind from an error chain. Unclassified
// errors count as fatal.
func Classify(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindFatal
}
