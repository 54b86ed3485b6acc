// Package resilience defines the pipeline error taxonomy and retry helpers.
//
// The taxonomy matters because callers branch on it: not-found is surfaced
// and never retried, transient failures are retried within a bounded budget,
// rate limiting backs off, cache corruption degrades to a refetch, and a
// determinism violation is fatal.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// NotFoundError reports a title, page or revision absent upstream.
type NotFoundError struct {
	Kind string // "page", "revision", "seed", "evidence", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// NewNotFound creates a NotFoundError for the given entity kind and key.
func NewNotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsNotFound reports whether err (or its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TransientError wraps an error that is safe to retry (network timeout, 5xx).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps an error as transient with an optional HTTP status code.
func NewTransient(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// RateLimitedError reports an upstream 429. Distinct from TransientError so
// clients can back off harder instead of retrying at full rate.
type RateLimitedError struct {
	Err error
}

func (e *RateLimitedError) Error() string { return e.Err.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err (or its chain) is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// CacheCorruptionError reports an unreadable or partial cache entry. The
// cache treats it as a miss; it exists as a type so the miss can be logged
// with its cause rather than silently swallowed.
type CacheCorruptionError struct {
	Path string
	Err  error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache entry corrupt at %s: %v", e.Path, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Err }

// IsCacheCorruption reports whether err is a CacheCorruptionError.
func IsCacheCorruption(err error) bool {
	var cc *CacheCorruptionError
	return errors.As(err, &cc)
}

// BindingMismatchError reports a table-row citation whose matched identity
// does not belong to the person it was resolved for. It is attached to the
// offending citation as a warning; resolution of other citations continues.
type BindingMismatchError struct {
	EvidenceID string
	Expected   string // person identity the search hit represents
	Got        string // person identity embedded in the snippet ref
}

func (e *BindingMismatchError) Error() string {
	return fmt.Sprintf("row binding mismatch for evidence %s: row names %q, hit is %q",
		e.EvidenceID, e.Got, e.Expected)
}

// DeterminismViolationError reports that recomputing an ID produced a
// different value for logically identical inputs. Always fatal.
type DeterminismViolationError struct {
	Entity   string
	Expected string
	Got      string
}

func (e *DeterminismViolationError) Error() string {
	return fmt.Sprintf("determinism violation on %s: recomputed %s, stored %s",
		e.Entity, e.Got, e.Expected)
}

// IsDeterminismViolation reports whether err is a DeterminismViolationError.
func IsDeterminismViolation(err error) bool {
	var dv *DeterminismViolationError
	return errors.As(err, &dv)
}

// IsTransient reports whether the error (or any error in its chain) is a
// TransientError or RateLimitedError, or matches common transient network
// failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsRateLimited(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the HTTP status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
