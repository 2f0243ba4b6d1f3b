// Package errors carries the failure taxonomy shared by the fetch layer,
// the composer and the protocol dispatcher. Every upstream failure is
// classified into a Kind so callers can decide between retry, fallback
// fixture and an absent report slot without string matching.
package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidParams    Kind = "invalid_params"
	KindTransport        Kind = "transport"
	KindHTTPStatus       Kind = "http_status"
	KindUpstreamDegraded Kind = "upstream_degraded"
	KindDecode           Kind = "decode"
	KindCancelled        Kind = "cancelled"
	KindRateLimited      Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

type classifiedError struct {
	kind      Kind
	status    int
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(cause error, kind Kind, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{kind: kind, retryable: retryable, cause: cause}
}

// New builds a classified error from a fresh message.
func New(kind Kind, format string, args ...any) error {
	return &classifiedError{kind: kind, cause: fmt.Errorf(format, args...)}
}

// HTTPStatus classifies an upstream HTTP failure, keeping the status code.
// 5xx responses are marked retryable, 4xx are not.
func HTTPStatus(status int, body string) error {
	return &classifiedError{
		kind:      KindHTTPStatus,
		status:    status,
		retryable: status >= 500,
		cause:     fmt.Errorf("upstream returned HTTP %d: %s", status, truncate(body, 200)),
	}
}

func KindOf(err error) Kind {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.kind
	}
	return ""
}

// StatusOf returns the upstream HTTP status carried by err, 0 when none.
func StatusOf(err error) int {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.status
	}
	return 0
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
