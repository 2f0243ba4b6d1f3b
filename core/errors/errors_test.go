package errors

import (
	stderrors "errors"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(nil, KindTransport, true); err != nil {
		t.Fatalf("expected nil for nil cause, got %v", err)
	}
}

func TestWrapPreservesCauseChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	wrapped := Wrap(cause, KindTransport, true)
	if !stderrors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped error to unwrap to cause")
	}
	if KindOf(wrapped) != KindTransport {
		t.Fatalf("unexpected kind: %s", KindOf(wrapped))
	}
	if !RetryableOf(wrapped) {
		t.Fatalf("expected transport error to be retryable")
	}
}

func TestHTTPStatusRetryability(t *testing.T) {
	serverErr := HTTPStatus(503, "unavailable")
	if !RetryableOf(serverErr) {
		t.Fatalf("expected 503 to be retryable")
	}
	if StatusOf(serverErr) != 503 {
		t.Fatalf("expected status 503, got %d", StatusOf(serverErr))
	}

	clientErr := HTTPStatus(404, "no such aggregate")
	if RetryableOf(clientErr) {
		t.Fatalf("expected 404 to not be retryable")
	}
	if KindOf(clientErr) != KindHTTPStatus {
		t.Fatalf("unexpected kind: %s", KindOf(clientErr))
	}
}

func TestHTTPStatusTruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := HTTPStatus(500, string(long))
	if len(err.Error()) > 260 {
		t.Fatalf("expected body to be truncated, got %d bytes", len(err.Error()))
	}
}

func TestAccessorsOnPlainError(t *testing.T) {
	plain := stderrors.New("plain")
	if KindOf(plain) != "" {
		t.Fatalf("expected empty kind for unclassified error")
	}
	if StatusOf(plain) != 0 {
		t.Fatalf("expected zero status for unclassified error")
	}
	if RetryableOf(plain) {
		t.Fatalf("expected unclassified error to not be retryable")
	}
}
