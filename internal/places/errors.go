package places

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrRetryExhausted is returned when a page request keeps failing transiently past the retry bound.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ErrInvalidCap is returned for a non-positive per-query cap.
var ErrInvalidCap = errors.New("per-query cap must be greater than 0")

// APIError is a failure reported by the Places API, either as an HTTP status or as a response status.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	retryable  bool
}

func (e *APIError) Error() string {
	switch {
	case e.Status != "" && e.Message != "":
		return fmt.Sprintf("places API status %s: %s", e.Status, e.Message)
	case e.Status != "":
		return fmt.Sprintf("places API status %s", e.Status)
	default:
		return fmt.Sprintf("places API error (%d): %s", e.StatusCode, e.Message)
	}
}

// Retryable reports whether the same request may succeed when sent again.
func (e *APIError) Retryable() bool {
	return e.retryable
}

func newHTTPError(statusCode int, body string) *APIError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &APIError{
		StatusCode: statusCode,
		Message:    body,
		retryable:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}
}

// newStatusError classifies a non-OK response status. INVALID_REQUEST on a continuation
// request means the next_page_token is not active yet, which resolves by waiting.
func newStatusError(status, message string, continuation bool) *APIError {
	retryable := false
	switch status {
	case StatusOverQueryLimit, StatusUnknownError:
		retryable = true
	case StatusInvalidRequest:
		retryable = continuation
	}
	return &APIError{
		StatusCode: http.StatusOK,
		Status:     status,
		Message:    message,
		retryable:  retryable,
	}
}

// IsRetryable reports whether err is a transient transport or API condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A client timeout also surfaces as a net.Error below; only the caller's context is final.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.Canceled) {
			return true
		}
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
