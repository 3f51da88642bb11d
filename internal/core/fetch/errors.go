package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies fetch failures so callers can branch on them without
// inspecting messages.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindRateLimited        ErrorKind = "rate_limited"
	KindTimeout            ErrorKind = "timeout"
	KindHTTP               ErrorKind = "http_error"
	KindInvalidContentType ErrorKind = "invalid_content_type"
	KindResponseTooLarge   ErrorKind = "response_too_large"
	KindTransport          ErrorKind = "transport"
)

// RateLimitError is returned when the endpoint limiter rejects the call.
// No request was sent.
type RateLimitError struct {
	Endpoint   string
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Endpoint, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Endpoint)
}

// TimeoutError is returned when the request, or reading its body, outlives
// the configured deadline. The in-flight request has been cancelled.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError carries a non-2xx response status. RetryAfter is set from the
// Retry-After header when the server sent one.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	status := strings.TrimSpace(e.Status)
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("unexpected response from %s: %s", e.URL, status)
}

// InvalidContentTypeError is returned when the response media type is not in
// the allow-list for the call. The body is never read.
type InvalidContentTypeError struct {
	URL      string
	Got      string
	Expected []string
}

func (e *InvalidContentTypeError) Error() string {
	got := e.Got
	if got == "" {
		got = "<none>"
	}
	return fmt.Sprintf("unexpected content type %q from %s (expected one of %s)", got, e.URL, strings.Join(e.Expected, ", "))
}

// ResponseTooLargeError is returned when the response exceeds the byte ceiling,
// either up front from Content-Length or while the body is read.
type ResponseTooLargeError struct {
	URL   string
	Limit int64
	Size  int64
}

func (e *ResponseTooLargeError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("response from %s is %d bytes, limit is %d", e.URL, e.Size, e.Limit)
	}
	return fmt.Sprintf("response from %s exceeds %d bytes", e.URL, e.Limit)
}

// TransportError wraps failures below HTTP (DNS, connection refused, TLS).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind reports the failure class of err, or KindNone for nil and foreign errors.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var rateErr *RateLimitError
	var timeoutErr *TimeoutError
	var httpErr *HTTPError
	var typeErr *InvalidContentTypeError
	var sizeErr *ResponseTooLargeError
	var transportErr *TransportError

	switch {
	case errors.As(err, &rateErr):
		return KindRateLimited
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &typeErr):
		return KindInvalidContentType
	case errors.As(err, &sizeErr):
		return KindResponseTooLarge
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindNone
	}
}

// Retryable reports whether err is transient and eligible for backoff-and-retry.
// Content-type and size violations never are; they point at a misconfigured
// or compromised endpoint.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindRateLimited, KindTimeout, KindTransport:
		return true
	case KindHTTP:
		var httpErr *HTTPError
		errors.As(err, &httpErr)
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// RetryAfter returns the suggested wait carried by err, if any.
func RetryAfter(err error) time.Duration {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
