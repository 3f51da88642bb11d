package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/core/engine"
	"github.com/riskledger/riskledger/internal/metrics"
	"github.com/riskledger/riskledger/internal/observability"
)

const (
	// DefaultTimeout applies when neither the call nor the fetcher sets one.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBytes is the response ceiling when none is configured.
	DefaultMaxBytes int64 = 5 * 1024 * 1024
)

// DefaultContentTypes is the allow-list used when a call names none.
var DefaultContentTypes = []string{"application/json"}

// Limits hands out per-endpoint admission windows. *engine.Registry implements it.
type Limits interface {
	Limiter(ctx context.Context, endpoint string) (*engine.SlidingWindow, error)
	Record429(ctx context.Context, endpoint string, retryAfter time.Duration) error
}

// Fetcher gates outbound calls through the endpoint limiter, bounds them with
// a timeout and validates status, media type and size before returning.
type Fetcher struct {
	Limits   Limits
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
	Stats    StatsRecorder
	Logger   observability.Logger
	Clock    func() time.Time
}

// Options describes one call.
type Options struct {
	Method               string
	Headers              http.Header
	Body                 io.Reader
	AcceptedContentTypes []string
	// Timeout and MaxBytes override the fetcher settings when positive.
	Timeout  time.Duration
	MaxBytes int64
}

// Fetch issues the request and returns the validated response with its body
// unread. The caller must close the body; reading it past the byte ceiling or
// past the deadline fails with *ResponseTooLargeError or *TimeoutError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*http.Response, error) {
	if f == nil {
		return nil, errors.New("fetcher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || target.Hostname() == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	endpoint := strings.ToLower(target.Hostname())

	if err := f.admit(ctx, endpoint); err != nil {
		f.record(ctx, endpoint, string(KindRateLimited))
		return nil, err
	}

	timeout := f.timeout(opts)
	maxBytes := f.maxBytes(opts)
	allowed := opts.AcceptedContentTypes
	if len(allowed) == 0 {
		allowed = DefaultContentTypes
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, target.String(), opts.Body)
	if err != nil {
		cancel()
		return nil, err
	}
	for key, values := range opts.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", strings.Join(allowed, ", "))
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("request to %s: %w", target, ctx.Err())
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			f.record(ctx, endpoint, string(KindTimeout))
			return nil, &TimeoutError{URL: target.String(), Timeout: timeout, Err: err}
		default:
			f.record(ctx, endpoint, string(KindTransport))
			return nil, &TransportError{URL: target.String(), Err: err}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryAfter := retryAfterHeader(resp, f.now())
		discard(resp)
		cancel()

		if resp.StatusCode == http.StatusTooManyRequests && f.Limits != nil {
			if err := f.Limits.Record429(ctx, endpoint, retryAfter); err != nil {
				f.logger().Warn("Failed to persist backoff", zap.String("endpoint", endpoint), zap.Error(err))
			}
		}
		f.record(ctx, endpoint, string(KindHTTP))
		return nil, &HTTPError{
			URL:        target.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			RetryAfter: retryAfter,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !contentTypeAllowed(contentType, allowed) {
		discard(resp)
		cancel()
		f.logger().Warn("Rejected response content type",
			zap.String("endpoint", endpoint),
			zap.String("content_type", contentType),
			zap.Strings("expected", allowed))
		f.record(ctx, endpoint, string(KindInvalidContentType))
		return nil, &InvalidContentTypeError{URL: target.String(), Got: contentType, Expected: allowed}
	}

	if resp.ContentLength > maxBytes {
		discard(resp)
		cancel()
		f.logger().Warn("Rejected oversized response",
			zap.String("endpoint", endpoint),
			zap.Int64("content_length", resp.ContentLength),
			zap.Int64("limit", maxBytes))
		f.record(ctx, endpoint, string(KindResponseTooLarge))
		return nil, &ResponseTooLargeError{URL: target.String(), Limit: maxBytes, Size: resp.ContentLength}
	}

	resp.Body = &guardedBody{
		rc:      resp.Body,
		url:     target.String(),
		limit:   maxBytes,
		timeout: timeout,
		parent:  ctx,
		reqCtx:  reqCtx,
		cancel:  cancel,
	}
	f.record(ctx, endpoint, OutcomeOK)
	return resp, nil
}

func (f *Fetcher) admit(ctx context.Context, endpoint string) error {
	if f.Limits == nil {
		return nil
	}

	window, err := f.Limits.Limiter(ctx, endpoint)
	if err != nil {
		f.logger().Warn("Failed to load rate limit state", zap.String("endpoint", endpoint), zap.Error(err))
	}
	if window == nil || window.Allow() {
		return nil
	}

	rateErr := &RateLimitError{
		Endpoint:   endpoint,
		Remaining:  window.Remaining(),
		RetryAfter: window.RetryAfter(),
	}
	f.logger().Debug("Outbound call rate limited",
		zap.String("endpoint", endpoint),
		zap.Duration("retry_after", rateErr.RetryAfter))
	return rateErr
}

func (f *Fetcher) record(ctx context.Context, endpoint, outcome string) {
	metrics.RecordFetch(endpoint, outcome)
	if f.Stats == nil {
		return
	}
	if err := f.Stats.Record(ctx, StatsEvent{Endpoint: endpoint, Outcome: outcome, At: f.now()}); err != nil {
		f.logger().Warn("Failed to record fetch stats", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func (f *Fetcher) timeout(opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultTimeout
}

func (f *Fetcher) maxBytes(opts Options) int64 {
	if opts.MaxBytes > 0 {
		return opts.MaxBytes
	}
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

func (f *Fetcher) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now().UTC()
}

func (f *Fetcher) logger() observability.Logger {
	return observability.LoggerOr(f.Logger)
}

// contentTypeAllowed matches the media type case-insensitively. Parameters
// named in an allow-list entry (e.g. version=2.1) must also match; others
// such as charset are ignored.
func contentTypeAllowed(header string, allowed []string) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}
	got, gotParams, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		want, wantParams, err := mime.ParseMediaType(entry)
		if err != nil || want != got {
			continue
		}
		matched := true
		for key, value := range wantParams {
			if !strings.EqualFold(gotParams[key], value) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// discard closes a rejected response without buffering it.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_ = resp.Body.Close() // nolint:errcheck // rejected response, nothing to report
}

// guardedBody enforces the byte ceiling and deadline while the caller reads.
// Closing it releases the request context.
type guardedBody struct {
	rc      io.ReadCloser
	url     string
	limit   int64
	read    int64
	timeout time.Duration
	parent  context.Context
	reqCtx  context.Context
	cancel  context.CancelFunc
}

func (b *guardedBody) Read(p []byte) (int, error) {
	if b.read > b.limit {
		return 0, b.tooLarge()
	}
	if room := b.limit - b.read + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := b.rc.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		return n - int(b.read-b.limit), b.tooLarge()
	}
	if err != nil && err != io.EOF && b.parent.Err() == nil && errors.Is(b.reqCtx.Err(), context.DeadlineExceeded) {
		return n, &TimeoutError{URL: b.url, Timeout: b.timeout, Err: err}
	}
	return n, err
}

func (b *guardedBody) Close() error {
	err := b.rc.Close()
	b.cancel()
	return err
}

func (b *guardedBody) tooLarge() error {
	return &ResponseTooLargeError{URL: b.url, Limit: b.limit}
}
