package fetch

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter caps a server-requested backoff.
const maxRetryAfter = 24 * time.Hour

// retryAfterHeader parses Retry-After as delay-seconds or an HTTP date,
// clamped to maxRetryAfter.
func retryAfterHeader(resp *http.Response, now time.Time) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}

	seconds, err := strconv.ParseInt(retry, 10, 64)
	switch {
	case err == nil:
		if seconds <= 0 {
			return 0
		}
		if seconds > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(seconds) * time.Second
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(retry, "-"):
		return maxRetryAfter
	}

	if parsed, err := http.ParseTime(retry); err == nil {
		if wait := parsed.Sub(now); wait > 0 {
			return min(wait, maxRetryAfter)
		}
	}

	return 0
}
