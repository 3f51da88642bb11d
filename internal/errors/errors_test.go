package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riskledger/riskledger/internal/core/attack"
	"github.com/riskledger/riskledger/internal/core/fetch"
	"github.com/riskledger/riskledger/internal/core/migrate"
	"github.com/riskledger/riskledger/internal/core/store"
)

func TestFromDomainCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"rate limited", &fetch.RateLimitError{Endpoint: "attack-taxii.mitre.org", RetryAfter: 2500 * time.Millisecond}, CodeRateLimited, http.StatusTooManyRequests},
		{"upstream 429", &fetch.HTTPError{URL: "u", StatusCode: 429, RetryAfter: time.Minute}, CodeRateLimited, http.StatusTooManyRequests},
		{"upstream 500", &fetch.HTTPError{URL: "u", StatusCode: 500}, CodeExternalService, http.StatusBadGateway},
		{"timeout", &fetch.TimeoutError{URL: "u", Timeout: time.Second}, CodeTimeout, http.StatusGatewayTimeout},
		{"content type", &fetch.InvalidContentTypeError{URL: "u", Got: "text/html"}, CodeExternalService, http.StatusBadGateway},
		{"too large", &fetch.ResponseTooLargeError{URL: "u", Limit: 10}, CodeExternalService, http.StatusBadGateway},
		{"invalid id", fmt.Errorf("lookup: %w", attack.ErrInvalidID), CodeInvalidInput, http.StatusBadRequest},
		{"missing technique", attack.ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"missing record", fmt.Errorf("users/u1: %w", store.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{"stale", store.ErrStale, CodeConflict, http.StatusConflict},
		{"duplicate", store.ErrConflict, CodeConflict, http.StatusConflict},
		{"aborted", fmt.Errorf("%w: users-roles: boom", migrate.ErrAborted), CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromDomain(context.Background(), tc.err)
			require.Equal(t, tc.code, envelope.Code)
			require.Equal(t, tc.status, HTTPStatusFromEnvelope(envelope))
			require.NotEmpty(t, envelope.CorrelationID)
		})
	}
}

func TestRespondWithErrorSetsRetryAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/attack/techniques/T1059", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &fetch.RateLimitError{Endpoint: "attack-taxii.mitre.org", RetryAfter: 2500 * time.Millisecond})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3", rec.Header().Get("Retry-After"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, CodeRateLimited, body.Error.Code)
	require.Equal(t, "attack-taxii.mitre.org", body.Error.Details["endpoint"])
}

func TestEnsureEnvelopePassesThroughEnvelopes(t *testing.T) {
	envelope := NewNotFoundError("gone")
	require.Same(t, envelope, EnsureEnvelope(envelope))

	wrapped := EnsureEnvelope(store.ErrNotFound)
	require.Equal(t, CodeNotFound, wrapped.Code)

	require.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}
