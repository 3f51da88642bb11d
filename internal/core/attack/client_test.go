package attack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/engine"
	"github.com/riskledger/riskledger/internal/core/fetch"
)

const techniqueEnvelope = `{
  "more": false,
  "objects": [
    {
      "type": "attack-pattern",
      "id": "attack-pattern--old",
      "name": "Old Interpreter",
      "revoked": true,
      "modified": "2019-01-01T00:00:00.000Z",
      "external_references": [{"source_name": "mitre-attack", "external_id": "T1059"}]
    },
    {
      "type": "attack-pattern",
      "id": "attack-pattern--7385dfaf-6886-4229-9ecd-6fd678040830",
      "name": "Command and Scripting Interpreter",
      "description": "Adversaries may abuse command and script interpreters.",
      "modified": "2024-04-15T20:33:57.000Z",
      "x_mitre_platforms": ["Linux", "Windows"],
      "kill_chain_phases": [
        {"kill_chain_name": "mitre-attack", "phase_name": "execution"}
      ],
      "external_references": [
        {"source_name": "mitre-attack", "external_id": "T1059", "url": "https://attack.mitre.org/techniques/T1059"},
        {"source_name": "capec", "external_id": "CAPEC-1"}
      ]
    }
  ]
}`

type memoryCache struct {
	items map[string]*core.Technique
}

func (m *memoryCache) GetCachedTechnique(ctx context.Context, id string) (*core.Technique, error) {
	if t, ok := m.items[id]; ok {
		copied := *t
		copied.FromCache = true
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryCache) SetCachedTechnique(ctx context.Context, technique *core.Technique, ttl time.Duration) error {
	if m.items == nil {
		m.items = make(map[string]*core.Technique)
	}
	m.items[technique.ID] = technique
	return nil
}

func newTestClient(t *testing.T, server *httptest.Server, limit int) (*Client, *memoryCache) {
	t.Helper()
	cache := &memoryCache{}
	return &Client{
		Fetcher: &fetch.Fetcher{
			Limits: &engine.Registry{
				Limits: map[string]engine.RateLimit{
					"127.0.0.1": {RequestsPerWindow: limit, WindowDuration: time.Minute},
				},
			},
			Timeout: time.Second,
			Logger:  zaptest.NewLogger(t),
		},
		Cache:      cache,
		CacheTTL:   time.Hour,
		BaseURL:    server.URL,
		Collection: "x-mitre-collection--test",
		Logger:     zaptest.NewLogger(t),
	}, cache
}

func TestTechniqueLookup(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v21/collections/x-mitre-collection--test/objects/", r.URL.Path)
		assert.Equal(t, "T1059", r.URL.Query().Get("match[external_id]"))
		assert.Equal(t, taxiiMediaType, r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/taxii+json;version=2.1")
		_, _ = w.Write([]byte(techniqueEnvelope))
	}))
	defer server.Close()

	client, cache := newTestClient(t, server, 10)

	technique, err := client.Technique(context.Background(), " t1059 ")
	require.NoError(t, err)
	require.Equal(t, "T1059", technique.ID)
	require.Equal(t, "Command and Scripting Interpreter", technique.Name)
	require.Equal(t, []string{"execution"}, technique.Tactics)
	require.Equal(t, []string{"Linux", "Windows"}, technique.Platforms)
	require.Equal(t, "https://attack.mitre.org/techniques/T1059", technique.URL)
	require.False(t, technique.Revoked)
	require.False(t, technique.FromCache)
	require.Contains(t, cache.items, "T1059")

	again, err := client.Technique(context.Background(), "T1059")
	require.NoError(t, err)
	require.True(t, again.FromCache)
	require.Equal(t, int32(1), hits.Load())
}

func TestTechniqueInvalidID(t *testing.T) {
	client := &Client{Fetcher: &fetch.Fetcher{}}

	for _, id := range []string{"", "1059", "T105", "T1059.1", "T1059;DROP"} {
		_, err := client.Technique(context.Background(), id)
		require.ErrorIs(t, err, ErrInvalidID, id)
	}

	id, err := NormalizeID("t1059.001")
	require.NoError(t, err)
	require.Equal(t, "T1059.001", id)
}

func TestTechniqueNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/taxii+json;version=2.1")
		_, _ = w.Write([]byte(`{"more": false}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 10)
	_, err := client.Technique(context.Background(), "T9999")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTechniqueRejectsHTMLResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client, cache := newTestClient(t, server, 10)
	_, err := client.Technique(context.Background(), "T1059")
	require.Equal(t, fetch.KindInvalidContentType, fetch.Kind(err))
	require.Empty(t, cache.items)
}

func TestTechniqueRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/taxii+json;version=2.1")
		_, _ = w.Write([]byte(techniqueEnvelope))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 1)
	client.Cache = nil

	_, err := client.Technique(context.Background(), "T1059")
	require.NoError(t, err)

	_, err = client.Technique(context.Background(), "T1059")
	require.Equal(t, fetch.KindRateLimited, fetch.Kind(err))
	require.True(t, fetch.Retryable(err))
}
