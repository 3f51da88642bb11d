package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/store"
)

// memoryStore is a DocumentStore over JSON-encoded bodies so every read
// returns a fresh copy, like the real store.
type memoryStore struct {
	mu      sync.Mutex
	docs    map[string]storedDoc
	clock   time.Time
	failOn  map[string]error
	listErr error
	writes  int
	// beforeUpdate runs before each write; tests use it to race the migrator.
	beforeUpdate func(id string)
}

type storedDoc struct {
	collection core.Collection
	body       []byte
	updatedAt  time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:   make(map[string]storedDoc),
		clock:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		failOn: make(map[string]error),
	}
}

func (m *memoryStore) put(collection core.Collection, id string, body map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	encoded, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	m.clock = m.clock.Add(time.Second)
	m.docs[id] = storedDoc{collection: collection, body: encoded, updatedAt: m.clock}
}

func (m *memoryStore) raw(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.docs[id].body)
}

func (m *memoryStore) updatedAt(id string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].updatedAt
}

func (m *memoryStore) body(id string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(m.raw(id)), &out); err != nil {
		panic(err)
	}
	return out
}

func (m *memoryStore) ListDocuments(ctx context.Context, q store.DocumentQuery) ([]core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	ids := make([]string, 0, len(m.docs))
	for id, doc := range m.docs {
		if doc.collection == q.Collection && id > q.AfterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}

	out := make([]core.Document, 0, len(ids))
	for _, id := range ids {
		doc := m.docs[id]
		var body map[string]any
		if err := json.Unmarshal(doc.body, &body); err != nil {
			return nil, err
		}
		out = append(out, core.Document{Collection: doc.collection, ID: id, Body: body, UpdatedAt: doc.updatedAt})
	}
	return out, nil
}

func (m *memoryStore) UpdateDocumentField(ctx context.Context, collection core.Collection, id, path string, value any, expectedUpdatedAt time.Time) (time.Time, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn[id]; err != nil {
		return time.Time{}, err
	}
	doc, ok := m.docs[id]
	if !ok || doc.collection != collection {
		return time.Time{}, store.ErrNotFound
	}
	if !doc.updatedAt.Equal(expectedUpdatedAt) {
		return time.Time{}, store.ErrStale
	}

	var body map[string]any
	if err := json.Unmarshal(doc.body, &body); err != nil {
		return time.Time{}, err
	}
	keys := strings.Split(strings.TrimPrefix(path, "$."), ".")
	target := body
	for _, key := range keys[:len(keys)-1] {
		next, ok := target[key].(map[string]any)
		if !ok {
			return time.Time{}, fmt.Errorf("missing parent %q", key)
		}
		target = next
	}
	target[keys[len(keys)-1]] = value

	encoded, err := json.Marshal(body)
	if err != nil {
		return time.Time{}, err
	}
	m.clock = m.clock.Add(time.Second)
	doc.body = encoded
	doc.updatedAt = m.clock
	m.docs[id] = doc
	m.writes++
	return m.clock, nil
}

func (m *memoryStore) CountMatching(ctx context.Context, collection core.Collection, predicate string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, doc := range m.docs {
		if doc.collection == collection {
			count++
		}
	}
	return count, nil
}

type recordedRuns struct {
	runs []*core.MigrationRun
}

func (r *recordedRuns) RecordMigrationRun(ctx context.Context, run *core.MigrationRun) error {
	r.runs = append(r.runs, run)
	return nil
}
