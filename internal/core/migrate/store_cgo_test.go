//go:build cgo

package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskledger/riskledger/internal/config"
	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), config.StoreConfig{
		Driver: "libsql",
		Path:   filepath.Join(t.TempDir(), "riskledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func insert(t *testing.T, s *store.Store, collection core.Collection, id string, body map[string]any) {
	t.Helper()
	require.NoError(t, s.InsertDocument(context.Background(), &core.Document{
		Collection: collection,
		ID:         id,
		Body:       body,
	}))
}

func TestSelectorsAgreeWithDetection(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	insert(t, s, core.CollectionUsers, "u1", map[string]any{"roles": []any{"admin"}})
	insert(t, s, core.CollectionUsers, "u2", map[string]any{"role": "auditor"})
	insert(t, s, core.CollectionUsers, "u3", map[string]any{})

	insert(t, s, core.CollectionRisks, "r1", map[string]any{"currentControls": "a, b ,c"})
	insert(t, s, core.CollectionRisks, "r2", map[string]any{"currentControls": []any{}})

	insert(t, s, core.CollectionThirdParties, "t1", map[string]any{"riskId": "r1"})

	insert(t, s, core.CollectionWorkshops, "w1", map[string]any{"meetingMinutes": map[string]any{"items": []any{"r1"}}})
	insert(t, s, core.CollectionWorkshops, "w2", map[string]any{"meetingMinutes": map[string]any{
		"items": []any{map[string]any{"riskId": "r1", "actions": []any{}}},
	}})
	insert(t, s, core.CollectionWorkshops, "w3", map[string]any{"title": "no minutes"})

	m := &Migrator{Store: s, Runs: s}
	for _, mig := range Builtin() {
		verify, err := m.Verify(ctx, mig)
		require.NoError(t, err, mig.Name)
		assert.Equal(t, verify.Scanned-verify.Bucket(ShapeCanonical).Count, verify.Pending, mig.Name)
	}
}

func TestRunAgainstStore(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	insert(t, s, core.CollectionWorkshops, "w1", map[string]any{"title": "Q1"})
	insert(t, s, core.CollectionWorkshops, "w2", map[string]any{
		"title":          "Q2",
		"meetingMinutes": map[string]any{"notes": "kept", "items": []any{"r1", "r2"}},
	})

	m := &Migrator{Store: s, Runs: s, BatchSize: 1}
	report, err := m.Run(ctx, WorkshopsMinutesItems, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Defaulted)

	w1, err := s.GetDocument(ctx, core.CollectionWorkshops, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Q1", w1.Body["title"])
	assert.Equal(t, map[string]any{"items": []any{}}, w1.Body["meetingMinutes"])

	w2, err := s.GetDocument(ctx, core.CollectionWorkshops, "w2")
	require.NoError(t, err)
	minutes := w2.Body["meetingMinutes"].(map[string]any)
	assert.Equal(t, "kept", minutes["notes"])
	assert.Len(t, minutes["items"], 2)

	again, err := m.Run(ctx, WorkshopsMinutesItems, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Updated)
	assert.Equal(t, 2, again.Skipped)

	pending, err := m.Pending(ctx, WorkshopsMinutesItems)
	require.NoError(t, err)
	assert.Zero(t, pending)

	runs, err := s.ListMigrationRuns(ctx, WorkshopsMinutesItems.Name, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Updated+runs[1].Updated)
	assert.Equal(t, 2, runs[0].Skipped+runs[1].Skipped)
}
