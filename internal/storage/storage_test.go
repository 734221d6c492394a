package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/personality"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "store", "aifred.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aifred.db")
	db, err := Open(path)
	require.NoError(t, err)

	v, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Ping())
	require.NoError(t, db.Close())

	// reopening an up-to-date database is a no-op
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err = db.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestHistoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	empty, err := db.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	entries := []conversation.Entry{
		{Role: conversation.RoleUser, Content: "what time is it", Intent: "general", TS: 1000},
		{Role: conversation.RoleAssistant, TS: 1001, ToolCalls: []llm.ToolCall{
			{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "get_current_time", Arguments: "{}"}},
		}},
		{Role: conversation.RoleTool, Content: `{"timezone":"UTC"}`, ToolCallID: "call_1", TS: 1002},
		{Role: conversation.RoleAssistant, Content: "It is noon.", TS: 1003},
	}
	require.NoError(t, db.SaveHistory(ctx, entries))

	got, err := db.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	// saving replaces rather than appends
	require.NoError(t, db.SaveHistory(ctx, entries[3:]))
	got, err = db.LoadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "It is noon.", got[0].Content)
}

func TestVaultIndexKeepsOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	items := []memory.VaultItem{
		{ID: "b", Type: memory.Text, Filename: "b.txt", Tags: []string{"notes"}, SummaryText: "beta", Score: 40, CreatedAt: now, UpdatedAt: now},
		{ID: "a", Type: memory.Audio, Filename: "a.wav", Tags: []string{}, Hidden: true, UserSignal: memory.SignalDisliked, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, db.SaveVaultIndex(ctx, items))

	got, err := db.LoadVaultIndex(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.True(t, got[1].Hidden)
	assert.Equal(t, memory.SignalDisliked, got[1].UserSignal)
	assert.True(t, now.Equal(got[0].UpdatedAt))

	require.NoError(t, db.SaveVaultIndex(ctx, nil))
	got, err = db.LoadVaultIndex(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestProfileAndSessionState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p, err := db.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	s, err := db.LoadSessionState(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	profile := personality.DefaultProfile(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "UTC")
	require.NoError(t, db.SaveProfile(ctx, profile))
	p, err = db.LoadProfile(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, profile.Version, p.Version)
	assert.True(t, profile.CreatedAt.Equal(p.CreatedAt))

	state := conversation.DefaultSessionState()
	state.MemorySummary = "earlier talk"
	state.LastIntent = &conversation.LastIntent{Name: "coding/dev", Confidence: 0.6}
	state.LastRetrievedIDs = []string{"a"}
	require.NoError(t, db.SaveSessionState(ctx, state))

	// second save overwrites the same key
	state.MemorySummary = "later talk"
	require.NoError(t, db.SaveSessionState(ctx, state))

	s, err = db.LoadSessionState(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "later talk", s.MemorySummary)
	assert.Equal(t, "coding/dev", s.LastIntent.Name)
	assert.Equal(t, []string{"a"}, s.LastRetrievedIDs)

	require.NoError(t, db.SaveProfile(ctx, nil))
	p, err = db.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestTurnStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	stats, err := db.TurnStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	turns := []metrics.Turn{
		{Token: 1, Route: "cloud", Model: "gpt-4o-mini", Outcome: metrics.OutcomeDone, Duration: 200 * time.Millisecond, FinishedAt: base},
		{Token: 2, Route: "cloud", Model: "gpt-4o-mini", ToolRounds: 2, Outcome: metrics.OutcomeDone, Duration: 400 * time.Millisecond, FinishedAt: base.Add(time.Minute)},
		{Token: 3, Route: "local", Model: "llama3", Outcome: metrics.OutcomeFailed, ErrorKind: "NETWORK_FAILURE", Duration: 600 * time.Millisecond, FinishedAt: base.Add(2 * time.Minute)},
	}
	for _, turn := range turns {
		require.NoError(t, db.InsertTurnMetric(ctx, turn))
	}

	stats, err = db.TurnStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByOutcome["done"])
	assert.Equal(t, 1, stats.ByOutcome["failed"])
	assert.Equal(t, 2, stats.ByRoute["cloud"])
	assert.InDelta(t, 400, stats.AvgDurationMs, 1e-9)

	recent, err := db.TurnStats(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, recent.Total)
	assert.Equal(t, 1, recent.ByRoute["local"])
}

func TestStoreSatisfiesMetricsSink(t *testing.T) {
	var _ metrics.Sink = openTestDB(t)
}

func TestIntegrityCheck(t *testing.T) {
	db := openTestDB(t)
	result, err := db.IntegrityCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
