package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-marczewski/aifred/internal/intent"
)

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngineWithClock(func() time.Time { return fixedNow })
}

func daysAgo(d float64) time.Time {
	return fixedNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

func TestComputeScoreFreshItem(t *testing.T) {
	e := testEngine()
	item := VaultItem{ID: "a", Type: Text, UpdatedAt: fixedNow}

	assert.InDelta(t, 10+34, e.ComputeScore(item, ""), 1e-9)
	assert.InDelta(t, 10+34+4, e.ComputeScore(item, "general"), 1e-9)
	assert.InDelta(t, 10+34+10, e.ComputeScore(item, "memory_recall"), 1e-9)
}

func TestComputeScoreMissingTimestamp(t *testing.T) {
	e := testEngine()
	item := VaultItem{ID: "a"}
	expected := 10 + 34*math.Exp(-365.0/20)
	assert.InDelta(t, expected, e.ComputeScore(item, ""), 1e-9)
}

func TestComputeScoreClamps(t *testing.T) {
	e := testEngine()

	high := VaultItem{UpdatedAt: fixedNow, ReferenceCount: 100, Pinned: true, UserSignal: SignalLiked, Type: Audio}
	assert.Equal(t, 100.0, e.ComputeScore(high, "music/audio"))

	low := VaultItem{UpdatedAt: fixedNow, Forget: true, Hidden: true, UserSignal: SignalDisliked}
	assert.Equal(t, 0.0, e.ComputeScore(low, "general"))
}

func TestComputeScoreMonotonicInAge(t *testing.T) {
	e := testEngine()
	prev := math.Inf(1)
	for d := 0.0; d <= 400; d += 2.5 {
		s := e.ComputeScore(VaultItem{UpdatedAt: daysAgo(d), ReferenceCount: 2}, "general")
		assert.LessOrEqual(t, s, prev, "day %v", d)
		prev = s
	}
}

func TestComputeScoreMonotonicInReferences(t *testing.T) {
	e := testEngine()
	prev := -1.0
	for refs := 0; refs <= 12; refs++ {
		s := e.ComputeScore(VaultItem{UpdatedAt: daysAgo(30), ReferenceCount: refs}, "general")
		assert.GreaterOrEqual(t, s, prev, "refs %d", refs)
		prev = s
	}
	capped := e.ComputeScore(VaultItem{UpdatedAt: daysAgo(30), ReferenceCount: 8}, "general")
	assert.Equal(t, capped, prev)
}

func TestIntentMatchBoost(t *testing.T) {
	tests := []struct {
		name   string
		item   VaultItem
		intent string
		want   float64
	}{
		{"no intent", VaultItem{Type: Audio}, "", 0},
		{"audio type", VaultItem{Type: Audio}, "music/audio", 14},
		{"mix vocabulary", VaultItem{Type: Text, SummaryText: "Notes on the final Mix"}, "music/audio", 14},
		{"music miss", VaultItem{Type: Text, SummaryText: "grocery list"}, "music/audio", 4},
		{"code text", VaultItem{Type: Text, Tags: []string{"repo"}}, "coding/dev", 12},
		{"code on image", VaultItem{Type: Image, Tags: []string{"repo"}}, "coding/dev", 4},
		{"recall", VaultItem{Type: PDF}, "memory_recall", 10},
		{"planning", VaultItem{Type: Text}, "planning", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IntentMatchBoost(tt.item, tt.intent))
		})
	}
}

func TestRankSortsDescendingWithoutMutation(t *testing.T) {
	e := testEngine()
	items := []VaultItem{
		{ID: "old", UpdatedAt: daysAgo(100), Tags: []string{"x"}},
		{ID: "pinned", UpdatedAt: daysAgo(100), Pinned: true},
		{ID: "new", UpdatedAt: fixedNow},
	}

	ranked := e.Rank(items, "general")
	require.Len(t, ranked, 3)
	assert.Equal(t, "new", ranked[0].ID)
	assert.Equal(t, "pinned", ranked[1].ID)
	assert.Equal(t, "old", ranked[2].ID)
	assert.Zero(t, items[0].Score)

	ranked[2].Tags[0] = "changed"
	assert.Equal(t, "x", items[0].Tags[0])
}

func TestApplyReference(t *testing.T) {
	e := testEngine()
	item := VaultItem{ID: "a", UpdatedAt: daysAgo(40), ReferenceCount: 2}

	next := e.ApplyReference(item)
	assert.Equal(t, 3, next.ReferenceCount)
	assert.Equal(t, fixedNow, next.UpdatedAt)
	assert.InDelta(t, 10+34+9, next.Score, 1e-9)
	assert.Equal(t, 2, item.ReferenceCount)
}

func TestApplyFeedback(t *testing.T) {
	e := testEngine()
	item := VaultItem{ID: "a", UpdatedAt: fixedNow}

	liked := e.ApplyFeedback(item, FeedbackPositive)
	assert.Equal(t, SignalLiked, liked.UserSignal)
	assert.InDelta(t, 10+34+9, liked.Score, 1e-9)

	disliked := e.ApplyFeedback(item, FeedbackNegative)
	assert.Equal(t, SignalDisliked, disliked.UserSignal)
	assert.InDelta(t, 10+34-18, disliked.Score, 1e-9)
	assert.Equal(t, SignalNone, item.UserSignal)
}

func TestRetrieve(t *testing.T) {
	e := testEngine()
	items := []VaultItem{
		{ID: "mix", Filename: "mix-notes.md", Type: Text, SummaryText: "Mix bus compression settings", Tags: []string{"audio"}, UpdatedAt: daysAgo(50)},
		{ID: "tax", Filename: "tax.pdf", Type: PDF, SummaryText: "Tax return 2025", UpdatedAt: fixedNow},
		{ID: "hidden", Filename: "mix.wav", Type: Audio, SummaryText: "mix stem", Hidden: true, UpdatedAt: fixedNow},
		{ID: "nosummary", Filename: "mix.wav", Type: Audio, UpdatedAt: fixedNow},
		{ID: "a", Filename: "a.txt", SummaryText: "alpha", UpdatedAt: daysAgo(200)},
		{ID: "b", Filename: "b.txt", SummaryText: "beta", UpdatedAt: daysAgo(200)},
	}

	sig := intent.Detect("what compression did I use on the mix")
	got := e.Retrieve(items, "what compression did I use on the mix", sig)

	require.Len(t, got, 3)
	assert.Equal(t, "mix", got[0].Item.ID)
	// compression, mix, and the substrings "i" and "on"
	assert.Equal(t, 4, got[0].KeywordScore)
	for _, r := range got {
		assert.NotEqual(t, "hidden", r.Item.ID)
		assert.NotEqual(t, "nosummary", r.Item.ID)
	}
	assert.Equal(t, "tax", got[1].Item.ID)
}

func TestRetrieveLimit(t *testing.T) {
	assert.Equal(t, 5, RetrieveLimit(intent.Detect("remember that file in the vault")))
	assert.Equal(t, 3, RetrieveLimit(intent.Detect("hello")))
}

func TestSearch(t *testing.T) {
	e := testEngine()
	items := []VaultItem{
		{ID: "1", Filename: "song.wav", Tags: []string{"vocal"}, SummaryText: "lead vocal take", UpdatedAt: fixedNow},
		{ID: "2", Filename: "notes.txt", SummaryText: "vocal warmups", UpdatedAt: daysAgo(10)},
		{ID: "3", Filename: "other.txt", SummaryText: "unrelated", UpdatedAt: fixedNow},
		{ID: "4", Filename: "vocal.txt", SummaryText: "vocal lead", Hidden: true, UpdatedAt: fixedNow},
	}

	got := e.Search(items, "Vocal lead", "general")
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	all := e.Search(items, "", "general")
	assert.Len(t, all, 3)
}

func TestFeedbackFromText(t *testing.T) {
	tests := []struct {
		text   string
		kind   FeedbackKind
		forget bool
		ok     bool
	}{
		{"Exactly, thanks", FeedbackPositive, false, true},
		{"that's right", FeedbackPositive, false, true},
		{"No, that is wrong", FeedbackNegative, false, true},
		{"please forget this", FeedbackNegative, true, true},
		{"tell me more", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			kind, forget, ok := FeedbackFromText(tt.text)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.forget, forget)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestApplyRetrievalFeedback(t *testing.T) {
	e := testEngine()
	items := []VaultItem{
		{ID: "a", UpdatedAt: fixedNow},
		{ID: "b", UpdatedAt: fixedNow},
	}

	assert.Nil(t, e.ApplyRetrievalFeedback(items, nil, "exactly"))
	assert.Nil(t, e.ApplyRetrievalFeedback(items, []string{"a"}, "ok go on"))

	changed := e.ApplyRetrievalFeedback(items, []string{"a", "missing"}, "don't use this")
	require.Len(t, changed, 1)
	assert.Equal(t, "a", changed[0].ID)
	assert.True(t, changed[0].Hidden)
	assert.Equal(t, SignalDisliked, changed[0].UserSignal)
}
