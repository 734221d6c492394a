package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	baseScore        = 10.0
	recencyWeight    = 34.0
	recencyHalfLife  = 20.0
	frequencyPerRef  = 3.0
	frequencyCap     = 22.0
	pinnedBoost      = 18.0
	likedBoost       = 9.0
	dislikedPenalty  = -18.0
	hiddenPenalty    = -30.0
	forgottenPenalty = -100.0

	// missingTimestampDays is the age assumed for items with no usable timestamp.
	missingTimestampDays = 365.0
)

var (
	mixingVocabulary = regexp.MustCompile(`mix|master|lufs|audio|song|track`)
	codeVocabulary   = regexp.MustCompile(`code|error|build|bug|repo|stack`)
)

// Engine scores and ranks vault items. It never persists anything; every
// operation returns updated copies.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an engine on the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates an engine reading time from now.
func NewEngineWithClock(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// DaysSince returns how many days ago the item was last touched.
func (e *Engine) DaysSince(item VaultItem) float64 {
	t := item.lastTouched()
	if t.IsZero() {
		return missingTimestampDays
	}
	days := e.now().Sub(t).Hours() / 24
	return math.Max(0, days)
}

// IntentMatchBoost rewards items that fit the primary intent. An empty intent
// contributes nothing.
func IntentMatchBoost(item VaultItem, intentPrimary string) float64 {
	if intentPrimary == "" {
		return 0
	}

	intentName := strings.ToLower(intentPrimary)
	haystack := strings.ToLower(item.SummaryText) + " " + strings.ToLower(strings.Join(item.Tags, " "))
	itemType := Type(strings.ToLower(string(item.Type)))
	if itemType == "" {
		itemType = Other
	}

	switch intentName {
	case "music/audio":
		if itemType == Audio || itemType == Video || mixingVocabulary.MatchString(haystack) {
			return 14
		}
	case "coding/dev":
		if itemType == Text && codeVocabulary.MatchString(haystack) {
			return 12
		}
	case "memory_recall":
		return 10
	}
	return 4
}

// ComputeScore returns the relevance score of an item in [0,100].
func (e *Engine) ComputeScore(item VaultItem, intentPrimary string) float64 {
	recency := math.Max(0, recencyWeight*math.Exp(-e.DaysSince(item)/recencyHalfLife))
	frequency := math.Min(frequencyCap, float64(item.ReferenceCount)*frequencyPerRef)

	score := baseScore + recency + frequency
	if item.Pinned {
		score += pinnedBoost
	}
	switch item.UserSignal {
	case SignalLiked:
		score += likedBoost
	case SignalDisliked:
		score += dislikedPenalty
	}
	if item.Hidden {
		score += hiddenPenalty
	}
	if item.Forget {
		score += forgottenPenalty
	}
	score += IntentMatchBoost(item, intentPrimary)

	return clampScore(score)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Rank returns copies of items with refreshed scores, highest first.
func (e *Engine) Rank(items []VaultItem, intentPrimary string) []VaultItem {
	out := make([]VaultItem, 0, len(items))
	for _, item := range items {
		next := item.Clone()
		next.Score = e.ComputeScore(next, intentPrimary)
		out = append(out, next)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ApplyReference records one more use of the item.
func (e *Engine) ApplyReference(item VaultItem) VaultItem {
	next := item.Clone()
	if next.ReferenceCount < 0 {
		next.ReferenceCount = 0
	}
	next.ReferenceCount++
	next.UpdatedAt = e.now()
	next.Score = e.ComputeScore(next, "")
	return next
}

// ApplyFeedback stores the user's verdict on the item.
func (e *Engine) ApplyFeedback(item VaultItem, kind FeedbackKind) VaultItem {
	next := item.Clone()
	switch kind {
	case FeedbackPositive:
		next.UserSignal = SignalLiked
	case FeedbackNegative:
		next.UserSignal = SignalDisliked
	}
	next.UpdatedAt = e.now()
	next.Score = e.ComputeScore(next, "")
	return next
}
