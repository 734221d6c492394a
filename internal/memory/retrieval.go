package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/a-marczewski/aifred/internal/intent"
)

const (
	keywordWeight     = 18.0
	recentBonusDays   = 12.0
	defaultRetrieve   = 3
	expandedRetrieve  = 5
	expandedThreshold = 0.25
	searchLimit       = 12
)

// Retrieved is a vault item chosen as context for a turn, with the parts of
// its ranking key.
type Retrieved struct {
	Item         VaultItem
	Combined     float64
	KeywordScore int
	RecentBonus  float64
	MemoryScore  float64
}

func queryTokens(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func haystack(item VaultItem) string {
	return strings.ToLower(item.Filename + " " + strings.Join(item.Tags, " ") + " " + item.SummaryText)
}

// RetrieveLimit is how many items a turn may pull into context.
func RetrieveLimit(sig intent.Signal) int {
	if sig.Weights.Get(intent.MemoryRecall) > expandedThreshold || sig.Weights.Get(intent.FileOps) > expandedThreshold {
		return expandedRetrieve
	}
	return defaultRetrieve
}

// Retrieve picks the vault items most relevant to query. Hidden items and
// items without a summary are never returned.
func (e *Engine) Retrieve(items []VaultItem, query string, sig intent.Signal) []Retrieved {
	tokens := queryTokens(query)
	primary := sig.Primary.Label.String()

	ranked := make([]Retrieved, 0, len(items))
	for _, item := range items {
		if item.Hidden {
			continue
		}
		hay := haystack(item)
		keyword := 0
		for _, tok := range tokens {
			if strings.Contains(hay, tok) {
				keyword++
			}
		}
		recent := math.Max(0, recentBonusDays-e.DaysSince(item))
		score := e.ComputeScore(item, primary)

		ranked = append(ranked, Retrieved{
			Item:         item.Clone(),
			Combined:     float64(keyword)*keywordWeight + recent + score,
			KeywordScore: keyword,
			RecentBonus:  recent,
			MemoryScore:  score,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Combined > ranked[j].Combined
	})

	limit := RetrieveLimit(sig)
	out := make([]Retrieved, 0, limit)
	for _, r := range ranked {
		if r.Item.SummaryText == "" {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Search returns visible items containing every query token, best first.
// An empty query ranks all visible items.
func (e *Engine) Search(items []VaultItem, query, intentPrimary string) []VaultItem {
	tokens := queryTokens(query)

	matched := make([]VaultItem, 0, len(items))
	for _, item := range items {
		if item.Hidden {
			continue
		}
		hay := haystack(item)
		all := true
		for _, tok := range tokens {
			if !strings.Contains(hay, tok) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, item)
		}
	}

	ranked := e.Rank(matched, intentPrimary)
	if len(ranked) > searchLimit {
		ranked = ranked[:searchLimit]
	}
	return ranked
}

var (
	positivePattern = regexp.MustCompile(`\b(that'?s right|exactly|correct|yes that)\b`)
	negativePattern = regexp.MustCompile(`\b(no|wrong|not right|incorrect)\b`)
	forgetPattern   = regexp.MustCompile(`\b(forget this|don't use this|do not use this|stop using this)\b`)
)

// FeedbackFromText reads retrieval feedback from the next user message.
// ok is false when the message carries no feedback at all.
func FeedbackFromText(text string) (kind FeedbackKind, forget bool, ok bool) {
	lower := strings.ToLower(text)
	forget = forgetPattern.MatchString(lower)
	switch {
	case positivePattern.MatchString(lower):
		kind = FeedbackPositive
	case negativePattern.MatchString(lower):
		kind = FeedbackNegative
	}
	if kind == "" && !forget {
		return "", false, false
	}
	if kind == "" {
		kind = FeedbackNegative
	}
	return kind, forget, true
}

// ApplyRetrievalFeedback applies feedback in text to the items whose ids were
// retrieved on the previous turn. It returns the changed items only.
func (e *Engine) ApplyRetrievalFeedback(items []VaultItem, retrievedIDs []string, text string) []VaultItem {
	if len(retrievedIDs) == 0 {
		return nil
	}
	kind, forget, ok := FeedbackFromText(text)
	if !ok {
		return nil
	}

	byID := make(map[string]VaultItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var changed []VaultItem
	for _, id := range retrievedIDs {
		item, found := byID[id]
		if !found {
			continue
		}
		next := e.ApplyFeedback(item, kind)
		if forget {
			next.Hidden = true
		}
		changed = append(changed, next)
	}
	return changed
}
