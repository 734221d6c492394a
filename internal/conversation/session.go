package conversation

import (
	"strings"

	"github.com/a-marczewski/aifred/internal/personality"
)

// LastIntent is the primary intent of the previous user turn.
type LastIntent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// SessionState is the per-user conversation state persisted between runs.
type SessionState struct {
	MemorySummary      string                 `json:"memorySummary"`
	Style              personality.StylePrefs `json:"stylePrefs"`
	LastIntent         *LastIntent            `json:"lastIntent,omitempty"`
	Personality        personality.Vector     `json:"personalityVector"`
	PersonalityEnabled bool                   `json:"personalityEnabled"`
	LastRetrievedIDs   []string               `json:"lastRetrievedVaultIds,omitempty"`
}

// DefaultSessionState returns a fresh state with adaptive personality on.
func DefaultSessionState() SessionState {
	return SessionState{
		Style:              personality.DefaultStyle,
		Personality:        personality.Default,
		PersonalityEnabled: true,
	}
}

// Sanitize brings every field of a loaded state into its valid range.
func (s SessionState) Sanitize() SessionState {
	out := s
	out.MemorySummary = trimSummary(s.MemorySummary)
	out.Style = personality.NormalizeStyle(s.Style)
	out.Personality = personality.Normalize(s.Personality)
	if s.LastIntent != nil {
		li := *s.LastIntent
		li.Name = strings.TrimSpace(li.Name)
		if li.Name == "" {
			out.LastIntent = nil
		} else {
			out.LastIntent = &li
		}
	}
	ids := make([]string, 0, len(s.LastRetrievedIDs))
	for _, id := range s.LastRetrievedIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	out.LastRetrievedIDs = ids
	return out
}
