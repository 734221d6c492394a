package personality

import (
	"regexp"
	"strings"
	"time"
)

// ProfileVersion is the schema version written with every profile.
const ProfileVersion = 1

const (
	maxProjects = 20
	maxTools    = 30
	topicDecay  = 0.985
	topicGain   = 0.2
)

// Preferences are the user-level settings learned from conversation.
type Preferences struct {
	Tone              Vector `json:"tone"`
	Units             string `json:"units"`
	Timezone          string `json:"timezone"`
	MusicFeedbackMode string `json:"music_feedback_mode"`
}

// Topics tracks a decaying interest score per subject area.
type Topics struct {
	Audio         float64 `json:"audio"`
	Coding        float64 `json:"coding"`
	Planning      float64 `json:"planning"`
	LegalBusiness float64 `json:"legal_business"`
	FileOps       float64 `json:"file_ops"`
	Memory        float64 `json:"memory"`
}

// Entities are names the user mentioned explicitly.
type Entities struct {
	Projects []string `json:"projects"`
	Tools    []string `json:"tools"`
}

// Profile is the persistent user model.
type Profile struct {
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Preferences Preferences `json:"preferences"`
	Topics      Topics      `json:"topics"`
	Entities    Entities    `json:"entities"`
}

// TopicWeights carries the intent weights that feed topic interest.
type TopicWeights struct {
	MusicAudio    float64
	CodingDev     float64
	Planning      float64
	LegalBusiness float64
	FileOps       float64
	MemoryRecall  float64
}

var (
	imperialPattern   = regexp.MustCompile(`(?i)\b(imperial|fahrenheit|miles|feet|lbs)\b`)
	metricPattern     = regexp.MustCompile(`(?i)\b(metric|celsius|kilometers|meters|kg)\b`)
	casualModePattern = regexp.MustCompile(`(?i)\bcasual feedback|chill feedback\b`)
	proModePattern    = regexp.MustCompile(`(?i)\bpro feedback|technical feedback\b`)
	projectPattern    = regexp.MustCompile(`(?i)\b(project|repo|app)\s*[:=-]\s*([A-Za-z0-9._-]{2,})`)
	toolPattern       = regexp.MustCompile(`(?i)\b(tool|using|with)\s*[:=-]\s*([A-Za-z0-9._ -]{2,})`)
)

// DefaultProfile returns an empty profile stamped at now.
func DefaultProfile(now time.Time, timezone string) *Profile {
	if timezone == "" {
		timezone = "UTC"
	}
	return &Profile{
		Version:   ProfileVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Preferences: Preferences{
			Tone:              Default,
			Units:             "metric",
			Timezone:          timezone,
			MusicFeedbackMode: "pro",
		},
		Entities: Entities{Projects: []string{}, Tools: []string{}},
	}
}

// SanitizeProfile fills missing fields from the defaults and clamps topics.
// A nil input yields a default profile.
func SanitizeProfile(p *Profile, now time.Time, timezone string) *Profile {
	base := DefaultProfile(now, timezone)
	if p == nil {
		return base
	}

	out := *p
	if out.Version == 0 {
		out.Version = ProfileVersion
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = base.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = base.UpdatedAt
	}
	out.Preferences.Tone = Normalize(out.Preferences.Tone)
	if out.Preferences.Units != "metric" && out.Preferences.Units != "imperial" {
		out.Preferences.Units = base.Preferences.Units
	}
	if out.Preferences.Timezone == "" {
		out.Preferences.Timezone = base.Preferences.Timezone
	}
	if out.Preferences.MusicFeedbackMode != "pro" && out.Preferences.MusicFeedbackMode != "casual" {
		out.Preferences.MusicFeedbackMode = base.Preferences.MusicFeedbackMode
	}
	out.Topics = clampTopics(out.Topics)
	out.Entities = Entities{
		Projects: nonEmpty(p.Entities.Projects),
		Tools:    nonEmpty(p.Entities.Tools),
	}
	return &out
}

// UpdateFromInteraction folds one user turn into the profile and returns the
// updated copy.
func UpdateFromInteraction(p *Profile, weights TopicWeights, tone Vector, userText string, now time.Time) *Profile {
	out := SanitizeProfile(p, now, "")
	out.UpdatedAt = now
	out.Preferences.Tone = Normalize(tone)

	t := &out.Topics
	t.Audio = decay(t.Audio) + clamp01(weights.MusicAudio)*topicGain
	t.Coding = decay(t.Coding) + clamp01(weights.CodingDev)*topicGain
	t.Planning = decay(t.Planning) + clamp01(weights.Planning)*topicGain
	t.LegalBusiness = decay(t.LegalBusiness) + clamp01(weights.LegalBusiness)*topicGain
	t.FileOps = decay(t.FileOps) + clamp01(weights.FileOps)*topicGain
	t.Memory = decay(t.Memory) + clamp01(weights.MemoryRecall)*topicGain

	if imperialPattern.MatchString(userText) {
		out.Preferences.Units = "imperial"
	}
	if metricPattern.MatchString(userText) {
		out.Preferences.Units = "metric"
	}
	if casualModePattern.MatchString(userText) {
		out.Preferences.MusicFeedbackMode = "casual"
	}
	if proModePattern.MatchString(userText) {
		out.Preferences.MusicFeedbackMode = "pro"
	}

	if m := projectPattern.FindStringSubmatch(userText); m != nil {
		out.Entities.Projects = uniquePush(out.Entities.Projects, m[2], maxProjects)
	}
	if m := toolPattern.FindStringSubmatch(userText); m != nil {
		out.Entities.Tools = uniquePush(out.Entities.Tools, m[2], maxTools)
	}

	out.Topics = clampTopics(out.Topics)
	return out
}

func decay(v float64) float64 {
	return clamp01(v * topicDecay)
}

func clampTopics(t Topics) Topics {
	return Topics{
		Audio:         clamp01(t.Audio),
		Coding:        clamp01(t.Coding),
		Planning:      clamp01(t.Planning),
		LegalBusiness: clamp01(t.LegalBusiness),
		FileOps:       clamp01(t.FileOps),
		Memory:        clamp01(t.Memory),
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// uniquePush appends value when new and evicts the oldest entries past max.
func uniquePush(list []string, value string, max int) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	out := append([]string(nil), list...)
	found := false
	for _, existing := range out {
		if existing == value {
			found = true
			break
		}
	}
	if !found {
		out = append(out, value)
	}
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
