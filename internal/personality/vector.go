package personality

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
)

// Vector holds the adaptive style traits, each within [0,1].
type Vector struct {
	Verbosity    float64 `json:"verbosity"`
	Technicality float64 `json:"technicality"`
	Warmth       float64 `json:"warmth"`
	Directness   float64 `json:"directness"`
	Humor        float64 `json:"humor"`
	RiskAversion float64 `json:"risk_aversion"`
}

// Default is the vector used for new users and explicit resets.
var Default = Vector{
	Verbosity:    0.5,
	Technicality: 0.6,
	Warmth:       0.45,
	Directness:   0.7,
	Humor:        0.15,
	RiskAversion: 0.65,
}

// Feedback is an explicit thumbs signal on the previous answer.
type Feedback string

const (
	FeedbackNone Feedback = ""
	FeedbackUp   Feedback = "up"
	FeedbackDown Feedback = "down"
)

// Signals are the per-turn inputs to UpdateVector.
type Signals struct {
	UserText      string
	FollowupCount int
	Feedback      Feedback
}

type trait int

const (
	verbosity trait = iota
	technicality
	warmth
	directness
	humor
	riskAversion
)

type delta struct {
	trait trait
	value float64
}

type rule struct {
	pattern *regexp.Regexp
	deltas  []delta
}

var rules = []rule{
	{regexp.MustCompile(`\b(short|brief|concise|tldr|tl;dr|one[- ]liner)\b`), []delta{{verbosity, -0.08}, {directness, 0.05}}},
	{regexp.MustCompile(`\b(detailed|more detail|thorough|step[- ]by[- ]step|in depth|deep dive)\b`), []delta{{verbosity, 0.09}, {technicality, 0.04}}},
	{regexp.MustCompile(`\b(stop being technical|less technical|simpler|plain english)\b`), []delta{{technicality, -0.08}, {warmth, 0.03}}},
	{regexp.MustCompile(`\b(be brutal|be direct|straight to the point|no fluff|blunt)\b`), []delta{{directness, 0.1}, {warmth, -0.04}}},
	{regexp.MustCompile(`\b(friendly|supportive|encouraging|warm)\b`), []delta{{warmth, 0.08}, {directness, -0.02}}},
	{regexp.MustCompile(`\b(joke|funny|humor|lighten up)\b`), []delta{{humor, 0.06}}},
	{regexp.MustCompile(`\b(careful|safe|risk|double[- ]check|conservative)\b`), []delta{{riskAversion, 0.06}}},
}

const (
	longMessageChars  = 600
	shortMessageChars = 60
)

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Normalize clamps every trait into [0,1]. Non-finite traits become 0.
func Normalize(v Vector) Vector {
	return Vector{
		Verbosity:    clamp01(v.Verbosity),
		Technicality: clamp01(v.Technicality),
		Warmth:       clamp01(v.Warmth),
		Directness:   clamp01(v.Directness),
		Humor:        clamp01(v.Humor),
		RiskAversion: clamp01(v.RiskAversion),
	}
}

// Reset returns a fresh copy of the default vector.
func Reset() Vector {
	return Default
}

func (v *Vector) field(t trait) *float64 {
	switch t {
	case verbosity:
		return &v.Verbosity
	case technicality:
		return &v.Technicality
	case warmth:
		return &v.Warmth
	case directness:
		return &v.Directness
	case humor:
		return &v.Humor
	default:
		return &v.RiskAversion
	}
}

// apply adds d to the trait and clamps immediately so that later deltas
// never start from an out-of-range value.
func (v *Vector) apply(t trait, d float64) {
	f := v.field(t)
	*f = clamp01(*f + d)
}

// UpdateVector nudges the vector with the signals found in one user turn.
func UpdateVector(current Vector, in Signals) Vector {
	next := Normalize(current)
	text := strings.ToLower(in.UserText)
	length := len([]rune(strings.TrimSpace(in.UserText)))

	for _, r := range rules {
		if !r.pattern.MatchString(text) {
			continue
		}
		for _, d := range r.deltas {
			next.apply(d.trait, d.value)
		}
	}

	if length > longMessageChars {
		next.apply(technicality, 0.03)
		next.apply(verbosity, 0.02)
	} else if length > 0 && length < shortMessageChars {
		next.apply(verbosity, -0.02)
		next.apply(directness, 0.01)
	}

	if in.FollowupCount > 0 {
		next.apply(technicality, math.Min(0.05, float64(in.FollowupCount)*0.01))
	}

	switch in.Feedback {
	case FeedbackUp:
		next.apply(warmth, 0.02)
		next.apply(riskAversion, 0.01)
	case FeedbackDown:
		next.apply(directness, 0.02)
		next.apply(verbosity, -0.01)
	}

	return next
}

// BuildPrompt renders the vector as a system directive.
func BuildPrompt(v Vector) string {
	data, err := json.Marshal(Normalize(v))
	if err != nil {
		data = []byte("{}")
	}
	return "Personality profile: " + string(data) +
		". Instruction: match these traits in response style while preserving factual accuracy."
}

// CountRecentFollowups counts user turns among the last eight roles.
func CountRecentFollowups(roles []string) int {
	if len(roles) > 8 {
		roles = roles[len(roles)-8:]
	}
	n := 0
	for _, r := range roles {
		if r == "user" {
			n++
		}
	}
	return n
}
