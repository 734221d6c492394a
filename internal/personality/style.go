package personality

import (
	"regexp"
	"strings"
)

// Verbosity and tone values understood by the prompt builder.
const (
	VerbosityShort    = "short"
	VerbosityBalanced = "balanced"
	VerbosityDetailed = "detailed"

	ToneFriendly     = "friendly"
	ToneProfessional = "professional"
	ToneBlunt        = "blunt"
)

// StyleBaseline is the fixed stance appended to every system prompt.
const StyleBaseline = "Sharp by default, reassuring, objective"

// StylePrefs are the explicit response-shape preferences.
type StylePrefs struct {
	Verbosity string `json:"verbosity"`
	Tone      string `json:"tone"`
}

// DefaultStyle is balanced and professional.
var DefaultStyle = StylePrefs{Verbosity: VerbosityBalanced, Tone: ToneProfessional}

var (
	shortStyle        = regexp.MustCompile(`\b(short|brief|concise|tl;dr|tldr|one[- ]liner|minimal)\b`)
	detailedStyle     = regexp.MustCompile(`\b(detailed|detail|in[- ]depth|deep dive|thorough|verbose|step[- ]by[- ]step)\b`)
	balancedStyle     = regexp.MustCompile(`\b(balanced|normal length|medium length)\b`)
	friendlyStyle     = regexp.MustCompile(`\b(friendly|casual|warm|chill|conversational)\b`)
	professionalStyle = regexp.MustCompile(`\b(professional|formal|business|objective)\b`)
	bluntStyle        = regexp.MustCompile(`\b(blunt|direct|no fluff|straight to the point)\b`)
)

// NormalizeStyle replaces unknown values with the defaults.
func NormalizeStyle(s StylePrefs) StylePrefs {
	switch s.Verbosity {
	case VerbosityShort, VerbosityBalanced, VerbosityDetailed:
	default:
		s.Verbosity = DefaultStyle.Verbosity
	}
	switch s.Tone {
	case ToneFriendly, ToneProfessional, ToneBlunt:
	default:
		s.Tone = DefaultStyle.Tone
	}
	return s
}

// UpdateStyle applies explicit style requests found in the user text.
func UpdateStyle(current StylePrefs, userText string) (StylePrefs, bool) {
	before := NormalizeStyle(current)
	next := before
	text := strings.ToLower(userText)

	switch {
	case shortStyle.MatchString(text):
		next.Verbosity = VerbosityShort
	case detailedStyle.MatchString(text):
		next.Verbosity = VerbosityDetailed
	case balancedStyle.MatchString(text):
		next.Verbosity = VerbosityBalanced
	}

	switch {
	case friendlyStyle.MatchString(text):
		next.Tone = ToneFriendly
	case professionalStyle.MatchString(text):
		next.Tone = ToneProfessional
	case bluntStyle.MatchString(text):
		next.Tone = ToneBlunt
	}

	return next, next != before
}
