package orchestrator

import (
	"math"
	"strconv"
	"strings"

	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/intent"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/personality"
)

const identityLine = "You are AIFRED, a real-time chatbot assistant."

const (
	templateTechnical = "Template directive: Goal -> Steps -> Notes/Pitfalls -> Next action. Keep it concrete and execution-oriented."
	templateExplain   = "Template directive: Concept -> Example -> Common mistake -> Quick check. Teach clearly without filler."
	templateMusic     = "Template directive: What you're hearing -> Why -> Do this next -> Avoid. Focus on actionable mix decisions."
	templateGeneral   = "Template directive: concise answer with one practical next action."
)

// PromptInput is everything the dynamic system prompt depends on.
type PromptInput struct {
	Style      personality.StylePrefs
	Signal     intent.Signal
	LastIntent *conversation.LastIntent
	Mobile     bool
}

func verbosityDirective(v string) string {
	switch v {
	case personality.VerbosityShort:
		return "Keep responses compact. Prefer <= 120 words unless accuracy requires more."
	case personality.VerbosityDetailed:
		return "Use richer detail, include rationale and implementation caveats."
	default:
		return "Keep responses balanced: concise but complete."
	}
}

func toneDirective(t string) string {
	switch t {
	case personality.ToneFriendly:
		return "Use a friendly, grounded tone without losing precision."
	case personality.ToneBlunt:
		return "Use direct, blunt phrasing with minimal fluff."
	default:
		return "Use professional, objective phrasing."
	}
}

// templateDirective picks the answer layout from the intent weights.
func templateDirective(w intent.Weights) string {
	technical := w.Get(intent.CodingDev) + w.Get(intent.Troubleshooting)
	music := w.Get(intent.MusicAudio)
	explain := w.Get(intent.Planning)

	switch {
	case technical >= math.Max(music, explain):
		return templateTechnical
	case music >= math.Max(technical, explain):
		return templateMusic
	case explain >= 0.3:
		return templateExplain
	default:
		return templateGeneral
	}
}

// SystemPrompt builds the leading system message of a turn.
func SystemPrompt(in PromptInput) string {
	style := personality.NormalizeStyle(in.Style)

	parts := []string{
		identityLine,
		personality.StyleBaseline,
		verbosityDirective(style.Verbosity),
		toneDirective(style.Tone),
		templateDirective(in.Signal.Weights),
		"Current primary intent: " + in.Signal.Primary.Label.String() + ".",
	}
	if in.LastIntent != nil {
		conf := strconv.FormatFloat(math.Round(in.LastIntent.Confidence*100)/100, 'f', -1, 64)
		parts = append(parts, "Last detected intent: "+in.LastIntent.Name+" ("+conf+").")
	}
	if in.Mobile {
		parts = append(parts, "Platform: Mobile. Desktop-only local operations are unavailable.")
	} else {
		parts = append(parts, "Platform: Desktop. Local tools require explicit confirmation before execution.")
	}
	parts = append(parts,
		"Use available tools when they improve factual accuracy. If tools are unavailable, continue with a direct answer.",
		"If a tool call returns an error, recover gracefully and still provide a useful next action.",
	)
	return strings.Join(parts, " ")
}

// MemoryLines renders retrieved vault items for the prompt.
func MemoryLines(items []memory.VaultItem) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		summary := item.SummaryText
		if summary == "" {
			summary = "(no summary)"
		}
		line := "- " + item.Filename + ": " + summary
		if len(item.Tags) > 0 {
			line += " tags=" + strings.Join(item.Tags, ",")
		}
		lines = append(lines, line)
	}
	return lines
}

// contextInput is a snapshot of session state taken under the lock.
type contextInput struct {
	prompt             PromptInput
	personality        personality.Vector
	personalityEnabled bool
	summary            string
	retrieved          []memory.VaultItem
	history            []conversation.Entry
}

// buildMessages orders the request: system prompt, personality, memory
// summary, relevant vault memory, then the recent history window.
func buildMessages(in contextInput) []llm.Message {
	msgs := []llm.Message{{Role: conversation.RoleSystem, Content: SystemPrompt(in.prompt)}}
	if in.personalityEnabled {
		msgs = append(msgs, llm.Message{Role: conversation.RoleSystem, Content: personality.BuildPrompt(in.personality)})
	}
	if in.summary != "" {
		msgs = append(msgs, llm.Message{
			Role:    conversation.RoleSystem,
			Content: "Conversation memory summary (persistent):\n" + in.summary,
		})
	}
	if len(in.retrieved) > 0 {
		msgs = append(msgs, llm.Message{
			Role:    conversation.RoleSystem,
			Content: "Relevant user memory:\n" + strings.Join(MemoryLines(in.retrieved), "\n"),
		})
	}
	return append(msgs, conversation.Messages(conversation.ContextWindow(in.history))...)
}
