package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/a-marczewski/aifred/internal/llm"
)

const (
	// MaxHistory is the number of entries kept before compaction.
	MaxHistory = 200
	// MaxContext is how many recent entries are sent to the model.
	MaxContext = 42
	// MaxSummaryChars bounds the rolling memory summary.
	MaxSummaryChars = 6000

	keepRatio       = 0.7
	summaryLineLen  = 180
	summaryMaxLines = 12
)

// Roles an entry may carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Entry is one message of the conversation.
type Entry struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	TS         int64          `json:"ts"`
}

// Time returns the entry timestamp.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.TS)
}

func validRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// SanitizeEntry normalizes an entry. ok is false when the role is unknown.
func SanitizeEntry(e Entry, now time.Time) (Entry, bool) {
	if !validRole(e.Role) {
		return Entry{}, false
	}
	clean := Entry{
		Role:    e.Role,
		Content: e.Content,
		Intent:  e.Intent,
		TS:      e.TS,
	}
	if clean.TS <= 0 {
		clean.TS = now.UnixMilli()
	}
	if e.Role == RoleTool {
		clean.ToolCallID = e.ToolCallID
		if clean.ToolCallID == "" {
			clean.ToolCallID = "tool"
		}
	}
	for _, call := range e.ToolCalls {
		if strings.TrimSpace(call.Function.Name) == "" {
			continue
		}
		if call.Type == "" {
			call.Type = "function"
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		clean.ToolCalls = append(clean.ToolCalls, call)
	}
	return clean, true
}

// Sanitize cleans a loaded history, dropping unusable entries and keeping at
// most the last MaxHistory.
func Sanitize(raw []Entry, now time.Time) []Entry {
	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if clean, ok := SanitizeEntry(e, now); ok {
			out = append(out, clean)
		}
	}
	if len(out) > MaxHistory {
		out = out[len(out)-MaxHistory:]
	}
	return out
}

// History is an append-only conversation log with a rolling summary of
// compacted entries. It is not safe for concurrent use.
type History struct {
	entries []Entry
	summary string
	now     func() time.Time
}

// NewHistory creates a history from stored entries and summary.
func NewHistory(entries []Entry, summary string, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{
		entries: Sanitize(entries, now()),
		summary: trimSummary(summary),
		now:     now,
	}
}

// Entries returns a copy of the entries.
func (h *History) Entries() []Entry {
	return append([]Entry(nil), h.entries...)
}

// Len reports the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Summary returns the rolling memory summary.
func (h *History) Summary() string {
	return h.summary
}

// Append adds an entry and compacts when the log grows past MaxHistory. It
// reports whether compaction ran.
func (h *History) Append(e Entry) (compacted bool) {
	clean, ok := SanitizeEntry(e, h.now())
	if !ok {
		return false
	}
	h.entries = append(h.entries, clean)
	if len(h.entries) <= MaxHistory {
		return false
	}

	compacted = h.compact()
	if len(h.entries) > MaxHistory {
		h.entries = h.entries[len(h.entries)-MaxHistory:]
	}
	return compacted
}

// Clear drops every entry and the summary.
func (h *History) Clear() {
	h.entries = nil
	h.summary = ""
}

func (h *History) compact() bool {
	split := SplitIndex(h.entries)
	if split <= 0 {
		return false
	}
	older := h.entries[:split]
	if chunk := Summarize(older, h.now()); chunk != "" {
		h.summary = MergeSummary(h.summary, chunk)
	}
	h.entries = append([]Entry(nil), h.entries[split:]...)
	return true
}

// SplitIndex is where compaction cuts entries: the newest
// floor(MaxHistory*0.7) are kept, and the cut moves forward so the kept part
// never starts with a tool result.
func SplitIndex(entries []Entry) int {
	if len(entries) <= MaxHistory {
		return 0
	}
	split := len(entries) - int(MaxHistory*keepRatio)
	if split < 0 {
		split = 0
	}
	for split < len(entries) && entries[split].Role == RoleTool {
		split++
	}
	return split
}

// Summarize condenses user and assistant entries into one line:
// "[YYYY-MM-DD HH:MM:SS] intents=a,b role: text | role: text".
func Summarize(entries []Entry, now time.Time) string {
	var lines []string
	seen := map[string]bool{}
	var intents []string

	for _, e := range entries {
		if e.Role != RoleUser && e.Role != RoleAssistant {
			continue
		}
		if e.Intent != "" && !seen[e.Intent] {
			seen[e.Intent] = true
			intents = append(intents, e.Intent)
		}
		text := strings.Join(strings.Fields(e.Content), " ")
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > summaryLineLen {
			text = string(r[:summaryLineLen])
		}
		lines = append(lines, e.Role+": "+text)
		if len(lines) >= summaryMaxLines {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}

	stamp := now.UTC().Format("2006-01-02 15:04:05")
	intentText := ""
	if len(intents) > 0 {
		intentText = " intents=" + strings.Join(intents, ",")
	}
	return fmt.Sprintf("[%s]%s %s", stamp, intentText, strings.Join(lines, " | "))
}

// MergeSummary appends chunk to summary, keeping the last MaxSummaryChars.
func MergeSummary(summary, chunk string) string {
	var parts []string
	for _, p := range []string{summary, chunk} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return trimSummary(strings.Join(parts, "\n"))
}

func trimSummary(s string) string {
	if len(s) <= MaxSummaryChars {
		return s
	}
	cut := len(s) - MaxSummaryChars
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ContextWindow returns the last MaxContext entries, never starting with a
// tool result whose assistant call was cut off.
func ContextWindow(entries []Entry) []Entry {
	start := len(entries) - MaxContext
	if start < 0 {
		start = 0
	}
	for start < len(entries) && entries[start].Role == RoleTool {
		start++
	}
	return append([]Entry(nil), entries[start:]...)
}

// Messages converts entries to chat messages.
func Messages(entries []Entry) []llm.Message {
	out := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		msg := llm.Message{Role: e.Role, Content: e.Content}
		switch e.Role {
		case RoleTool:
			msg.ToolCallID = e.ToolCallID
			if msg.ToolCallID == "" {
				msg.ToolCallID = "tool"
			}
		case RoleAssistant:
			if len(e.ToolCalls) > 0 {
				msg.ToolCalls = append([]llm.ToolCall(nil), e.ToolCalls...)
			}
		}
		out = append(out, msg)
	}
	return out
}
