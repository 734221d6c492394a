package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
)

// Summarizer produces the summary text and tags stored with a vault item.
type Summarizer interface {
	Summarize(ctx context.Context, item memory.VaultItem, snippet string) (string, []string, error)
}

// BaseSummarizer describes an item from its metadata alone.
type BaseSummarizer struct{}

func (BaseSummarizer) Summarize(_ context.Context, item memory.VaultItem, _ string) (string, []string, error) {
	source := item.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("%s file: %s", strings.ToUpper(string(item.Type)), item.Filename),
		[]string{"type:" + string(item.Type), "source:" + source},
		nil
}

// ChatClient is the transport a ChatSummarizer asks for metadata.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.Assistant, error)
}

// ChatSummarizer asks a chat model for a short summary and tags, falling back
// to the metadata description when the reply is unusable.
type ChatSummarizer struct {
	Client ChatClient
	Model  string
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

func (s ChatSummarizer) Summarize(ctx context.Context, item memory.VaultItem, snippet string) (string, []string, error) {
	base, baseTags, _ := BaseSummarizer{}.Summarize(ctx, item, snippet)

	if len(snippet) > 3500 {
		snippet = snippet[:3500]
	}
	if snippet == "" {
		snippet = "(unavailable)"
	}
	prompt := strings.Join([]string{
		"Summarize this user vault item in <= 2 sentences and suggest 3 to 6 tags.",
		"Return strict JSON with keys: summary (string), tags (array of strings).",
		"filename: " + item.Filename,
		"type: " + string(item.Type),
		"content_snippet: " + snippet,
	}, "\n")

	resp, err := s.Client.Chat(ctx, llm.ChatRequest{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "You generate compact vault metadata. Output only valid JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   220,
	})
	if err != nil {
		return "", nil, err
	}

	var parsed struct {
		Summary *string  `json:"summary"`
		Tags    []string `json:"tags"`
	}
	if raw := jsonObject.FindString(resp.Text); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Summary != nil && parsed.Tags != nil {
			tags := make([]string, 0, len(parsed.Tags))
			for _, tag := range parsed.Tags {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
			return strings.TrimSpace(*parsed.Summary), tags, nil
		}
	}

	summary := resp.Text
	if len(summary) > 240 {
		summary = summary[:240]
	}
	if summary == "" {
		summary = base
	}
	return summary, baseTags, nil
}
