package llm

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ContentPart represents a single content part (for multimodal responses)
type ContentPart struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// Content is response message content. Providers send it as a string, an
// array of parts, or an object with text/content.
type Content struct {
	Value interface{} // string, []ContentPart or ContentPart
}

// MarshalJSON implements custom JSON marshaling for Content
func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value)
}

// UnmarshalJSON accepts every content shape providers are known to send.
// Unknown shapes decode to empty content instead of failing the response.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	c.Value = nil
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var str string
		if err := json.Unmarshal(data, &str); err == nil {
			c.Value = str
		}
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		parts := make([]ContentPart, 0, len(raw))
		for _, item := range raw {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				parts = append(parts, ContentPart{Type: "text", Text: s})
				continue
			}
			var p ContentPart
			if err := json.Unmarshal(item, &p); err == nil {
				parts = append(parts, p)
				continue
			}
			parts = append(parts, ContentPart{})
		}
		c.Value = parts
	case '{':
		var p ContentPart
		if err := json.Unmarshal(data, &p); err == nil {
			c.Value = p
		}
	}
	return nil
}

func (p ContentPart) text() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Content
}

// Text flattens the content to trimmed plain text. Parts are joined with
// newlines.
func (c Content) Text() string {
	switch v := c.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []ContentPart:
		texts := make([]string, len(v))
		for i, p := range v {
			texts[i] = p.text()
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	case ContentPart:
		return strings.TrimSpace(v.text())
	default:
		return ""
	}
}

// Message represents a chat message
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool advertises a callable function to the model.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a function and its JSON Schema parameters.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest represents an OpenAI-compatible chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Stream      bool      `json:"stream"`
}

// Assistant is the normalized assistant turn parsed from a response.
type Assistant struct {
	Text      string
	ToolCalls []ToolCall
}

// IsEmpty reports whether the response carried neither text nor tool calls.
func (a Assistant) IsEmpty() bool {
	return strings.TrimSpace(a.Text) == "" && len(a.ToolCalls) == 0
}

// chatResponse is the subset of a chat completion response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   Content       `json:"content"`
			ToolCalls []rawToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Text       Content `json:"text"`
	OutputText Content `json:"output_text"`
}

type rawToolCall struct {
	ID       json.RawMessage `json:"id"`
	Function struct {
		Name      json.RawMessage `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// errorResponse is the error envelope OpenAI-compatible providers return.
type errorResponse struct {
	Error json.RawMessage `json:"error"`
}
