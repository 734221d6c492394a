package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ParseAssistant extracts the assistant text and tool calls from a chat
// completion body. Text comes from choices[0].message.content, then the
// top-level text or output_text fields. A body that is not JSON is taken as
// plain text.
func ParseAssistant(body []byte) Assistant {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Assistant{}
	}

	var resp chatResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		if json.Valid(trimmed) {
			return Assistant{}
		}
		return Assistant{Text: string(trimmed)}
	}

	var out Assistant
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		out.Text = msg.Content.Text()
		for _, raw := range msg.ToolCalls {
			call := normalizeToolCall(raw)
			if call.Function.Name == "" {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	if out.Text == "" {
		out.Text = resp.Text.Text()
	}
	if out.Text == "" {
		out.Text = resp.OutputText.Text()
	}
	return out
}

func normalizeToolCall(raw rawToolCall) ToolCall {
	id := jsonString(raw.ID)
	if id == "" {
		id = "tool_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: FunctionCall{
			Name:      jsonString(raw.Function.Name),
			Arguments: normalizeArguments(raw.Function.Arguments),
		},
	}
}

// jsonString returns the value of a JSON string, or "" for any other value.
func jsonString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// normalizeArguments returns arguments as a JSON text. String arguments are
// passed through, objects are re-encoded, and absent arguments become {}.
func normalizeArguments(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "{}"
	}
	return compact.String()
}

// ExtractModelIDs reads model ids from a models listing. The listing may be a
// top-level array or sit under "models" or "data"; entries may be strings or
// objects carrying id, name or model.
func ExtractModelIDs(body []byte) []string {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		var envelope struct {
			Models []json.RawMessage `json:"models"`
			Data   []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil
		}
		rows = envelope.Models
		if len(rows) == 0 {
			rows = envelope.Data
		}
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		id := jsonString(row)
		if id == "" {
			var obj struct {
				ID    json.RawMessage `json:"id"`
				Name  json.RawMessage `json:"name"`
				Model json.RawMessage `json:"model"`
			}
			if err := json.Unmarshal(row, &obj); err == nil {
				for _, candidate := range []json.RawMessage{obj.ID, obj.Name, obj.Model} {
					if id = strings.TrimSpace(jsonString(candidate)); id != "" {
						break
					}
				}
			}
		}
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var env errorResponse
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return ""
	}
	if s := jsonString(env.Error); s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}
