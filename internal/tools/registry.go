package tools

import (
	"context"
	"encoding/json"
	"sort"

	lctools "github.com/tmc/langchaingo/tools"

	"github.com/a-marczewski/aifred/internal/llm"
)

// Tool is a named handler that takes JSON arguments and returns a JSON
// result.
type Tool interface {
	lctools.Tool
	// Parameters is the JSON Schema advertised to the model.
	Parameters() map[string]any
}

// Registry holds the tools a turn may call. Names outside the registry are
// rejected before any handler runs.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry of tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	return len(r.order)
}

// Definitions returns the function definitions sent with a chat request, in
// registration order.
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.Tool{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs the named tool and always returns a JSON string. Unknown tools
// and handler failures become {"error": ...} results.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult("Unknown tool: " + name), nil
	}
	out, err := t.Call(ctx, arguments)
	if err != nil {
		return ErrorResult(err.Error()), err
	}
	return out, nil
}

// ErrorResult encodes msg as a tool error result.
func ErrorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// parseArgs decodes tool arguments. Malformed input yields an empty object.
func parseArgs(input string) map[string]any {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(input), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func encodeResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func schema(required []string, properties map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
