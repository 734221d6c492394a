package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/a-marczewski/aifred/internal/apperr"
)

const (
	OpenAIChatEndpoint   = "https://api.openai.com/v1/chat/completions"
	OpenAIModelsEndpoint = "https://api.openai.com/v1/models"
	LegacyChatEndpoint   = "https://text.pollinations.ai/openai"
	LegacyModelsEndpoint = "https://text.pollinations.ai/models"

	DefaultChatTimeout  = 70 * time.Second
	DefaultProbeTimeout = 8 * time.Second
)

// ProviderConfig describes one transport.
type ProviderConfig struct {
	Route          string
	ChatEndpoint   string
	ModelsEndpoint string
	APIKey         string
	// RequireKey fails every call up front when APIKey is empty.
	RequireKey   bool
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Provider is an OpenAI-compatible chat transport bound to one route. It
// classifies every failure into the apperr taxonomy.
type Provider struct {
	cfg    ProviderConfig
	client *Client
}

// NewProvider creates a provider that sends through client.
func NewProvider(cfg ProviderConfig, client *Client) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultChatTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Provider{cfg: cfg, client: client}
}

// Route returns the route name the provider serves.
func (p *Provider) Route() string {
	return p.cfg.Route
}

// Endpoint returns the chat completion endpoint.
func (p *Provider) Endpoint() string {
	return p.cfg.ChatEndpoint
}

func (p *Provider) headers() map[string]string {
	h := map[string]string{}
	if p.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + p.cfg.APIKey
	}
	return h
}

func (p *Provider) ready() error {
	if p.cfg.RequireKey && p.cfg.APIKey == "" {
		return apperr.New(apperr.AuthFailure, "API key not configured").
			WithRoute(p.cfg.Route).
			WithUserMessage("OpenAI API key not configured.")
	}
	if p.cfg.ChatEndpoint == "" {
		return apperr.New(apperr.ProviderError, "endpoint URL is not configured").
			WithRoute(p.cfg.Route).
			WithUserMessage(fmt.Sprintf("%s endpoint URL is not configured.", p.cfg.Route))
	}
	return nil
}

// Chat sends one chat completion request. A 200 response with neither text
// nor tool calls is an EmptyResponse failure.
func (p *Provider) Chat(ctx context.Context, req ChatRequest) (Assistant, error) {
	if err := p.ready(); err != nil {
		return Assistant{}, err
	}

	resp, err := p.client.Send(ctx, p.cfg.ChatEndpoint, req, p.headers(), p.cfg.Timeout)
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return Assistant{}, ae.WithRoute(p.cfg.Route)
		}
		return Assistant{}, err
	}

	if resp.Status != http.StatusOK {
		return Assistant{}, classifyStatus(resp, p.cfg.Route, req.Model)
	}

	parsed := ParseAssistant(resp.Body)
	if parsed.IsEmpty() {
		return Assistant{}, apperr.Newf(apperr.EmptyResponse, "empty response payload from route %s", p.cfg.Route).
			WithStatus(resp.Status).
			WithRoute(p.cfg.Route)
	}
	return parsed, nil
}

// classifyStatus turns a non-200 response into a classified error.
func classifyStatus(resp *Response, route, model string) *apperr.Error {
	message := errorMessage(resp.Body)
	if message == "" {
		message = http.StatusText(resp.Status)
	}
	if message == "" {
		message = "Unknown API failure"
	}

	kind := apperr.ProviderError
	switch {
	case resp.Status == http.StatusNotFound && strings.Contains(strings.ToLower(string(resp.Body)), "model not found"):
		kind = apperr.ModelNotFound
		message = fmt.Sprintf("model not found: %s", model)
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		kind = apperr.AuthFailure
	}

	return apperr.Newf(kind, "HTTP %d: %s", resp.Status, message).
		WithStatus(resp.Status).
		WithRoute(route)
}

// ListModels fetches the provider's model listing.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if p.cfg.ModelsEndpoint == "" {
		return nil, apperr.New(apperr.ProviderError, "models endpoint is not configured").WithRoute(p.cfg.Route)
	}
	resp, err := p.client.Get(ctx, p.cfg.ModelsEndpoint, p.headers(), p.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		body := string(resp.Body)
		if len(body) > 220 {
			body = body[:220]
		}
		return nil, apperr.Newf(apperr.ProviderError, "model list failed (%d): %s", resp.Status, body).
			WithStatus(resp.Status).
			WithRoute(p.cfg.Route)
	}
	ids := ExtractModelIDs(resp.Body)
	if len(ids) == 0 {
		return nil, apperr.New(apperr.EmptyResponse, "model list is empty").WithRoute(p.cfg.Route)
	}
	return ids, nil
}

// Probe reports whether the endpoint answers at all. Any status below 500
// counts as reachable, including auth and model errors.
func (p *Provider) Probe(ctx context.Context, model string) (bool, int) {
	if p.cfg.ChatEndpoint == "" {
		return false, 0
	}
	req := ChatRequest{
		Model:     model,
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 8,
	}
	resp, err := p.client.Send(ctx, p.cfg.ChatEndpoint, req, p.headers(), p.cfg.ProbeTimeout)
	if err != nil {
		return false, 0
	}
	return resp.Status > 0 && resp.Status < 500, resp.Status
}
