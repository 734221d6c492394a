package orchestrator

import (
	"context"
	"time"

	"github.com/a-marczewski/aifred/internal/apperr"
	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/personality"
	"github.com/a-marczewski/aifred/internal/router"
)

// State is a step of the turn state machine.
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateRouteSelect   State = "route_select"
	StateProviderCall  State = "provider_call"
	StateToolExecution State = "tool_execution"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Observer is notified of every state transition of a turn.
type Observer func(token uint64, state State)

// ChatProvider sends chat requests over one transport.
type ChatProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.Assistant, error)
}

// LocalProber checks whether the local endpoint answers at all.
type LocalProber interface {
	Probe(ctx context.Context, model string) (bool, int)
}

// TurnRecorder receives one record per finished turn.
type TurnRecorder interface {
	RecordTurn(t metrics.Turn)
}

// Store persists session data. Load failures are treated as empty state.
type Store interface {
	LoadHistory(ctx context.Context) ([]conversation.Entry, error)
	SaveHistory(ctx context.Context, entries []conversation.Entry) error
	LoadVaultIndex(ctx context.Context) ([]memory.VaultItem, error)
	SaveVaultIndex(ctx context.Context, items []memory.VaultItem) error
	LoadProfile(ctx context.Context) (*personality.Profile, error)
	SaveProfile(ctx context.Context, p *personality.Profile) error
	LoadSessionState(ctx context.Context) (*conversation.SessionState, error)
	SaveSessionState(ctx context.Context, s conversation.SessionState) error
}

// Options are the routing and behaviour switches of a session.
type Options struct {
	Model              string
	FallbackModel      string
	Temperature        float64
	MaxTokens          int
	MaxToolRounds      int
	LocalMode          bool
	LegacyMode         bool
	PreferLocalPrivate bool
	AllowCloudPrivate  bool
	HasCloudKey        bool
	WebSearch          bool
	UseVaultContext    bool
	LocalTools         bool
	Mobile             bool
	Timezone           string
	ProbeTTL           time.Duration
}

// Defaults for Options fields left zero.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultTemperature   = 0.3
	DefaultMaxTokens     = 1200
	DefaultMaxToolRounds = 6
	DefaultProbeTTL      = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.FallbackModel == "" {
		o.FallbackModel = DefaultModel
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = DefaultMaxToolRounds
	}
	if o.ProbeTTL <= 0 {
		o.ProbeTTL = DefaultProbeTTL
	}
	if o.Timezone == "" {
		o.Timezone = "UTC"
	}
	return o
}

// TurnResult is the outcome of one Submit.
type TurnResult struct {
	Token      uint64       `json:"token"`
	Text       string       `json:"text"`
	Route      router.Route `json:"route"`
	Reason     string       `json:"reason"`
	Model      string       `json:"model"`
	ToolRounds int          `json:"tool_rounds"`
	Cancelled  bool         `json:"cancelled"`
	Retrieved  []string     `json:"retrieved,omitempty"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  apperr.Kind  `json:"error_kind,omitempty"`
}
