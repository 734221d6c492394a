package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/apperr"
	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/personality"
	"github.com/a-marczewski/aifred/internal/router"
	"github.com/a-marczewski/aifred/internal/vault"
)

type memStore struct {
	mu      sync.Mutex
	history []conversation.Entry
	vault   []memory.VaultItem
	profile *personality.Profile
	state   *conversation.SessionState
}

func (m *memStore) LoadHistory(context.Context) ([]conversation.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Entry(nil), m.history...), nil
}

func (m *memStore) SaveHistory(_ context.Context, entries []conversation.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]conversation.Entry(nil), entries...)
	return nil
}

func (m *memStore) LoadVaultIndex(context.Context) ([]memory.VaultItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.VaultItem(nil), m.vault...), nil
}

func (m *memStore) SaveVaultIndex(_ context.Context, items []memory.VaultItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vault = append([]memory.VaultItem(nil), items...)
	return nil
}

func (m *memStore) LoadProfile(context.Context) (*personality.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile, nil
}

func (m *memStore) SaveProfile(_ context.Context, p *personality.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
	return nil
}

func (m *memStore) LoadSessionState(context.Context) (*conversation.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memStore) SaveSessionState(_ context.Context, s conversation.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}

func (m *memStore) savedHistory() []conversation.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Entry(nil), m.history...)
}

type scriptProvider struct {
	mu       sync.Mutex
	requests []llm.ChatRequest
	reply    func(ctx context.Context, call int, req llm.ChatRequest) (llm.Assistant, error)
}

func (p *scriptProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.Assistant, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	call := len(p.requests)
	p.mu.Unlock()
	return p.reply(ctx, call, req)
}

func (p *scriptProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptProvider) request(i int) llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func textReply(text string) *scriptProvider {
	return &scriptProvider{reply: func(context.Context, int, llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{Text: text}, nil
	}}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingConfirmer struct {
	mu      sync.Mutex
	approve bool
	asked   int
}

func (c *countingConfirmer) Confirm(context.Context, ConfirmRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked++
	return c.approve
}

type recorder struct {
	mu    sync.Mutex
	turns []metrics.Turn
}

func (r *recorder) RecordTurn(t metrics.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

type fixture struct {
	session *Session
	store   *memStore
	clock   *testClock
}

func newFixture(t *testing.T, opts Options, providers map[router.Route]ChatProvider, mutate func(*Dependencies)) fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)}
	store := &memStore{}
	deps := Dependencies{
		Providers: providers,
		Store:     store,
		Engine:    memory.NewEngineWithClock(clock.Now),
		Logger:    zap.NewNop(),
		Now:       clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := New(deps, opts)
	require.NoError(t, err)
	s.Load(context.Background())
	return fixture{session: s, store: store, clock: clock}
}

func roles(entries []conversation.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Role
	}
	return out
}

func TestNewRequiresStoreAndProvider(t *testing.T) {
	_, err := New(Dependencies{Providers: map[router.Route]ChatProvider{router.Cloud: textReply("x")}}, Options{})
	assert.Error(t, err)
	_, err = New(Dependencies{Store: &memStore{}}, Options{})
	assert.Error(t, err)
}

func TestSubmitAnswers(t *testing.T) {
	p := textReply("  Hi there.  ")
	rec := &recorder{}
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: p}, func(d *Dependencies) {
		d.Recorder = rec
	})

	res, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there.", res.Text)
	assert.Equal(t, router.Cloud, res.Route)
	assert.Equal(t, "default cloud routing", res.Reason)
	assert.Equal(t, DefaultModel, res.Model)
	assert.Equal(t, uint64(1), res.Token)
	assert.False(t, res.Cancelled)

	req := p.request(0)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, 1200, req.MaxTokens)
	assert.False(t, req.Stream)
	assert.Empty(t, req.Tools)
	assert.Empty(t, req.ToolChoice)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "You are AIFRED, a real-time chatbot assistant."))
	assert.Equal(t, "hello", req.Messages[len(req.Messages)-1].Content)

	assert.Equal(t, []string{"user", "assistant"}, roles(f.store.savedHistory()))
	assert.Equal(t, StateDone, f.session.State())

	require.Len(t, rec.turns, 1)
	assert.Equal(t, metrics.OutcomeDone, rec.turns[0].Outcome)
	assert.Equal(t, "cloud", rec.turns[0].Route)
}

func TestSubmitRejectsBlankText(t *testing.T) {
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: textReply("x")}, nil)
	_, err := f.session.Submit(context.Background(), "   ")
	assert.Error(t, err)
}

func TestToolRoundsExceeded(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{ToolCalls: []llm.ToolCall{toolCall("c", "roll_dice", `{"sides":6,"count":1}`)}}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = AutoConfirm(true) })

	res, err := f.session.Submit(context.Background(), "roll some dice")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ToolRoundsExceeded))
	assert.Equal(t, 6, p.calls())
	assert.Equal(t, 6, res.ToolRounds)
	assert.Equal(t, "Stopped after 6 tool-call rounds", res.Error)
	assert.Equal(t, apperr.ToolRoundsExceeded, res.ErrorKind)
	assert.Equal(t, StateFailed, f.session.State())
}

func TestToolRoundsLimitIsConfigurable(t *testing.T) {
	p := &scriptProvider{reply: func(context.Context, int, llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{ToolCalls: []llm.ToolCall{toolCall("c", "roll_dice", `{"sides":6,"count":1}`)}}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true, MaxToolRounds: 3},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = AutoConfirm(true) })

	res, err := f.session.Submit(context.Background(), "roll some dice")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ToolRoundsExceeded))
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, "Stopped after 3 tool-call rounds", res.Error)
}

func TestToolRoundThenAnswer(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			return llm.Assistant{ToolCalls: []llm.ToolCall{
				toolCall("c1", "roll_dice", `{"sides":6,"count":2}`),
				toolCall("c2", "calculate_expression", `{"expression":"2^10"}`),
			}}, nil
		}
		return llm.Assistant{Text: "You rolled and 2^10 is 1024."}, nil
	}}
	gate := &countingConfirmer{approve: true}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = gate })

	res, err := f.session.Submit(context.Background(), "scan the folder and compute")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolRounds)
	assert.Equal(t, 1, gate.asked)

	history := f.session.History()
	assert.Equal(t, []string{"user", "assistant", "tool", "tool", "assistant"}, roles(history))
	assert.Len(t, history[1].ToolCalls, 2)
	assert.Equal(t, "c1", history[2].ToolCallID)
	assert.Contains(t, history[2].Content, `"total"`)
	assert.JSONEq(t, `{"expression":"2^10","result":1024}`, history[3].Content)

	first := p.request(0)
	assert.Equal(t, "auto", first.ToolChoice)
	assert.NotEmpty(t, first.Tools)

	second := p.request(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "c2", last.ToolCallID)
}

func TestGateDenied(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			return llm.Assistant{ToolCalls: []llm.ToolCall{
				toolCall("c1", "get_current_time", `{"timezone":"UTC"}`),
				toolCall("c2", "get_current_time", `{"timezone":"UTC"}`),
			}}, nil
		}
		return llm.Assistant{Text: "I could not check the time."}, nil
	}}
	gate := &countingConfirmer{approve: false}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = gate })

	_, err := f.session.Submit(context.Background(), "what time is it")
	require.NoError(t, err)
	assert.Equal(t, 1, gate.asked)

	history := f.session.History()
	require.Len(t, history, 5)
	assert.Equal(t, `{"error":"Local tool execution was blocked by user confirmation gate."}`, history[2].Content)
	assert.Equal(t, history[2].Content, history[3].Content)

	_, err = f.session.Submit(context.Background(), "try again")
	require.NoError(t, err)
}

func TestUnknownToolResult(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			return llm.Assistant{ToolCalls: []llm.ToolCall{toolCall("c1", "format_disk", `{}`)}}, nil
		}
		return llm.Assistant{Text: "That tool does not exist."}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = AutoConfirm(true) })

	_, err := f.session.Submit(context.Background(), "format it")
	require.NoError(t, err)
	assert.Equal(t, `{"error":"Unknown tool: format_disk"}`, f.session.History()[2].Content)
}

func TestToolCallsWithoutLocalTools(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		mobile bool
	}{
		{"mobile", Options{HasCloudKey: true, LocalTools: true, Mobile: true}, true},
		{"local tools off", Options{HasCloudKey: true, LocalTools: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
				if call == 1 {
					return llm.Assistant{ToolCalls: []llm.ToolCall{toolCall("c1", "roll_dice", `{}`)}}, nil
				}
				return llm.Assistant{Text: "Here is a direct answer."}, nil
			}}
			gate := &countingConfirmer{approve: true}
			f := newFixture(t, tt.opts, map[router.Route]ChatProvider{router.Cloud: p},
				func(d *Dependencies) { d.Confirmer = gate })

			res, err := f.session.Submit(context.Background(), "scan my folder")
			require.NoError(t, err)
			assert.Equal(t, "Here is a direct answer.", res.Text)
			assert.Equal(t, 1, res.ToolRounds)
			assert.Equal(t, 0, gate.asked)

			history := f.session.History()
			assert.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles(history))
			assert.Equal(t, "c1", history[2].ToolCallID)
			assert.Equal(t, `{"error":"Local tools are unavailable on this platform."}`, history[2].Content)

			require.Equal(t, 2, p.calls())
			assert.Empty(t, p.request(0).Tools)
			assert.Empty(t, p.request(1).Tools)
			if tt.mobile {
				assert.Contains(t, p.request(0).Messages[0].Content, "Platform: Mobile.")
			}
		})
	}
}

func TestModelNotFoundFallsBack(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, _ int, req llm.ChatRequest) (llm.Assistant, error) {
		if req.Model == "gpt-missing" {
			return llm.Assistant{}, apperr.New(apperr.ModelNotFound, "model not found: gpt-missing").WithStatus(404)
		}
		return llm.Assistant{Text: "answer from " + req.Model}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true, Model: "gpt-missing"},
		map[router.Route]ChatProvider{router.Cloud: p}, nil)

	res, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "answer from gpt-4o-mini", res.Text)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, 2, p.calls())
}

func TestEmptyResponseFallback(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, req llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			return llm.Assistant{}, nil
		}
		return llm.Assistant{Text: "recovered"}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true, Model: "custom-model"},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = AutoConfirm(true) })

	res, err := f.session.Submit(context.Background(), "scan the folder")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	require.Equal(t, 2, p.calls())
	assert.NotEmpty(t, p.request(0).Tools)
	assert.Equal(t, "custom-model", p.request(0).Model)
	assert.Empty(t, p.request(1).Tools)
	assert.Equal(t, DefaultModel, p.request(1).Model)
}

func TestEmptyResponseFailsAfterFallback(t *testing.T) {
	p := &scriptProvider{reply: func(context.Context, int, llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{Text: "   "}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: p}, nil)

	res, err := f.session.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.EmptyResponse))
	assert.Equal(t, "Empty response from provider", res.Error)
	assert.Equal(t, 2, p.calls())
	assert.Equal(t, []string{"user"}, roles(f.session.History()))
}

func TestBlockedRoute(t *testing.T) {
	p := textReply("never")
	f := newFixture(t, Options{}, map[router.Route]ChatProvider{router.Cloud: p}, nil)

	res, err := f.session.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NoRouteAvailable))
	assert.Equal(t, router.Blocked, res.Route)
	assert.Equal(t, "No route available", res.Error)
	assert.Equal(t, 0, p.calls())
}

func TestAttemptsFallThroughToLegacy(t *testing.T) {
	cloud := &scriptProvider{reply: func(context.Context, int, llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{}, apperr.New(apperr.NetworkFailure, "request failed")
	}}
	legacy := textReply("legacy answer")
	f := newFixture(t, Options{HasCloudKey: true, LegacyMode: true},
		map[router.Route]ChatProvider{router.Cloud: cloud, router.Legacy: legacy}, nil)

	res, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "legacy answer", res.Text)
	assert.Equal(t, router.Cloud, res.Route)
	assert.Equal(t, 1, cloud.calls())
	assert.Equal(t, 1, legacy.calls())
}

func TestAllAttemptsFailReturnsLastError(t *testing.T) {
	failing := &scriptProvider{reply: func(context.Context, int, llm.ChatRequest) (llm.Assistant, error) {
		return llm.Assistant{}, apperr.New(apperr.AuthFailure, "denied").WithStatus(401)
	}}
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: failing}, nil)

	res, err := f.session.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, "Request denied", res.Error)
}

func TestStaleTurnDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			close(entered)
			<-release
			return llm.Assistant{Text: "stale answer"}, nil
		}
		return llm.Assistant{Text: "fresh answer"}, nil
	}}
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: p}, nil)

	type outcome struct {
		res TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.session.Submit(context.Background(), "first question")
		done <- outcome{res, err}
	}()

	<-entered
	second, err := f.session.Submit(context.Background(), "second question")
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", second.Text)

	close(release)
	first := <-done
	require.NoError(t, first.err)
	assert.True(t, first.res.Cancelled)
	assert.Empty(t, first.res.Text)

	history := f.session.History()
	assert.Equal(t, []string{"user", "user", "assistant"}, roles(history))
	for _, e := range history {
		assert.NotEqual(t, "stale answer", e.Content)
	}
}

func TestCancelDuringToolGateDropsRound(t *testing.T) {
	p := &scriptProvider{reply: func(_ context.Context, call int, _ llm.ChatRequest) (llm.Assistant, error) {
		if call == 1 {
			return llm.Assistant{ToolCalls: []llm.ToolCall{toolCall("c1", "roll_dice", `{"sides":6,"count":1}`)}}, nil
		}
		return llm.Assistant{Text: "fresh answer"}, nil
	}}
	asking := make(chan struct{})
	release := make(chan struct{})
	confirmer := ConfirmFunc(func(context.Context, ConfirmRequest) bool {
		close(asking)
		<-release
		return true
	})
	f := newFixture(t, Options{HasCloudKey: true, LocalTools: true},
		map[router.Route]ChatProvider{router.Cloud: p},
		func(d *Dependencies) { d.Confirmer = confirmer })

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := f.session.Submit(context.Background(), "roll a die")
		done <- res
	}()

	<-asking
	f.session.Cancel()
	close(release)
	first := <-done
	assert.True(t, first.Cancelled)
	assert.Equal(t, []string{"user"}, roles(f.session.History()))

	second, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", second.Text)

	history := f.session.History()
	assert.Equal(t, []string{"user", "user", "assistant"}, roles(history))
	for _, e := range history {
		assert.Empty(t, e.ToolCalls)
	}
	for _, e := range f.store.savedHistory() {
		assert.Empty(t, e.ToolCalls)
	}

	require.Equal(t, 2, p.calls())
	for _, m := range p.request(1).Messages {
		assert.Empty(t, m.ToolCalls)
		assert.NotEqual(t, "tool", m.Role)
	}
}

func TestCancelStopsTurn(t *testing.T) {
	entered := make(chan struct{})
	p := &scriptProvider{reply: func(ctx context.Context, _ int, _ llm.ChatRequest) (llm.Assistant, error) {
		close(entered)
		<-ctx.Done()
		return llm.Assistant{}, apperr.Wrap(ctx.Err(), apperr.RequestCancelled, "request cancelled")
	}}
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: p}, nil)

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := f.session.Submit(context.Background(), "long question")
		done <- res
	}()

	<-entered
	f.session.Cancel()
	res := <-done
	assert.True(t, res.Cancelled)
	assert.Equal(t, StateIdle, f.session.State())
	assert.Equal(t, []string{"user"}, roles(f.session.History()))
}

type countingProber struct {
	mu    sync.Mutex
	count int
}

func (p *countingProber) Probe(context.Context, string) (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return true, 200
}

func TestLocalProbeIsCached(t *testing.T) {
	prober := &countingProber{}
	local := textReply("local answer")
	f := newFixture(t, Options{LocalMode: true}, map[router.Route]ChatProvider{router.Local: local},
		func(d *Dependencies) { d.Prober = prober })

	res, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, router.Local, res.Route)
	_, err = f.session.Submit(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Equal(t, 1, prober.count)

	f.clock.Advance(61 * time.Second)
	_, err = f.session.Submit(context.Background(), "and again")
	require.NoError(t, err)
	assert.Equal(t, 2, prober.count)
}

func TestRetrievalContextAndFeedback(t *testing.T) {
	p := textReply("You used 4:1 at -18 dB.")
	f := newFixture(t, Options{HasCloudKey: true, UseVaultContext: true},
		map[router.Route]ChatProvider{router.Cloud: p}, nil)

	f.store.vault = []memory.VaultItem{{
		ID:          "mix",
		Type:        memory.Text,
		Filename:    "mix-notes.md",
		SummaryText: "Mix bus compression settings",
		Tags:        []string{"audio"},
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}}
	f.session.Load(context.Background())

	res, err := f.session.Submit(context.Background(), "what compression did I use on the mix")
	require.NoError(t, err)
	assert.Equal(t, []string{"mix"}, res.Retrieved)

	var memoryMsg string
	for _, m := range p.request(0).Messages {
		if strings.HasPrefix(m.Content, "Relevant user memory:") {
			memoryMsg = m.Content
		}
	}
	assert.Equal(t, "Relevant user memory:\n- mix-notes.md: Mix bus compression settings tags=audio", memoryMsg)

	items := f.session.VaultItems()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].ReferenceCount)

	_, err = f.session.Submit(context.Background(), "exactly, thanks")
	require.NoError(t, err)
	items = f.session.VaultItems()
	assert.Equal(t, memory.SignalLiked, items[0].UserSignal)
}

func TestObserversSeeTransitions(t *testing.T) {
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: textReply("ok")}, nil)

	var seen []State
	f.session.Subscribe(func(_ uint64, st State) { seen = append(seen, st) })

	_, err := f.session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []State{StateRouteSelect, StateProviderCall, StateDone}, seen)
}

func TestVaultItemOperations(t *testing.T) {
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: textReply("ok")}, nil)
	f.store.vault = []memory.VaultItem{{ID: "a", Filename: "a.txt", SummaryText: "alpha notes", UpdatedAt: f.clock.Now()}}
	f.session.Load(context.Background())

	item, err := f.session.SetPinned(context.Background(), "a", true)
	require.NoError(t, err)
	assert.True(t, item.Pinned)
	assert.True(t, f.store.vault[0].Pinned)

	assert.Len(t, f.session.SearchVault("alpha"), 1)

	item, err = f.session.Forget(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, item.Forget)
	assert.True(t, item.Hidden)
	assert.Empty(t, f.session.SearchVault("alpha"))

	_, err = f.session.SetHidden(context.Background(), "missing", true)
	assert.True(t, errors.Is(err, ErrItemNotFound))
}

func TestIngestFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("session notes"), 0644))

	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: textReply("ok")},
		func(d *Dependencies) {
			d.Vault = vault.New(filepath.Join(dir, "store"), nil, d.Engine, zap.NewNop())
		})

	items, err := f.session.IngestPaths(context.Background(), []string{src})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "scan_folder", items[0].Source)
	assert.Len(t, f.session.VaultItems(), 1)
	assert.Len(t, f.store.vault, 1)
}

func TestClearHistoryAndResets(t *testing.T) {
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: textReply("ok")}, nil)

	_, err := f.session.Submit(context.Background(), "please be brief")
	require.NoError(t, err)
	assert.NotEqual(t, personality.Default, f.session.SessionState().Personality)

	f.session.ResetPersonality(context.Background())
	assert.Equal(t, personality.Default, f.session.SessionState().Personality)

	f.session.ClearHistory(context.Background())
	assert.Empty(t, f.session.History())
	assert.Empty(t, f.store.savedHistory())

	f.session.ResetProfile(context.Background())
	assert.Equal(t, personality.ProfileVersion, f.session.Profile().Version)
}

func TestStatePersistsAcrossLoad(t *testing.T) {
	p := textReply("noted")
	f := newFixture(t, Options{HasCloudKey: true}, map[router.Route]ChatProvider{router.Cloud: p}, nil)

	_, err := f.session.Submit(context.Background(), "keep it short and blunt")
	require.NoError(t, err)

	again, err := New(Dependencies{
		Providers: map[router.Route]ChatProvider{router.Cloud: p},
		Store:     f.store,
		Now:       f.clock.Now,
	}, Options{HasCloudKey: true})
	require.NoError(t, err)
	again.Load(context.Background())

	st := again.SessionState()
	assert.Equal(t, personality.VerbosityShort, st.Style.Verbosity)
	assert.Equal(t, personality.ToneBlunt, st.Style.Tone)
	assert.Len(t, again.History(), 2)
}
