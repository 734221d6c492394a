package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/apperr"
	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/intent"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/personality"
	"github.com/a-marczewski/aifred/internal/router"
	"github.com/a-marczewski/aifred/internal/tools"
	"github.com/a-marczewski/aifred/internal/vault"
)

var (
	toolsUnavailable = tools.ErrorResult("Local tools are unavailable on this platform.")
	toolsDenied      = tools.ErrorResult("Local tool execution was blocked by user confirmation gate.")
)

// turn is the immutable context of one Submit.
type turn struct {
	token      uint64
	ctx        context.Context
	signal     intent.Signal
	lastIntent *conversation.LastIntent
	retrieved  []memory.VaultItem
	start      time.Time
}

// bumpLocked invalidates the live turn and resets the confirmation gate.
func (s *Session) bumpLocked() uint64 {
	s.token++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gate = gateDecision{}
	return s.token
}

// Cancel stops the in-flight turn, if any. Its result is discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	token := s.bumpLocked()
	s.turnState = StateIdle
	s.logger.Info("Turn cancelled", zap.Uint64("token", token-1))
}

func (s *Session) isCurrent(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == token
}

// Submit runs one turn for text. A turn superseded by a newer Submit or
// Cancel returns with Cancelled set and no error; it leaves no assistant
// output in history.
func (s *Session) Submit(ctx context.Context, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, errors.New("text is required")
	}

	t := s.begin(ctx, text)
	defer t.finish(s)
	return s.run(t.turn)
}

type begun struct {
	turn   turn
	cancel context.CancelFunc
}

func (b begun) finish(s *Session) {
	b.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == b.turn.token {
		s.cancel = nil
	}
}

// begin applies the synchronous part of a turn: feedback, intent, style,
// personality, history, profile and retrieval.
func (s *Session) begin(parent context.Context, text string) begun {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := s.bumpLocked()
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	now := s.now()

	if changed := s.engine.ApplyRetrievalFeedback(s.vaultIndex, s.state.LastRetrievedIDs, text); len(changed) > 0 {
		s.vaultIndex = vault.Replace(s.vaultIndex, changed)
		s.logger.Debug("Applied retrieval feedback", zap.Int("items", len(changed)))
	}

	sig := intent.Detect(text)

	if style, changed := personality.UpdateStyle(s.state.Style, text); changed {
		s.state.Style = style
		s.logger.Debug("Style updated", zap.String("verbosity", style.Verbosity), zap.String("tone", style.Tone))
	}

	if s.state.PersonalityEnabled {
		roles := make([]string, 0, s.history.Len())
		for _, e := range s.history.Entries() {
			roles = append(roles, e.Role)
		}
		s.state.Personality = personality.UpdateVector(s.state.Personality, personality.Signals{
			UserText:      text,
			FollowupCount: personality.CountRecentFollowups(roles),
		})
	}

	previous := s.state.LastIntent
	s.state.LastIntent = &conversation.LastIntent{
		Name:       sig.Primary.Label.String(),
		Confidence: sig.Primary.Score,
	}

	if s.history.Append(conversation.Entry{
		Role:    conversation.RoleUser,
		Content: text,
		Intent:  sig.Primary.Label.String(),
		TS:      now.UnixMilli(),
	}) {
		s.logger.Info("Compacted history into memory summary", zap.Int("kept", s.history.Len()))
	}

	s.profile = personality.UpdateFromInteraction(s.profile, topicWeights(sig.Weights), s.state.Personality, text, now)

	var retrieved []memory.VaultItem
	s.state.LastRetrievedIDs = nil
	if s.opts.UseVaultContext {
		for _, r := range s.engine.Retrieve(s.vaultIndex, text, sig) {
			item := s.engine.ApplyReference(r.Item)
			retrieved = append(retrieved, item)
			s.state.LastRetrievedIDs = append(s.state.LastRetrievedIDs, item.ID)
		}
		if len(retrieved) > 0 {
			s.vaultIndex = vault.Replace(s.vaultIndex, retrieved)
		}
	}

	s.persistLocked(ctx)
	s.turnState = StateThinking

	s.logger.Debug("Turn started",
		zap.Uint64("token", token),
		zap.String("intent", sig.Primary.Label.String()),
		zap.Bool("private", sig.IsPrivate),
		zap.Int("retrieved", len(retrieved)),
	)

	return begun{
		turn: turn{
			token:      token,
			ctx:        ctx,
			signal:     sig,
			lastIntent: previous,
			retrieved:  retrieved,
			start:      now,
		},
		cancel: cancel,
	}
}

func topicWeights(w intent.Weights) personality.TopicWeights {
	return personality.TopicWeights{
		MusicAudio:    w.Get(intent.MusicAudio),
		CodingDev:     w.Get(intent.CodingDev),
		Planning:      w.Get(intent.Planning),
		LegalBusiness: w.Get(intent.LegalBusiness),
		FileOps:       w.Get(intent.FileOps),
		MemoryRecall:  w.Get(intent.MemoryRecall),
	}
}

var errStale = errors.New("stale turn")

// run drives a begun turn to a result.
func (s *Session) run(t turn) (TurnResult, error) {
	res := TurnResult{Token: t.token}
	for _, item := range t.retrieved {
		res.Retrieved = append(res.Retrieved, item.ID)
	}

	text, err := s.loop(t, &res)
	switch {
	case err == nil:
		res.Text = text
		s.setState(t.token, StateDone)
		s.record(t, res, metrics.OutcomeDone, "")
		return res, nil
	case errors.Is(err, errStale) || apperr.Is(err, apperr.RequestCancelled):
		res.Cancelled = true
		s.record(t, res, metrics.OutcomeCancelled, "")
		s.logger.Debug("Stale turn discarded", zap.Uint64("token", t.token))
		return res, nil
	default:
		res.Error = apperr.UserMessage(err)
		res.ErrorKind = apperr.KindOf(err)
		s.setState(t.token, StateFailed)
		s.record(t, res, metrics.OutcomeFailed, string(res.ErrorKind))
		s.logger.Warn("Turn failed",
			zap.Uint64("token", t.token),
			zap.String("route", string(res.Route)),
			zap.Error(err),
		)
		return res, err
	}
}

func (s *Session) record(t turn, res TurnResult, outcome metrics.Outcome, kind string) {
	if s.recorder == nil {
		return
	}
	now := s.now()
	s.recorder.RecordTurn(metrics.Turn{
		Token:      t.token,
		Route:      string(res.Route),
		Model:      res.Model,
		ToolRounds: res.ToolRounds,
		Outcome:    outcome,
		ErrorKind:  kind,
		Duration:   now.Sub(t.start),
		FinishedAt: now,
	})
}

// checkLive returns errStale once the turn has been superseded.
func (s *Session) checkLive(t turn) error {
	if !s.isCurrent(t.token) || t.ctx.Err() != nil {
		return errStale
	}
	return nil
}

func (s *Session) loop(t turn, res *TurnResult) (string, error) {
	s.setState(t.token, StateRouteSelect)
	flags := s.routeFlags(t.ctx, t.signal, len(t.retrieved) > 0)
	if err := s.checkLive(t); err != nil {
		return "", err
	}

	decision := router.ChooseRoute(flags)
	res.Route = decision.Chosen
	res.Reason = decision.Reason
	s.logger.Debug("Route selected",
		zap.Uint64("token", t.token),
		zap.String("route", string(decision.Chosen)),
		zap.String("reason", decision.Reason),
	)
	if decision.Chosen == router.Blocked {
		return "", apperr.Newf(apperr.NoRouteAvailable, "no valid route available: %s", decision.Reason)
	}
	attempts := router.Attempts(decision, flags)

	model := s.opts.Model
	res.Model = model
	for round := 0; round < s.opts.MaxToolRounds; round++ {
		if err := s.checkLive(t); err != nil {
			return "", err
		}

		in, toolset := s.requestInput(t)
		s.setState(t.token, StateProviderCall)
		reply, used, err := s.callAttempts(t, attempts, model, buildMessages(in), toolset)
		if liveErr := s.checkLive(t); liveErr != nil {
			return "", liveErr
		}
		if apperr.Is(err, apperr.EmptyResponse) {
			reply, used, err = s.emptyFallback(t, attempts, buildMessages(in))
			if liveErr := s.checkLive(t); liveErr != nil {
				return "", liveErr
			}
		}
		if err != nil {
			return "", err
		}
		model = used
		res.Model = used

		if len(reply.ToolCalls) > 0 {
			if err := s.runTools(t, reply); err != nil {
				return "", err
			}
			res.ToolRounds++
			continue
		}

		final := strings.TrimSpace(reply.Text)
		if final == "" {
			return "", apperr.New(apperr.EmptyResponse, "received an empty assistant response")
		}

		s.mu.Lock()
		if s.token != t.token {
			s.mu.Unlock()
			return "", errStale
		}
		s.history.Append(conversation.Entry{
			Role:    conversation.RoleAssistant,
			Content: final,
			TS:      s.now().UnixMilli(),
		})
		s.saveHistoryLocked(t.ctx)
		s.saveStateLocked(t.ctx)
		s.mu.Unlock()
		return final, nil
	}

	return "", apperr.Newf(apperr.ToolRoundsExceeded, "stopped after %d tool-call rounds", s.opts.MaxToolRounds).
		WithUserMessage(fmt.Sprintf("Stopped after %d tool-call rounds", s.opts.MaxToolRounds))
}

func (s *Session) localToolsUsable() bool {
	return s.opts.LocalTools && !s.opts.Mobile
}

// requestInput snapshots the state a provider round needs.
func (s *Session) requestInput(t turn) (contextInput, []llm.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := contextInput{
		prompt: PromptInput{
			Style:      s.state.Style,
			Signal:     t.signal,
			LastIntent: t.lastIntent,
			Mobile:     s.opts.Mobile,
		},
		personality:        s.state.Personality,
		personalityEnabled: s.state.PersonalityEnabled,
		summary:            s.history.Summary(),
		retrieved:          t.retrieved,
		history:            s.history.Entries(),
	}

	var toolset []llm.Tool
	if s.localToolsUsable() && t.signal.WantsTools {
		toolset = s.tools.Definitions()
	}
	return in, toolset
}

func (s *Session) chatRequest(model string, msgs []llm.Message, toolset []llm.Tool) llm.ChatRequest {
	req := llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	}
	if len(toolset) > 0 {
		req.Tools = toolset
		req.ToolChoice = "auto"
	}
	return req
}

// callOnce sends one request and treats a reply without text or tool calls
// as an empty response.
func (s *Session) callOnce(ctx context.Context, route router.Route, req llm.ChatRequest) (llm.Assistant, error) {
	p, ok := s.providers[route]
	if !ok || p == nil {
		return llm.Assistant{}, apperr.Newf(apperr.ProviderError, "route %s is not configured", route).WithRoute(string(route))
	}
	reply, err := p.Chat(ctx, req)
	if err == nil && reply.IsEmpty() {
		err = apperr.Newf(apperr.EmptyResponse, "empty response payload from route %s", route).WithRoute(string(route))
	}
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.RecordProviderAttempt(string(route), result)
	return reply, err
}

// callAttempts walks the attempt list until one transport answers. A
// ModelNotFound switches to the fallback model for that attempt and the rest
// of the turn.
func (s *Session) callAttempts(t turn, attempts []router.Route, model string, msgs []llm.Message, toolset []llm.Tool) (llm.Assistant, string, error) {
	var lastErr error
	for _, route := range attempts {
		if err := s.checkLive(t); err != nil {
			return llm.Assistant{}, model, err
		}

		reply, err := s.callOnce(t.ctx, route, s.chatRequest(model, msgs, toolset))
		if apperr.Is(err, apperr.ModelNotFound) && model != s.opts.FallbackModel {
			s.logger.Info("Model not found, retrying with fallback",
				zap.String("route", string(route)),
				zap.String("model", model),
				zap.String("fallback", s.opts.FallbackModel),
			)
			model = s.opts.FallbackModel
			reply, err = s.callOnce(t.ctx, route, s.chatRequest(model, msgs, toolset))
		}
		if err == nil {
			s.logger.Debug("Chat attempt succeeded", zap.String("route", string(route)), zap.String("model", model))
			return reply, model, nil
		}
		if t.ctx.Err() != nil {
			return llm.Assistant{}, model, apperr.Wrap(t.ctx.Err(), apperr.RequestCancelled, "turn cancelled")
		}

		s.logger.Debug("Chat attempt failed", zap.String("route", string(route)), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.NoRouteAvailable, "no response from available routes")
	}
	return llm.Assistant{}, model, lastErr
}

// emptyFallback retries once with the fallback model on the first configured
// attempt transport, without tools.
func (s *Session) emptyFallback(t turn, attempts []router.Route, msgs []llm.Message) (llm.Assistant, string, error) {
	for _, route := range attempts {
		if _, ok := s.providers[route]; !ok {
			continue
		}
		s.logger.Info("Empty response, retrying with fallback model",
			zap.String("route", string(route)),
			zap.String("model", s.opts.FallbackModel),
		)
		reply, err := s.callOnce(t.ctx, route, s.chatRequest(s.opts.FallbackModel, msgs, nil))
		return reply, s.opts.FallbackModel, err
	}
	return llm.Assistant{}, s.opts.FallbackModel, apperr.New(apperr.EmptyResponse, "no transport for empty-response fallback")
}

// runTools executes each call in order and then appends the assistant
// tool-call entry with one tool entry per result. Nothing is appended when
// the turn goes stale during the round.
func (s *Session) runTools(t turn, reply llm.Assistant) error {
	if err := s.checkLive(t); err != nil {
		return err
	}

	round := make([]conversation.Entry, 0, len(reply.ToolCalls)+1)
	round = append(round, conversation.Entry{
		Role:      conversation.RoleAssistant,
		Content:   reply.Text,
		ToolCalls: reply.ToolCalls,
		TS:        s.now().UnixMilli(),
	})

	s.setState(t.token, StateToolExecution)
	for _, call := range reply.ToolCalls {
		if err := s.checkLive(t); err != nil {
			return err
		}
		out := s.executeTool(t, call)
		if err := s.checkLive(t); err != nil {
			return err
		}
		round = append(round, conversation.Entry{
			Role:       conversation.RoleTool,
			Content:    out,
			ToolCallID: call.ID,
			TS:         s.now().UnixMilli(),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != t.token {
		return errStale
	}
	for _, e := range round {
		s.history.Append(e)
	}
	s.saveHistoryLocked(t.ctx)
	return nil
}

// executeTool runs one call through the platform check, the confirmation
// gate and the registry. It always returns a JSON string.
func (s *Session) executeTool(t turn, call llm.ToolCall) string {
	name := call.Function.Name
	log := s.logger.With(zap.Uint64("token", t.token), zap.String("tool", name))
	log.Debug("Tool call", zap.String("arguments", call.Function.Arguments))

	if !s.localToolsUsable() {
		metrics.RecordToolCall(name, "unavailable")
		return toolsUnavailable
	}
	approved := s.confirm(t, call)
	if !s.isCurrent(t.token) {
		return ""
	}
	if !approved {
		metrics.RecordToolCall(name, "denied")
		log.Info("Tool call blocked by confirmation gate")
		return toolsDenied
	}

	out, err := s.tools.Execute(t.ctx, name, call.Function.Arguments)
	if err != nil {
		metrics.RecordToolCall(name, "error")
		log.Warn("Tool execution failed",
			zap.Error(apperr.Wrap(err, apperr.ToolExecutionError, fmt.Sprintf("tool %s failed", name))))
		return out
	}
	metrics.RecordToolCall(name, "ok")
	log.Debug("Tool result", zap.String("result", out))
	return out
}

// confirm asks the Confirmer once per token and remembers the answer.
func (s *Session) confirm(t turn, call llm.ToolCall) bool {
	s.mu.Lock()
	if s.gate.asked && s.gate.token == t.token {
		approved := s.gate.approved
		s.mu.Unlock()
		return approved
	}
	confirmer := s.confirmer
	s.mu.Unlock()

	approved := false
	if confirmer != nil {
		approved = confirmer.Confirm(t.ctx, ConfirmRequest{
			Token:     t.token,
			Tool:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == t.token {
		s.gate = gateDecision{token: t.token, approved: approved, asked: true}
	}
	return approved
}

// routeFlags gathers the router inputs, refreshing the local probe when the
// cached result is older than the probe TTL.
func (s *Session) routeFlags(ctx context.Context, sig intent.Signal, hasMemory bool) router.Flags {
	return router.Flags{
		LocalMode:          s.opts.LocalMode,
		LocalReachable:     s.localReachableCached(ctx),
		LegacyMode:         s.opts.LegacyMode,
		PreferLocalPrivate: s.opts.PreferLocalPrivate,
		AllowCloudPrivate:  s.opts.AllowCloudPrivate,
		HasCloudKey:        s.opts.HasCloudKey,
		IsPrivate:          sig.IsPrivate || hasMemory,
		WantsWebSearch:     sig.WantsWebSearch || s.opts.WebSearch,
	}
}

func (s *Session) localReachableCached(ctx context.Context) bool {
	if !s.opts.LocalMode || s.prober == nil {
		return false
	}

	s.mu.Lock()
	now := s.now()
	if !s.localChecked.IsZero() && now.Sub(s.localChecked) <= s.opts.ProbeTTL {
		reachable := s.localReachable
		s.mu.Unlock()
		return reachable
	}
	s.localChecked = now
	s.mu.Unlock()

	reachable, status := s.prober.Probe(ctx, s.opts.Model)
	s.logger.Debug("Local probe", zap.Bool("reachable", reachable), zap.Int("status", status))

	s.mu.Lock()
	s.localReachable = reachable
	s.mu.Unlock()
	return reachable
}

// ProbeLocal forces a fresh local probe.
func (s *Session) ProbeLocal(ctx context.Context) bool {
	s.mu.Lock()
	s.localChecked = time.Time{}
	s.mu.Unlock()
	return s.localReachableCached(ctx)
}

// Explain reports the route a text would take without running a turn.
func (s *Session) Explain(ctx context.Context, text string) (intent.Signal, router.Decision) {
	sig := intent.Detect(text)
	flags := s.routeFlags(ctx, sig, false)
	return sig, router.ChooseRoute(flags)
}
