package verify

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a-marczewski/aifred/internal/llm"
)

const (
	DefaultConcurrency = 3
	DefaultTimeout     = 12 * time.Second
	DefaultModel       = "gpt-4o-mini"

	canarySystem = "Reply with exactly: OK"
	canaryPrompt = "Reply with: OK"
)

// FallbackModels is used when the provider's model listing is unavailable.
var FallbackModels = []string{"openai-large", "openai-fast", "mistral", "llama", "qwen-coder"}

// ChatClient is the transport used for canary probes (for testing)
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.Assistant, error)
}

// ModelLister lists the models a provider offers.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Options configures a Verifier.
type Options struct {
	Concurrency  int
	Timeout      time.Duration
	DefaultModel string
}

// Verifier filters candidate model ids down to those that answer a canary
// prompt.
type Verifier struct {
	client ChatClient
	opts   Options
	stats  *StatsTracker
	logger *zap.Logger
}

// NewVerifier creates a verifier probing through client.
func NewVerifier(client ChatClient, opts Options, logger *zap.Logger) *Verifier {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		client: client,
		opts:   opts,
		stats:  NewStatsTracker(),
		logger: logger,
	}
}

// Verify returns the sorted, de-duplicated ids that pass the canary. With at
// most one distinct candidate nothing is probed and the candidates are
// returned as they are.
func (v *Verifier) Verify(ctx context.Context, candidates []string) []string {
	unique := dedupe(candidates)
	if len(unique) <= 1 {
		return unique
	}

	v.logger.Info("verifying models", zap.Int("count", len(unique)))

	passed := make([]bool, len(unique))
	var cursor atomic.Int64

	workers := v.opts.Concurrency
	if workers > len(unique) {
		workers = len(unique)
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= len(unique) {
					return nil
				}
				passed[idx] = v.probe(ctx, unique[idx])
			}
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(unique))
	for i, ok := range passed {
		if ok {
			out = append(out, unique[i])
		}
	}
	sort.Strings(out)

	v.logger.Info("verified models", zap.Int("passed", len(out)), zap.Int("count", len(unique)))
	return out
}

func (v *Verifier) probe(ctx context.Context, model string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	resp, err := v.client.Chat(probeCtx, llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: "system", Content: canarySystem},
			{Role: "user", Content: canaryPrompt},
		},
	})
	if err != nil {
		v.logger.Warn("model rejected", zap.String("model", model), zap.Error(err))
		v.stats.RecordProbe(false, true)
		return false
	}

	ok := strings.Contains(strings.ToLower(strings.TrimSpace(resp.Text)), "ok")
	if !ok {
		v.logger.Warn("model failed canary", zap.String("model", model), zap.String("reply", truncate(resp.Text, 80)))
	}
	v.stats.RecordProbe(ok, false)
	return ok
}

// Refresh lists the provider's models, verifies them, and returns the working
// set. It never returns an empty list.
func (v *Verifier) Refresh(ctx context.Context, lister ModelLister) []string {
	models, err := lister.ListModels(ctx)
	if err != nil || len(models) == 0 {
		v.logger.Warn("model fetch failed, using fallback list", zap.Error(err))
		models = append([]string{v.opts.DefaultModel}, FallbackModels...)
	}

	verified := v.Verify(ctx, models)
	if len(verified) == 0 {
		return []string{v.opts.DefaultModel}
	}
	return verified
}

// GetStats returns probe statistics.
func (v *Verifier) GetStats() Stats {
	return v.stats.GetStats()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
