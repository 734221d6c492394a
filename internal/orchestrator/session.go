package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/personality"
	"github.com/a-marczewski/aifred/internal/router"
	"github.com/a-marczewski/aifred/internal/tools"
	"github.com/a-marczewski/aifred/internal/vault"
)

// ErrItemNotFound is returned when a vault item id is unknown.
var ErrItemNotFound = errors.New("vault item not found")

// Dependencies are the collaborators of a Session. Providers, Store and
// Engine are required; the rest may be nil.
type Dependencies struct {
	Providers map[router.Route]ChatProvider
	Prober    LocalProber
	Store     Store
	Engine    *memory.Engine
	Vault     *vault.Vault
	Tools     *tools.Registry
	Confirmer Confirmer
	Recorder  TurnRecorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// Session owns all conversation state. Every mutation happens under mu and,
// during a turn, only after the turn's token has been checked.
type Session struct {
	mu sync.Mutex

	opts      Options
	providers map[router.Route]ChatProvider
	prober    LocalProber
	store     Store
	engine    *memory.Engine
	vault     *vault.Vault
	tools     *tools.Registry
	confirmer Confirmer
	recorder  TurnRecorder
	logger    *zap.Logger
	now       func() time.Time

	history    *conversation.History
	vaultIndex []memory.VaultItem
	profile    *personality.Profile
	state      conversation.SessionState

	token     uint64
	cancel    context.CancelFunc
	gate      gateDecision
	turnState State
	observers []Observer

	localReachable bool
	localChecked   time.Time
}

// New creates a session with empty state. Call Load to restore persisted
// state.
func New(deps Dependencies, opts Options) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if len(deps.Providers) == 0 {
		return nil, errors.New("orchestrator: at least one provider is required")
	}
	if deps.Engine == nil {
		deps.Engine = memory.NewEngine()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = deps.Engine.Now
	}

	opts = opts.withDefaults()
	s := &Session{
		opts:      opts,
		providers: deps.Providers,
		prober:    deps.Prober,
		store:     deps.Store,
		engine:    deps.Engine,
		vault:     deps.Vault,
		tools:     deps.Tools,
		confirmer: deps.Confirmer,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		now:       deps.Now,
		turnState: StateIdle,
	}
	if s.tools == nil {
		s.tools = tools.Default(&tools.FolderScanner{Ingester: s, Desktop: !opts.Mobile && deps.Vault != nil}, opts.Timezone)
	}

	now := s.now()
	s.history = conversation.NewHistory(nil, "", s.now)
	s.profile = personality.DefaultProfile(now, opts.Timezone)
	s.state = conversation.DefaultSessionState()
	return s, nil
}

// Load restores persisted state. Failures are logged and leave defaults.
func (s *Session) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	state := conversation.DefaultSessionState()
	if loaded, err := s.store.LoadSessionState(ctx); err != nil {
		s.logger.Warn("Failed to load session state", zap.Error(err))
	} else if loaded != nil {
		state = loaded.Sanitize()
	}
	s.state = state

	entries, err := s.store.LoadHistory(ctx)
	if err != nil {
		s.logger.Warn("Failed to load history", zap.Error(err))
	}
	s.history = conversation.NewHistory(entries, state.MemorySummary, s.now)

	items, err := s.store.LoadVaultIndex(ctx)
	if err != nil {
		s.logger.Warn("Failed to load vault index", zap.Error(err))
	}
	s.vaultIndex = vault.Sanitize(items, now)

	profile, err := s.store.LoadProfile(ctx)
	if err != nil {
		s.logger.Warn("Failed to load profile", zap.Error(err))
	}
	s.profile = personality.SanitizeProfile(profile, now, s.opts.Timezone)

	s.logger.Debug("Session loaded",
		zap.Int("history", s.history.Len()),
		zap.Int("vault_items", len(s.vaultIndex)),
	)
}

// Options returns the session options.
func (s *Session) Options() Options {
	return s.opts
}

// Subscribe registers an observer of turn state transitions.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// State returns the state of the latest turn.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnState
}

// Token returns the live request token.
func (s *Session) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) setState(token uint64, st State) {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		return
	}
	s.turnState = st
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o(token, st)
	}
}

// History returns a copy of the conversation entries.
func (s *Session) History() []conversation.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// MemorySummary returns the rolling summary of compacted history.
func (s *Session) MemorySummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Summary()
}

// SessionState returns a copy of the persisted session state.
func (s *Session) SessionState() conversation.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotStateLocked()
}

// Profile returns a copy of the user profile.
func (s *Session) Profile() personality.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *personality.SanitizeProfile(s.profile, s.now(), s.opts.Timezone)
}

// ResetProfile replaces the profile with a fresh one.
func (s *Session) ResetProfile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = personality.DefaultProfile(s.now(), s.opts.Timezone)
	s.saveProfileLocked(ctx)
}

// ResetPersonality restores the default personality vector.
func (s *Session) ResetPersonality(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Personality = personality.Reset()
	s.saveStateLocked(ctx)
}

// SetPersonalityEnabled turns adaptive personality on or off.
func (s *Session) SetPersonalityEnabled(ctx context.Context, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PersonalityEnabled = enabled
	s.saveStateLocked(ctx)
}

// ClearHistory drops the conversation and its summary and cancels any turn.
func (s *Session) ClearHistory(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpLocked()
	s.history.Clear()
	s.state.LastRetrievedIDs = nil
	s.saveHistoryLocked(ctx)
	s.saveStateLocked(ctx)
}

func (s *Session) snapshotStateLocked() conversation.SessionState {
	st := s.state
	st.MemorySummary = s.history.Summary()
	st.LastRetrievedIDs = append([]string(nil), s.state.LastRetrievedIDs...)
	if s.state.LastIntent != nil {
		li := *s.state.LastIntent
		st.LastIntent = &li
	}
	return st
}

func (s *Session) saveHistoryLocked(ctx context.Context) {
	if err := s.store.SaveHistory(ctx, s.history.Entries()); err != nil {
		s.logger.Warn("Failed to save history", zap.Error(err))
	}
}

func (s *Session) saveStateLocked(ctx context.Context) {
	if err := s.store.SaveSessionState(ctx, s.snapshotStateLocked()); err != nil {
		s.logger.Warn("Failed to save session state", zap.Error(err))
	}
}

func (s *Session) saveVaultLocked(ctx context.Context) {
	if err := s.store.SaveVaultIndex(ctx, s.vaultIndex); err != nil {
		s.logger.Warn("Failed to save vault index", zap.Error(err))
	}
}

func (s *Session) saveProfileLocked(ctx context.Context) {
	if err := s.store.SaveProfile(ctx, s.profile); err != nil {
		s.logger.Warn("Failed to save profile", zap.Error(err))
	}
}

func (s *Session) persistLocked(ctx context.Context) {
	s.saveHistoryLocked(ctx)
	s.saveStateLocked(ctx)
	s.saveVaultLocked(ctx)
	s.saveProfileLocked(ctx)
}

// VaultItems returns a copy of the vault index.
func (s *Session) VaultItems() []memory.VaultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.VaultItem, len(s.vaultIndex))
	for i, item := range s.vaultIndex {
		out[i] = item.Clone()
	}
	return out
}

// SearchVault returns visible items matching every query token, best first.
func (s *Session) SearchVault(query string) []memory.VaultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	intentName := ""
	if s.state.LastIntent != nil {
		intentName = s.state.LastIntent.Name
	}
	return s.engine.Search(s.vaultIndex, query, intentName)
}

// IngestPaths stores files in the vault and merges them into the index.
func (s *Session) IngestPaths(ctx context.Context, paths []string) ([]memory.VaultItem, error) {
	return s.IngestFiles(ctx, paths, "scan_folder")
}

// IngestFiles is IngestPaths with an explicit source label.
func (s *Session) IngestFiles(ctx context.Context, paths []string, source string) ([]memory.VaultItem, error) {
	if s.vault == nil {
		return nil, errors.New("memory vault is not configured")
	}

	s.mu.Lock()
	existing := make([]memory.VaultItem, len(s.vaultIndex))
	copy(existing, s.vaultIndex)
	s.mu.Unlock()

	items, err := s.vault.Ingest(ctx, paths, existing, source)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaultIndex = vault.Merge(s.vaultIndex, items, s.now())
	s.saveVaultLocked(ctx)
	s.logger.Info("Ingested files into vault", zap.Int("count", len(items)), zap.String("source", source))
	return items, nil
}

// UpdateVaultItem applies fn to the item with id, rescores and persists it.
func (s *Session) UpdateVaultItem(ctx context.Context, id string, fn func(*memory.VaultItem)) (memory.VaultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.vaultIndex {
		if s.vaultIndex[i].ID != id {
			continue
		}
		next := s.vaultIndex[i].Clone()
		fn(&next)
		next.UpdatedAt = s.now()
		next.Score = s.engine.ComputeScore(next, "")
		s.vaultIndex[i] = next
		s.saveVaultLocked(ctx)
		return next.Clone(), nil
	}
	return memory.VaultItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// SetPinned pins or unpins an item.
func (s *Session) SetPinned(ctx context.Context, id string, pinned bool) (memory.VaultItem, error) {
	return s.UpdateVaultItem(ctx, id, func(item *memory.VaultItem) { item.Pinned = pinned })
}

// SetHidden hides an item from retrieval or shows it again.
func (s *Session) SetHidden(ctx context.Context, id string, hidden bool) (memory.VaultItem, error) {
	return s.UpdateVaultItem(ctx, id, func(item *memory.VaultItem) { item.Hidden = hidden })
}

// Forget marks an item as explicitly forgotten. Forgotten items are hidden.
func (s *Session) Forget(ctx context.Context, id string) (memory.VaultItem, error) {
	return s.UpdateVaultItem(ctx, id, func(item *memory.VaultItem) {
		item.Forget = true
		item.Hidden = true
	})
}
