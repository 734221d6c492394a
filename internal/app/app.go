package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/config"
	"github.com/a-marczewski/aifred/internal/doctor"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/logging"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/orchestrator"
	"github.com/a-marczewski/aifred/internal/router"
	"github.com/a-marczewski/aifred/internal/storage"
	"github.com/a-marczewski/aifred/internal/vault"
	"github.com/a-marczewski/aifred/internal/verify"
)

// NewApp loads configuration from the project root and wires the application.
func NewApp(confirmer orchestrator.Confirmer) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := New(cfg, logger, confirmer)
	if err != nil {
		logger.Error("Failed to initialize application", zap.Error(err))
		_ = logging.Sync(logger)
		return nil, err
	}
	return a, nil
}

// New wires an application from an already loaded configuration. A nil
// confirmer falls back to the configured auto-approve policy.
func New(cfg *config.Config, logger *zap.Logger, confirmer orchestrator.Confirmer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client := llm.NewClient(llm.ClientOptions{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger.Named("llm"),
	})
	providers := buildProviders(cfg, client)

	chatProviders := make(map[router.Route]orchestrator.ChatProvider, len(providers))
	for route, p := range providers {
		chatProviders[route] = p
	}

	engine := memory.NewEngine()

	var summarizer vault.Summarizer = vault.BaseSummarizer{}
	if cfg.SummarizeFiles {
		summarizer = vault.ChatSummarizer{Client: primaryProvider(cfg, providers), Model: cfg.Model}
	}
	v := vault.New(cfg.VaultDir, summarizer, engine, logger.Named("vault"))

	writer := metrics.NewWriter(db, logger.Named("metrics"))

	if confirmer == nil {
		confirmer = orchestrator.AutoConfirm(cfg.ToolsAutoApprove)
	}

	var prober orchestrator.LocalProber
	if local, ok := providers[router.Local]; ok {
		prober = local
	}

	session, err := orchestrator.New(orchestrator.Dependencies{
		Providers: chatProviders,
		Prober:    prober,
		Store:     db,
		Engine:    engine,
		Vault:     v,
		Confirmer: confirmer,
		Recorder:  writer,
		Logger:    logger.Named("session"),
	}, SessionOptions(cfg))
	if err != nil {
		writer.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	verifier := verify.NewVerifier(primaryProvider(cfg, providers), verify.Options{
		Concurrency:  cfg.VerifyConcurrency,
		Timeout:      cfg.VerifyTimeout(),
		DefaultModel: cfg.FallbackModel,
	}, logger.Named("verify"))

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.ContextWithLogger(ctx, logger)
	ctx = config.WithConfig(ctx, cfg)

	session.Load(ctx)

	return &App{
		Core: CoreModule{
			Config: cfg,
			Logger: logger,
			DB:     db,
		},
		Transport: TransportModule{
			Client:    client,
			Providers: providers,
		},
		Session:  session,
		Vault:    v,
		Verifier: verifier,
		Metrics:  writer,
		Ctx:      ctx,
		Cancel:   cancel,
	}, nil
}

func buildProviders(cfg *config.Config, client *llm.Client) map[router.Route]*llm.Provider {
	providers := make(map[router.Route]*llm.Provider, 3)
	if cfg.CloudChatEndpoint != "" {
		providers[router.Cloud] = llm.NewProvider(llm.ProviderConfig{
			Route:          router.Cloud.String(),
			ChatEndpoint:   cfg.CloudChatEndpoint,
			ModelsEndpoint: cfg.CloudModelsEndpoint,
			APIKey:         cfg.CloudAPIKey,
			RequireKey:     true,
		}, client)
	}
	if cfg.LegacyChatEndpoint != "" {
		providers[router.Legacy] = llm.NewProvider(llm.ProviderConfig{
			Route:          router.Legacy.String(),
			ChatEndpoint:   cfg.LegacyChatEndpoint,
			ModelsEndpoint: cfg.LegacyModelsEndpoint,
		}, client)
	}
	if cfg.LocalChatEndpoint != "" {
		providers[router.Local] = llm.NewProvider(llm.ProviderConfig{
			Route:          router.Local.String(),
			ChatEndpoint:   cfg.LocalChatEndpoint,
			ModelsEndpoint: cfg.LocalModelsEndpoint,
		}, client)
	}
	return providers
}

// primaryProvider is the transport used outside turns: model listing, canary
// probes and file summaries. It is the cloud when a key is configured and the
// legacy transport otherwise.
func primaryProvider(cfg *config.Config, providers map[router.Route]*llm.Provider) *llm.Provider {
	if p, ok := providers[router.Cloud]; ok && cfg.HasCloudKey() {
		return p
	}
	if p, ok := providers[router.Legacy]; ok {
		return p
	}
	if p, ok := providers[router.Local]; ok {
		return p
	}
	return providers[router.Cloud]
}

// SessionOptions maps configuration onto session options.
func SessionOptions(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		Model:              cfg.Model,
		FallbackModel:      cfg.FallbackModel,
		Temperature:        cfg.Temperature,
		MaxTokens:          cfg.MaxTokens,
		MaxToolRounds:      cfg.MaxToolRounds,
		LocalMode:          cfg.LocalMode,
		LegacyMode:         cfg.LegacyMode,
		PreferLocalPrivate: cfg.PreferLocalPrivate,
		AllowCloudPrivate:  cfg.AllowCloudPrivate,
		HasCloudKey:        cfg.HasCloudKey(),
		WebSearch:          cfg.WebSearch,
		UseVaultContext:    cfg.UseVaultContext,
		LocalTools:         cfg.LocalTools,
		Mobile:             cfg.Mobile,
		Timezone:           cfg.Timezone,
		ProbeTTL:           cfg.ProbeTTL(),
	}
}

// RefreshModels lists the primary transport's models and returns the ones
// that pass the canary probe.
func (a *App) RefreshModels(ctx context.Context) []string {
	return a.Verifier.Refresh(ctx, primaryProvider(a.Core.Config, a.Transport.Providers))
}

// ListModels returns the primary transport's model ids without probing them.
func (a *App) ListModels(ctx context.Context) ([]string, error) {
	return primaryProvider(a.Core.Config, a.Transport.Providers).ListModels(ctx)
}

// Doctor builds a diagnostic runner over the wired components.
func (a *App) Doctor() *doctor.Runner {
	transports := make(map[string]doctor.ModelLister, len(a.Transport.Providers))
	for route, p := range a.Transport.Providers {
		if route == router.Cloud && !a.Core.Config.HasCloudKey() {
			continue
		}
		transports[route.String()] = p
	}
	return doctor.NewRunner(a.Core.Config, a.Core.DB, transports)
}

// Close gracefully shuts down the application resources.
func (a *App) Close() {
	if a.Cancel != nil {
		a.Cancel()
	}
	if a.Session != nil {
		a.Session.Cancel()
	}
	if a.Metrics != nil {
		a.Metrics.Close()
	}

	if a.Core.DB != nil {
		if err := a.Core.DB.Close(); err != nil {
			a.Core.Logger.Error("Failed to close database connection", zap.Error(err))
		} else {
			a.Core.Logger.Debug("Database connection closed.")
		}
	}
	if err := logging.Sync(a.Core.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
	}
}

// ContextWithLogger returns a new context with the application's logger.
func (a *App) ContextWithLogger(ctx context.Context) context.Context {
	return logging.ContextWithLogger(ctx, a.Core.Logger)
}

// LoggerFromContext retrieves the logger from the given context, or returns the default app logger.
func (a *App) LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := logging.LoggerFromContext(ctx); ok {
		return logger
	}
	return a.Core.Logger
}

// TurnStats aggregates recorded turns since the given time.
func (a *App) TurnStats(ctx context.Context, since time.Time) (storage.TurnStats, error) {
	return a.Core.DB.TurnStats(ctx, since)
}

// Diagnose runs every diagnostic check.
func (a *App) Diagnose(ctx context.Context) *doctor.Diagnostics {
	return a.Doctor().RunAll(ctx)
}
