package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/config"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/orchestrator"
	"github.com/a-marczewski/aifred/internal/router"
	"github.com/a-marczewski/aifred/internal/storage"
	"github.com/a-marczewski/aifred/internal/vault"
	"github.com/a-marczewski/aifred/internal/verify"
)

// CoreModule holds the core application components
type CoreModule struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *storage.DB
}

// TransportModule holds the HTTP client and one provider per route.
type TransportModule struct {
	Client    *llm.Client
	Providers map[router.Route]*llm.Provider
}

// App holds the wired components of a running AIFRED instance.
type App struct {
	Core      CoreModule
	Transport TransportModule
	Session   *orchestrator.Session
	Vault     *vault.Vault
	Verifier  *verify.Verifier
	Metrics   *metrics.Writer
	Ctx       context.Context
	Cancel    context.CancelFunc
}
